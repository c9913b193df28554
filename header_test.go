package kbpipe

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLicenseHeaderSpacing(t *testing.T) {
	const end = "// limitations under the License.\n"
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != "." && (strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		text := string(data)
		if i := strings.Index(text, end); i >= 0 {
			rest := text[i+len(end):]
			assert.True(t, strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\n\n"),
				"%s: header must be followed by exactly one blank line", path)
		}
		return nil
	})
	require.NoError(t, err)
}
