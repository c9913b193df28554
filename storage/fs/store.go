// Package fs serves corpus items from a local directory tree.
//
// Item IDs are slash-separated paths relative to the root. A file
// "<name>.meta.yaml" next to an item supplies its source metadata, for
// example the video_url of a transcript.
package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
	"gopkg.in/yaml.v3"
)

// MetadataSuffix names the sidecar file holding an item's metadata.
const MetadataSuffix = ".meta.yaml"

// Store is a read-only storage.ObjectStore over a directory.
type Store struct {
	root   string
	logger *slog.Logger
}

var _ storage.ObjectStore = (*Store)(nil)

// New returns a Store rooted at dir. The directory must exist.
func New(dir string) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open root %s: not a directory", dir)
	}
	return &Store{
		root:   root,
		logger: slog.Default().With("component", "fs-store"),
	}, nil
}

// List walks the tree and returns supported items under prefix, after the cursor.
func (s *Store) List(ctx context.Context, prefix string, after core.Cursor) ([]*core.CorpusItem, error) {
	start := s.root
	if dir := path.Dir(prefix); prefix != "" && dir != "." {
		start = filepath.Join(s.root, filepath.FromSlash(dir))
	}

	var items []*core.CorpusItem
	err := filepath.WalkDir(start, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) && p == start {
				return iofs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != start && strings.HasPrefix(d.Name(), ".") {
				return iofs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		if !strings.HasPrefix(id, prefix) {
			return nil
		}
		contentType, mimeType, ok := core.ContentTypeFromName(id)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		metadata, err := s.metadata(p)
		if err != nil {
			s.logger.Warn("ignoring unreadable metadata", "item", id, "error", err)
		}
		items = append(items, &core.CorpusItem{
			ID:          id,
			Source:      p,
			ContentType: contentType,
			MimeType:    mimeType,
			ModifiedAt:  info.ModTime().UTC(),
			Size:        info.Size(),
			Metadata:    metadata,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return storage.SortItemsAfter(items, after), nil
}

// Fetch reads an item. IDs that escape the root are reported as not found.
func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := s.resolve(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return data, nil
}

func (s *Store) resolve(id string) (string, bool) {
	clean := path.Clean("/" + id)
	if clean == "/" || clean[1:] != strings.TrimPrefix(id, "./") {
		return "", false
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), true
}

func (s *Store) metadata(p string) (map[string]string, error) {
	data, err := os.ReadFile(p + MetadataSuffix)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
