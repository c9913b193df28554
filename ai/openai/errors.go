package openai

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	openaisdk "github.com/openai/openai-go"
	"github.com/poiesic/kbpipe/core"
)

// ErrEmptyResponse indicates the model returned no usable content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// langchaingo reports HTTP failures only in the error text
var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// classify marks err transient or permanent from the HTTP status it carries.
// Errors without a status keep core.Classify semantics.
func classify(err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	} else if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	if status == 0 {
		if core.IsTransient(err) {
			return core.Transient(err)
		}
		return err
	}
	if core.ClassifyHTTPStatus(status) == core.ErrorClassTransient {
		return core.Transient(fmt.Errorf("status %d: %w", status, err))
	}
	return core.Permanent(fmt.Errorf("status %d: %w", status, err))
}
