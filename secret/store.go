package secret

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store resolves a credential field to its current real value.
type Store interface {
	Resolve(ctx context.Context, field string) (string, error)
}

// EnvPrefix is the environment variable prefix read by EnvStore.
const EnvPrefix = "KBPIPE_SECRET_"

// EnvStore resolves fields from environment variables.
// Field "embedding.api_key" is read from KBPIPE_SECRET_EMBEDDING_API_KEY.
type EnvStore struct {
	Prefix string
}

// EnvName returns the variable name that holds field.
func (s EnvStore) EnvName(field string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, field)
	return prefix + name
}

func (s EnvStore) Resolve(_ context.Context, field string) (string, error) {
	v, ok := os.LookupEnv(s.EnvName(field))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, field)
	}
	return v, nil
}

// MapStore resolves fields from a fixed map.
type MapStore map[string]string

func (s MapStore) Resolve(_ context.Context, field string) (string, error) {
	v, ok := s[field]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, field)
	}
	return v, nil
}

// LoadFileStore reads a YAML file mapping field names to values.
func LoadFileStore(path string) (MapStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets %s: %w", path, err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse secrets %s: %w", path, err)
	}
	return MapStore(values), nil
}

// ChainStore tries each store in order and returns the first value found.
type ChainStore []Store

func (c ChainStore) Resolve(ctx context.Context, field string) (string, error) {
	for _, s := range c {
		v, err := s.Resolve(ctx, field)
		if err == nil {
			return v, nil
		}
		if !isNotFound(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, field)
}
