package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbpipe/secret"
	"github.com/poiesic/kbpipe/storage"
)

// ConfigRepository implements storage.ConfigRepository for BadgerDB.
// It mirrors the index service contract: sensitive fields are stored in full
// but returned masked.
type ConfigRepository struct {
	backend *Backend
}

var (
	_ storage.ConfigRepository = (*ConfigRepository)(nil)
	_ secret.Target            = (*ConfigRepository)(nil)
)

// NewConfigRepository creates a new ConfigRepository.
func NewConfigRepository(backend *Backend) *ConfigRepository {
	return &ConfigRepository{backend: backend}
}

// LoadCredentials returns the stored bundle with sensitive fields masked.
// A definition without stored credentials yields an empty bundle.
func (r *ConfigRepository) LoadCredentials(ctx context.Context, definition string) (secret.Bundle, error) {
	var fields map[string]string
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		fields, err = getValue(tx, makeCredentialsKey(definition), storage.UnmarshalStrings)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	bundle := make(secret.Bundle, len(fields))
	for field, value := range fields {
		if secret.Sensitive(field) {
			bundle[field] = secret.Masked()
		} else {
			bundle[field] = secret.Real(value)
		}
	}
	return bundle, nil
}

// SaveCredentials replaces the stored bundle.
func (r *ConfigRepository) SaveCredentials(ctx context.Context, definition string, sealed *secret.Sealed) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeCredentialsKey(definition), storage.MarshalStrings(sealed.Fields()))
	})
}
