package secret

import "errors"

var (
	// ErrMaskedValue indicates an attempt to reveal or serialize a masked value.
	ErrMaskedValue = errors.New("masked secret value")

	// ErrSecretNotFound indicates the secret store has no value for a field.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrPlaceholderValue indicates the secret store returned a mask placeholder
	// instead of a real value.
	ErrPlaceholderValue = errors.New("secret store returned a placeholder")

	// ErrUnresolved indicates a save was refused because masked fields remained.
	ErrUnresolved = errors.New("unresolved masked credentials")
)
