package secret

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Placeholders the index service substitutes for sensitive fields on read.
var maskPlaceholders = []string{"<redacted>", "<masked>", "********", "***"}

// sensitiveSuffixes identify fields the index service masks.
var sensitiveSuffixes = []string{"key", "secret", "token", "password", "connection_string"}

// Value is a credential field that is either a real value or a masked placeholder.
type Value struct {
	value  string
	masked bool
}

// Real wraps a real credential value.
func Real(v string) Value {
	return Value{value: v}
}

// Masked returns the placeholder for a value that is not known.
func Masked() Value {
	return Value{masked: true}
}

// Parse interprets a raw field as returned by the index service. Known mask
// placeholders and empty sensitive fields become Masked.
func Parse(field, raw string) Value {
	if slices.Contains(maskPlaceholders, raw) || (raw == "" && Sensitive(field)) {
		return Masked()
	}
	return Real(raw)
}

// IsPlaceholder reports whether raw is what the index service returns in
// place of a real value for field.
func IsPlaceholder(field, raw string) bool {
	return Parse(field, raw).IsMasked()
}

// Sensitive reports whether the index service masks the named field.
func Sensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// IsMasked reports whether v is a placeholder.
func (v Value) IsMasked() bool {
	return v.masked
}

// Reveal returns the real value. Masked values return ErrMaskedValue.
func (v Value) Reveal() (string, error) {
	if v.masked {
		return "", ErrMaskedValue
	}
	return v.value, nil
}

// String never prints the underlying value.
func (v Value) String() string {
	if v.masked {
		return "<masked>"
	}
	return "<redacted>"
}

// LogValue implements slog.LogValuer.
func (v Value) LogValue() slog.Value {
	return slog.StringValue(v.String())
}

// MarshalJSON refuses masked values so they cannot reach a write path.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.masked {
		return nil, ErrMaskedValue
	}
	return json.Marshal(v.value)
}

// Bundle is a set of credential fields by name.
type Bundle map[string]Value

// Masked returns the sorted names of masked fields.
func (b Bundle) Masked() []string {
	var fields []string
	for field, v := range b {
		if v.IsMasked() {
			fields = append(fields, field)
		}
	}
	slices.Sort(fields)
	return fields
}

// Fields returns the sorted field names.
func (b Bundle) Fields() []string {
	fields := make([]string, 0, len(b))
	for field := range b {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	return fields
}

// Clone returns a shallow copy of b.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Sealed is a bundle proven to contain no masked values. It can only be built by Seal.
type Sealed struct {
	fields map[string]string
}

// Seal converts b into a writable bundle, failing if any field is masked or
// holds a real value that reads as a mask placeholder.
func Seal(b Bundle) (*Sealed, error) {
	var masked []string
	for _, field := range b.Fields() {
		if v := b[field]; v.masked || IsPlaceholder(field, v.value) {
			masked = append(masked, field)
		}
	}
	if len(masked) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMaskedValue, strings.Join(masked, ", "))
	}
	fields := make(map[string]string, len(b))
	for field, v := range b {
		fields[field] = v.value
	}
	return &Sealed{fields: fields}, nil
}

// Fields returns a copy of the sealed values for writing.
func (s *Sealed) Fields() map[string]string {
	out := make(map[string]string, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// Len returns the number of fields.
func (s *Sealed) Len() int {
	return len(s.fields)
}
