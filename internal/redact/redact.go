// Package redact masks secret-typed values so they never reach logs,
// error messages, or string representations. It is the concrete
// implementation of the configuration registry's "secrets must not be
// logged or printed" invariant.
package redact

const Mask = "***REDACTED***"

// Secret wraps a plaintext value so that String(), formatting via
// %v/%s, and JSON marshaling yield the mask for any non-empty value (an
// empty secret renders as ""). Only Reveal returns the plaintext.
type Secret struct {
	value string
}

func NewSecret(value string) Secret {
	return Secret{value: value}
}

// String implements fmt.Stringer; used implicitly by %v/%s and any
// logger that calls String() on a field value.
func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return Mask
}

// GoString implements fmt.GoStringer so that %#v (used by some test
// assertion libraries) does not leak the plaintext either.
func (s Secret) GoString() string {
	return s.String()
}

// MarshalJSON ensures secrets serialize as the mask, not the plaintext,
// if a configuration block is ever dumped as JSON for diagnostics.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Reveal returns the plaintext value. Callers must use the result only
// to build an Authorization header or equivalent, never to log it.
func (s Secret) Reveal() string {
	return s.value
}

// IsEmpty reports whether the underlying value is unset.
func (s Secret) IsEmpty() bool {
	return s.value == ""
}
