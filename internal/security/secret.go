// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package security holds the redacting wrapper used for private key scalars
// and passphrases so that log lines, errors and JSON never carry them.
package security

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

const redacted = "[SECRET]"

// Secret is a byte slice holding sensitive material (private keys,
// passphrases). Every formatting path prints a placeholder.
type Secret []byte

// String redacts the secret for fmt.Print* convenience.
func (s Secret) String() string { return redacted }

// GoString redacts %#v.
func (s Secret) GoString() string { return redacted }

// Format implements fmt.Formatter so that every verb is redacted.
func (s Secret) Format(f fmt.State, c rune) {
	_, _ = io.WriteString(f, redacted)
}

// Hex returns the lower-case hex encoding. The result is as sensitive as the
// secret itself and must not be logged.
func (s Secret) Hex() string { return hex.EncodeToString(s) }

// Len returns the secret length without exposing its content.
func (s Secret) Len() int { return len(s) }

// Zero overwrites the underlying byte slice with zeros.
func (s *Secret) Zero() {
	if s == nil || *s == nil {
		return
	}
	for i := range *s {
		(*s)[i] = 0
	}
}

// MarshalJSON redacts secrets in JSON marshaling.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText redacts secrets for text encoding.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// FromString creates a Secret from a string input.
func FromString(in string) Secret { return Secret([]byte(in)) }

// FromBytes creates a Secret from bytes (it makes a copy).
func FromBytes(in []byte) Secret {
	out := make([]byte, len(in))
	copy(out, in)
	return Secret(out)
}

// FromHex decodes a hex string into a Secret. The error never echoes the input.
func FromHex(in string) (Secret, error) {
	b, err := hex.DecodeString(in)
	if err != nil {
		return nil, fmt.Errorf("secret is not valid hex (length %d)", len(in))
	}
	return Secret(b), nil
}
