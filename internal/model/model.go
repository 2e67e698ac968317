// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the plain data types shared by the signer: request
// kinds, inbound requests, application records with their permission grants
// and the audit history.
package model

import (
	"fmt"
	"strings"
)

// SignerType identifies the operation a requester asks the signer to perform.
type SignerType int

const (
	SignEvent SignerType = iota + 1
	SignMessage
	NIP04Encrypt
	NIP04Decrypt
	NIP44Encrypt
	NIP44Decrypt
	DecryptZapEvent
	Connect
	GetPublicKey
)

var signerTypeNames = map[SignerType]string{
	SignEvent:       "sign_event",
	SignMessage:     "sign_message",
	NIP04Encrypt:    "nip04_encrypt",
	NIP04Decrypt:    "nip04_decrypt",
	NIP44Encrypt:    "nip44_encrypt",
	NIP44Decrypt:    "nip44_decrypt",
	DecryptZapEvent: "decrypt_zap_event",
	Connect:         "connect",
	GetPublicKey:    "get_public_key",
}

// AllSignerTypes lists every operation in declaration order.
func AllSignerTypes() []SignerType {
	return []SignerType{SignEvent, SignMessage, NIP04Encrypt, NIP04Decrypt, NIP44Encrypt, NIP44Decrypt, DecryptZapEvent, Connect, GetPublicKey}
}

// String returns the persisted permission name (e.g. "sign_event").
func (t SignerType) String() string {
	if n, ok := signerTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// IsCrypto reports whether the operation goes through the encryption schemes.
func (t SignerType) IsCrypto() bool {
	switch t {
	case NIP04Encrypt, NIP04Decrypt, NIP44Encrypt, NIP44Decrypt, DecryptZapEvent:
		return true
	}
	return false
}

// ParseSignerType accepts the persisted names as well as the upper-case
// intent spelling ("SIGN_EVENT") used by local callers.
func ParseSignerType(s string) (SignerType, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for t, name := range signerTypeNames {
		if name == n {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown signer type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t SignerType) MarshalText() ([]byte, error) {
	if _, ok := signerTypeNames[t]; !ok {
		return nil, fmt.Errorf("unknown signer type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SignerType) UnmarshalText(b []byte) error {
	v, err := ParseSignerType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ShortenHex collapses long identifiers for display ("npub1abc:wxyz1234").
func ShortenHex(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + ":" + s[len(s)-8:]
}
