// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package nipcrypto

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
)

func sharedSecret(kp *keys.KeyPair, counterpart string) ([]byte, error) {
	pub, err := keys.NormalizePubKey(counterpart)
	if err != nil {
		return nil, err
	}
	s, err := nip04.ComputeSharedSecret(pub, kp.Private.Hex())
	if err != nil {
		return nil, fmt.Errorf("shared secret with %s: %w", model.ShortenHex(pub), keys.ErrInvalidKey)
	}
	return s, nil
}

func conversationKey(kp *keys.KeyPair, counterpart string) ([32]byte, error) {
	pub, err := keys.NormalizePubKey(counterpart)
	if err != nil {
		return [32]byte{}, err
	}
	ck, err := nip44.GenerateConversationKey(pub, kp.Private.Hex())
	if err != nil {
		return [32]byte{}, fmt.Errorf("conversation key with %s: %w", model.ShortenHex(pub), keys.ErrInvalidKey)
	}
	return ck, nil
}

// EncryptNIP04 returns "base64(ct)?iv=base64(iv)".
func EncryptNIP04(plaintext string, kp *keys.KeyPair, counterpart string) (string, error) {
	key, err := sharedSecret(kp, counterpart)
	if err != nil {
		return "", err
	}
	defer wipe(key)
	return nip04.Encrypt(plaintext, key)
}

// DecryptNIP04 reverses EncryptNIP04. Any failure is ErrMalformedCiphertext;
// NIP-04 has no authentication, so a wrong key shows up as bad padding.
func DecryptNIP04(content string, kp *keys.KeyPair, counterpart string) (string, error) {
	if !strings.Contains(content, "?iv=") {
		return "", fmt.Errorf("nip04 payload without iv: %w", ErrMalformedCiphertext)
	}
	key, err := sharedSecret(kp, counterpart)
	if err != nil {
		return "", err
	}
	defer wipe(key)
	out, err := nip04.Decrypt(content, key)
	if err != nil {
		return "", fmt.Errorf("nip04 decrypt: %w", ErrMalformedCiphertext)
	}
	return out, nil
}

// EncryptNIP44 returns a version 2 NIP-44 payload.
func EncryptNIP44(plaintext string, kp *keys.KeyPair, counterpart string) (string, error) {
	ck, err := conversationKey(kp, counterpart)
	if err != nil {
		return "", err
	}
	defer func() { ck = [32]byte{} }()
	out, err := nip44.Encrypt(plaintext, ck)
	if err != nil {
		return "", fmt.Errorf("nip44 encrypt: %w", err)
	}
	return out, nil
}

// DecryptNIP44 reverses EncryptNIP44. MAC failures map to
// ErrAuthenticationFailed, everything else to ErrMalformedCiphertext.
func DecryptNIP44(payload string, kp *keys.KeyPair, counterpart string) (string, error) {
	ck, err := conversationKey(kp, counterpart)
	if err != nil {
		return "", err
	}
	defer func() { ck = [32]byte{} }()
	out, err := nip44.Decrypt(payload, ck)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "mac") {
			return "", fmt.Errorf("nip44 decrypt: %w", ErrAuthenticationFailed)
		}
		return "", fmt.Errorf("nip44 decrypt: %v: %w", err, ErrMalformedCiphertext)
	}
	return out, nil
}

// LooksLikeNIP04 reports whether content carries the legacy "?iv=" framing.
func LooksLikeNIP04(content string) bool {
	return strings.Contains(content, "?iv=")
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
