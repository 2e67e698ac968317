// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keys owns account key pairs: secp256k1 scalars held as
// security.Secret, BIP-340 public keys, message signing and the encrypted
// on-disk keystore.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/toeirei/keysigner/internal/security"
)

// ErrInvalidKey is returned for private scalars outside the curve order and
// for unparseable public keys.
var ErrInvalidKey = errors.New("invalid key")

// KeyPair is an account key. Private is never serialized: Secret redacts
// itself on every formatting and marshaling path.
type KeyPair struct {
	Private security.Secret `json:"-"`
	PubKey  string          `json:"pubkey"`
}

// FromSecret validates a 32 byte scalar and derives its x-only public key.
func FromSecret(priv security.Secret) (*KeyPair, error) {
	if priv.Len() != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d: %w", priv.Len(), ErrInvalidKey)
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(priv); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("private key out of range: %w", ErrInvalidKey)
	}
	pub, err := PublicKeyFromPrivate(priv)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: security.FromBytes(priv), PubKey: pub}, nil
}

// FromHex parses a hex private key.
func FromHex(privHex string) (*KeyPair, error) {
	s, err := security.FromHex(strings.TrimSpace(privHex))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidKey)
	}
	defer s.Zero()
	return FromSecret(s)
}

// ParsePrivateKey accepts a hex or nsec private key.
func ParsePrivateKey(in string) (*KeyPair, error) {
	in = strings.TrimSpace(in)
	if strings.HasPrefix(in, "nsec1") {
		prefix, v, err := nip19.Decode(in)
		if err != nil || prefix != "nsec" {
			return nil, fmt.Errorf("decode nsec: %w", ErrInvalidKey)
		}
		h, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("decode nsec: %w", ErrInvalidKey)
		}
		return FromHex(h)
	}
	return FromHex(in)
}

// Generate creates a fresh random key pair.
func Generate() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	sec := security.Secret(priv.Serialize())
	defer sec.Zero()
	return FromSecret(sec)
}

// PublicKeyFromPrivate derives the hex x-only public key of a scalar.
func PublicKeyFromPrivate(priv []byte) (string, error) {
	if len(priv) != 32 {
		return "", fmt.Errorf("private key must be 32 bytes: %w", ErrInvalidKey)
	}
	_, pub := btcec.PrivKeyFromBytes(priv)
	return hex.EncodeToString(schnorr.SerializePubKey(pub)), nil
}

// PrivateKey materializes the btcec key for a single operation.
func (k *KeyPair) PrivateKey() *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(k.Private)
	return priv
}

// Npub returns the bech32 public key, falling back to hex.
func (k *KeyPair) Npub() string {
	npub, err := nip19.EncodePublicKey(k.PubKey)
	if err != nil {
		return k.PubKey
	}
	return npub
}

// SignMessage returns the hex BIP-340 signature over sha256(msg). The nonce is
// derived deterministically, so equal inputs give equal signatures.
func (k *KeyPair) SignMessage(msg string) (string, error) {
	hash := sha256.Sum256([]byte(msg))
	sig, err := schnorr.Sign(k.PrivateKey(), hash[:])
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Zero wipes the private scalar.
func (k *KeyPair) Zero() {
	if k != nil {
		k.Private.Zero()
	}
}

// VerifyMessage checks a SignMessage signature.
func VerifyMessage(pubHex, msg, sigHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, fmt.Errorf("public key: %w", ErrInvalidKey)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("public key: %w", ErrInvalidKey)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("signature is not hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}
	hash := sha256.Sum256([]byte(msg))
	return sig.Verify(hash[:], pub), nil
}

// NormalizePubKey accepts hex or npub and returns lower-case hex.
func NormalizePubKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "npub1") {
		prefix, v, err := nip19.Decode(id)
		if err != nil || prefix != "npub" {
			return "", fmt.Errorf("decode %s: %w", abbrev(id), ErrInvalidKey)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("decode %s: %w", abbrev(id), ErrInvalidKey)
		}
		return s, nil
	}
	b, err := hex.DecodeString(id)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("public key %q: %w", abbrev(id), ErrInvalidKey)
	}
	return strings.ToLower(id), nil
}

func abbrev(s string) string {
	if len(s) > 12 {
		return s[:12] + "…"
	}
	return s
}
