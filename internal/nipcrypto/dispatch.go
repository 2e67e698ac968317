// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package nipcrypto executes approved operations with an account key:
// event and message signing, NIP-04 and NIP-44 encryption and private zap
// decryption. Key material never appears in returned errors.
package nipcrypto

import (
	"errors"
	"fmt"

	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
)

var (
	// ErrMalformedCiphertext covers framing, padding, version and base64
	// failures on decryption.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	// ErrAuthenticationFailed is returned when a NIP-44 MAC does not verify.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrKeyDerivationMismatch is internal to private zap decryption and is
	// reported to callers as an absent result.
	ErrKeyDerivationMismatch = errors.New("key derivation mismatch")
	// ErrUnsupportedKind is returned for request kinds without a crypto step.
	ErrUnsupportedKind = errors.New("unsupported request kind")
)

// ConnectAck is the result returned for an approved connect request.
const ConnectAck = "ack"

// Dispatcher runs one operation per call. The zero value is ready to use.
type Dispatcher struct{}

// New returns a Dispatcher.
func New() *Dispatcher { return &Dispatcher{} }

// Dispatch executes kind over payload with kp. counterpart is the peer public
// key for encryption kinds. A nil result without error means "not
// applicable" (for example a zap request that is not private).
func (d *Dispatcher) Dispatch(kind model.SignerType, payload string, kp *keys.KeyPair, counterpart string) (*string, error) {
	if kp == nil {
		return nil, fmt.Errorf("%s: no key pair", kind)
	}
	var (
		out string
		err error
	)
	switch kind {
	case model.SignEvent:
		evt, perr := ParseEvent(payload)
		if perr != nil {
			return nil, perr
		}
		signed, serr := d.SignEvent(evt, kp)
		if serr != nil {
			return nil, serr
		}
		out = EventSignature(signed)
	case model.SignMessage:
		out, err = kp.SignMessage(payload)
	case model.NIP04Encrypt:
		out, err = EncryptNIP04(payload, kp, counterpart)
	case model.NIP04Decrypt:
		out, err = DecryptNIP04(payload, kp, counterpart)
	case model.NIP44Encrypt:
		out, err = EncryptNIP44(payload, kp, counterpart)
	case model.NIP44Decrypt:
		out, err = DecryptNIP44(payload, kp, counterpart)
	case model.DecryptZapEvent:
		evt, perr := ParseEvent(payload)
		if perr != nil {
			return nil, perr
		}
		return DecryptPrivateZap(evt, kp)
	case model.Connect:
		out = ConnectAck
	case model.GetPublicKey:
		out = kp.PubKey
	default:
		return nil, fmt.Errorf("%s: %w", kind, ErrUnsupportedKind)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
