// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package nipcrypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/security"
)

const (
	hrpZapPayload = "pzap"
	hrpZapIV      = "iv"
)

// anonPayload returns the non-blank value of the first "anon" tag.
func anonPayload(evt *nostr.Event) (string, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "anon" {
			v := strings.TrimSpace(tag[1])
			return v, v != ""
		}
	}
	return "", false
}

// IsPrivateZap reports whether evt carries an encrypted anon payload.
func IsPrivateZap(evt *nostr.Event) bool {
	_, ok := anonPayload(evt)
	return evt != nil && ok
}

// DecryptPrivateZap opens the private zap embedded in a zap request. The
// result is nil when the event is not a private zap or when this account can
// neither receive nor have sent it.
func DecryptPrivateZap(evt *nostr.Event, kp *keys.KeyPair) (*string, error) {
	if evt == nil || !IsPrivateZap(evt) {
		return nil, nil
	}
	inner, err := openPrivateZap(evt, kp)
	if err != nil {
		logging.Debugf("private zap %s not applicable: %v", model.ShortenHex(evt.ID), err)
		return nil, nil
	}
	s, err := EventJSON(inner)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func openPrivateZap(evt *nostr.Event, kp *keys.KeyPair) (*nostr.Event, error) {
	payload, _ := anonPayload(evt)
	recipient := model.TagValue(evt, "p")

	if recipient != "" && recipient == kp.PubKey {
		return openZapPayload(payload, kp.Private, evt.PubKey)
	}

	// Sender side: the request was authored by a key derived from ours.
	if recipient == "" {
		return nil, fmt.Errorf("no recipient tag: %w", ErrKeyDerivationMismatch)
	}
	target := model.TagValue(evt, "e")
	if target == "" {
		target = recipient
	}
	eph, err := zapEncryptionKey(kp, target, evt.CreatedAt)
	if err != nil {
		return nil, err
	}
	defer eph.Zero()
	if eph.PubKey != evt.PubKey {
		return nil, ErrKeyDerivationMismatch
	}
	return openZapPayload(payload, eph.Private, recipient)
}

// zapEncryptionKey derives the per-zap author key:
// sha256(hex(priv) || target || decimal(createdAt)).
func zapEncryptionKey(kp *keys.KeyPair, target string, createdAt nostr.Timestamp) (*keys.KeyPair, error) {
	seed := kp.Private.Hex() + target + strconv.FormatInt(int64(createdAt), 10)
	sum := sha256.Sum256([]byte(seed))
	defer func() { sum = [32]byte{} }()
	eph, err := keys.FromSecret(security.Secret(sum[:]))
	if err != nil {
		return nil, fmt.Errorf("derive zap key: %w", ErrKeyDerivationMismatch)
	}
	return eph, nil
}

func openZapPayload(payload string, priv security.Secret, pub string) (*nostr.Event, error) {
	parts := strings.Split(payload, "_")
	if len(parts) != 2 {
		return nil, fmt.Errorf("anon payload has %d parts: %w", len(parts), ErrMalformedCiphertext)
	}
	ct, err := bechBytes(parts[0], hrpZapPayload)
	if err != nil {
		return nil, err
	}
	iv, err := bechBytes(parts[1], hrpZapIV)
	if err != nil {
		return nil, err
	}
	shared, err := nip04.ComputeSharedSecret(pub, priv.Hex())
	if err != nil {
		return nil, fmt.Errorf("zap shared secret: %w", keys.ErrInvalidKey)
	}
	defer wipe(shared)
	framed := base64.StdEncoding.EncodeToString(ct) + "?iv=" + base64.StdEncoding.EncodeToString(iv)
	note, err := nip04.Decrypt(framed, shared)
	if err != nil {
		return nil, fmt.Errorf("zap payload: %w", ErrMalformedCiphertext)
	}
	var inner nostr.Event
	if err := json.Unmarshal([]byte(note), &inner); err != nil {
		return nil, fmt.Errorf("zap payload is not an event: %w", ErrMalformedCiphertext)
	}
	if inner.Kind != model.KindPrivateZap {
		return nil, fmt.Errorf("zap payload has kind %d: %w", inner.Kind, ErrMalformedCiphertext)
	}
	return &inner, nil
}

func bechBytes(s, wantHRP string) ([]byte, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil || hrp != wantHRP {
		return nil, fmt.Errorf("bech32 %s segment: %w", wantHRP, ErrMalformedCiphertext)
	}
	out, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("bech32 %s segment: %w", wantHRP, ErrMalformedCiphertext)
	}
	return out, nil
}

func bechEncode(hrp string, b []byte) (string, error) {
	conv, err := bech32.ConvertBits(b, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}

// PrivateZap describes a zap whose message and sender stay hidden from
// everyone but the recipient.
type PrivateZap struct {
	Recipient string
	EventID   string
	Relays    []string
	Message   string
	CreatedAt nostr.Timestamp
}

// NewPrivateZapRequest builds a kind 9734 request authored by the derived zap
// key, carrying a kind 9733 event signed by sender in its anon tag.
func NewPrivateZapRequest(sender *keys.KeyPair, z PrivateZap) (*nostr.Event, error) {
	recipient, err := keys.NormalizePubKey(z.Recipient)
	if err != nil {
		return nil, err
	}
	if z.CreatedAt == 0 {
		z.CreatedAt = nostr.Now()
	}
	tags := nostr.Tags{{"p", recipient}}
	if z.EventID != "" {
		tags = append(tags, nostr.Tag{"e", z.EventID})
	}
	if len(z.Relays) > 0 {
		tags = append(tags, append(nostr.Tag{"relays"}, z.Relays...))
	}

	inner := nostr.Event{Kind: model.KindPrivateZap, CreatedAt: z.CreatedAt, Tags: tags, Content: z.Message}
	if err := inner.Sign(sender.Private.Hex()); err != nil {
		return nil, fmt.Errorf("sign private zap: %w", err)
	}
	innerJSON, err := EventJSON(&inner)
	if err != nil {
		return nil, err
	}

	target := z.EventID
	if target == "" {
		target = recipient
	}
	eph, err := zapEncryptionKey(sender, target, z.CreatedAt)
	if err != nil {
		return nil, err
	}
	defer eph.Zero()

	shared, err := nip04.ComputeSharedSecret(recipient, eph.Private.Hex())
	if err != nil {
		return nil, fmt.Errorf("zap shared secret: %w", keys.ErrInvalidKey)
	}
	defer wipe(shared)
	framed, err := nip04.Encrypt(innerJSON, shared)
	if err != nil {
		return nil, fmt.Errorf("encrypt private zap: %w", err)
	}
	ctB64, ivB64, ok := strings.Cut(framed, "?iv=")
	if !ok {
		return nil, fmt.Errorf("encrypt private zap: %w", ErrMalformedCiphertext)
	}
	ct, err1 := base64.StdEncoding.DecodeString(ctB64)
	iv, err2 := base64.StdEncoding.DecodeString(ivB64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("encrypt private zap: %w", ErrMalformedCiphertext)
	}
	ctPart, err := bechEncode(hrpZapPayload, ct)
	if err != nil {
		return nil, err
	}
	ivPart, err := bechEncode(hrpZapIV, iv)
	if err != nil {
		return nil, err
	}

	outer := nostr.Event{
		Kind:      model.KindZapRequest,
		CreatedAt: z.CreatedAt,
		Tags:      append(append(nostr.Tags{}, tags...), nostr.Tag{"anon", ctPart + "_" + ivPart}),
	}
	if err := outer.Sign(eph.Private.Hex()); err != nil {
		return nil, fmt.Errorf("sign zap request: %w", err)
	}
	return &outer, nil
}
