// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package nipcrypto

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
)

// ParseEvent decodes an event JSON payload.
func ParseEvent(payload string) (*nostr.Event, error) {
	var evt nostr.Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, fmt.Errorf("event: %w: %v", model.ErrMalformedInput, err)
	}
	return &evt, nil
}

// SignEvent returns a signed copy of evt. An event that already carries a
// signature is returned unchanged.
func (d *Dispatcher) SignEvent(evt *nostr.Event, kp *keys.KeyPair) (*nostr.Event, error) {
	if evt == nil {
		return nil, fmt.Errorf("sign event: %w", model.ErrMalformedInput)
	}
	out := *evt
	if out.Sig != "" {
		return &out, nil
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = nostr.Now()
	}
	if out.Tags == nil {
		out.Tags = nostr.Tags{}
	}
	if err := out.Sign(kp.Private.Hex()); err != nil {
		return nil, fmt.Errorf("sign event kind %d: %w", out.Kind, err)
	}
	return &out, nil
}

// EventSignature is the local result for a signed event: the signature, or
// the whole serialized event for anonymous zap requests whose author key is
// generated at signing time.
func EventSignature(evt *nostr.Event) string {
	if IsAnonZapRequest(evt) {
		b, err := json.Marshal(evt)
		if err == nil {
			return string(b)
		}
	}
	return evt.Sig
}

// IsAnonZapRequest reports whether evt is a zap request with an "anon" tag.
func IsAnonZapRequest(evt *nostr.Event) bool {
	return evt != nil && evt.Kind == model.KindZapRequest && model.HasAnonTag(evt)
}

// EventJSON serializes evt.
func EventJSON(evt *nostr.Event) (string, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
