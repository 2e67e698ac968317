// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds with special handling.
const (
	KindRelayAuth      = 22242
	KindZapRequest     = 9734
	KindPrivateZap     = 9733
	KindNostrConnect   = 24133
	UserRejectedReason = "user rejected"
)

// ErrMalformedInput is returned for unparseable request payloads or events.
var ErrMalformedInput = errors.New("malformed input")

// BunkerRequest correlates a remote request with the relay subscription the
// answer must go back to.
type BunkerRequest struct {
	ID       string   `json:"id"`
	LocalKey string   `json:"localKey"`
	Secret   *string  `json:"secret,omitempty"`
	Scheme   Scheme   `json:"scheme,omitempty"`
	Relays   []string `json:"relays,omitempty"`
}

// IntentData is the inbound request shape produced by the intent and relay
// collaborators.
type IntentData struct {
	ID             string          `json:"id"`
	Type           SignerType      `json:"type"`
	Event          json.RawMessage `json:"event,omitempty"`
	Data           string          `json:"data"`
	PubKey         string          `json:"pubKey,omitempty"`
	EncryptedData  *string         `json:"encryptedData,omitempty"`
	CurrentAccount string          `json:"currentAccount"`
	BunkerRequest  *BunkerRequest  `json:"bunkerRequest,omitempty"`
}

// SigningRequest is the immutable snapshot the coordinator works on. User
// decisions are kept apart from it, keyed by ID.
type SigningRequest struct {
	ID                string
	Kind              SignerType
	Payload           string
	Event             *nostr.Event
	EncryptedData     *string
	RequesterKey      string
	CounterpartPubKey string
	CurrentAccount    string
	Bunker            *BunkerRequest
}

// IsRemote reports whether the request came through the bunker transport.
func (r SigningRequest) IsRemote() bool { return r.Bunker != nil }

// EventKind returns the discriminator used for grants: the event kind for
// SignEvent requests and nil for everything else.
func (r SigningRequest) EventKind() *int {
	if r.Kind == SignEvent && r.Event != nil {
		return IntPtr(r.Event.Kind)
	}
	return nil
}

// ToRequest converts the wire shape into a request snapshot. packageName is
// the local caller identity used when no bunker correlation key is present.
func (d IntentData) ToRequest(packageName string) (SigningRequest, error) {
	req := SigningRequest{
		ID:                d.ID,
		Kind:              d.Type,
		Payload:           d.Data,
		EncryptedData:     d.EncryptedData,
		CounterpartPubKey: d.PubKey,
		CurrentAccount:    d.CurrentAccount,
		Bunker:            d.BunkerRequest,
		RequesterKey:      packageName,
	}
	if d.BunkerRequest != nil {
		req.RequesterKey = d.BunkerRequest.LocalKey
	}
	if req.RequesterKey == "" {
		return req, fmt.Errorf("request %s has no requester key: %w", d.ID, ErrMalformedInput)
	}

	raw := d.Event
	if len(raw) == 0 && (d.Type == SignEvent || d.Type == DecryptZapEvent) && strings.HasPrefix(strings.TrimSpace(d.Data), "{") {
		raw = json.RawMessage(d.Data)
	}
	if len(raw) > 0 {
		var evt nostr.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			return req, fmt.Errorf("request %s: %w: %v", d.ID, ErrMalformedInput, err)
		}
		req.Event = &evt
		if req.Payload == "" {
			req.Payload = string(raw)
		}
	}
	if d.Type == SignEvent && req.Event == nil {
		return req, fmt.Errorf("sign_event request %s carries no event: %w", d.ID, ErrMalformedInput)
	}
	return req, nil
}

// Result is one entry of the batched local response. Null fields are kept in
// the JSON output because callers tell "absent" and "null" apart.
type Result struct {
	Package   *string `json:"package"`
	Signature *string `json:"signature"`
	Result    *string `json:"result"`
	ID        *string `json:"id"`
}

// BunkerResponse is the NIP-46 reply envelope.
type BunkerResponse struct {
	ID     string  `json:"id"`
	Result string  `json:"result"`
	Error  *string `json:"error"`
}

// NewRejection builds the explicit "user rejected" reply for a request id.
func NewRejection(id string) BunkerResponse {
	reason := UserRejectedReason
	return BunkerResponse{ID: id, Result: "", Error: &reason}
}

// HasAnonTag reports whether any tag carries an "anon" element.
func HasAnonTag(evt *nostr.Event) bool {
	if evt == nil {
		return false
	}
	for _, tag := range evt.Tags {
		for _, v := range tag {
			if v == "anon" {
				return true
			}
		}
	}
	return false
}

// TagValue returns the value of the first tag named name, or "".
func TagValue(evt *nostr.Event, name string) string {
	if evt == nil {
		return ""
	}
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
