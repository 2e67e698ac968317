// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bunker is the Nostr Connect (NIP-46) side of the signer: it turns
// encrypted kind 24133 request events into signing requests, builds the
// bunker:// pairing URI and runs the listen loop.
package bunker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
)

// ErrUnsupportedMethod is returned for RPC methods the signer does not serve.
var ErrUnsupportedMethod = errors.New("unsupported method")

// Call is a decrypted NIP-46 request.
type Call struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

var methods = map[string]model.SignerType{
	"connect":           model.Connect,
	"sign_event":        model.SignEvent,
	"sign_message":      model.SignMessage,
	"nip04_encrypt":     model.NIP04Encrypt,
	"nip04_decrypt":     model.NIP04Decrypt,
	"nip44_encrypt":     model.NIP44Encrypt,
	"nip44_decrypt":     model.NIP44Decrypt,
	"decrypt_zap_event": model.DecryptZapEvent,
	"get_public_key":    model.GetPublicKey,
}

// Methods lists the served RPC methods.
func Methods() []string {
	out := make([]string, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Decrypt opens the content of a request event addressed to acct. The
// scheme is told apart by the NIP-04 "?iv=" marker.
func Decrypt(evt *nostr.Event, acct *keys.Account) (Call, model.Scheme, error) {
	var call Call
	if evt == nil || evt.Kind != model.KindNostrConnect {
		return call, "", fmt.Errorf("not a nostr connect event: %w", model.ErrMalformedInput)
	}
	if ok, err := evt.CheckSignature(); !ok || err != nil {
		return call, "", fmt.Errorf("event %s: bad signature: %w", evt.ID, model.ErrMalformedInput)
	}
	scheme := model.SchemeNIP44
	var (
		plain string
		err   error
	)
	if nipcrypto.LooksLikeNIP04(evt.Content) {
		scheme = model.SchemeNIP04
		plain, err = nipcrypto.DecryptNIP04(evt.Content, acct.KeyPair, evt.PubKey)
	} else {
		plain, err = nipcrypto.DecryptNIP44(evt.Content, acct.KeyPair, evt.PubKey)
	}
	if err != nil {
		return call, scheme, fmt.Errorf("event %s: %w", evt.ID, err)
	}
	if err := json.Unmarshal([]byte(plain), &call); err != nil {
		return call, scheme, fmt.Errorf("event %s: %w: %v", evt.ID, model.ErrMalformedInput, err)
	}
	if call.ID == "" {
		return call, scheme, fmt.Errorf("event %s: call without id: %w", evt.ID, model.ErrMalformedInput)
	}
	return call, scheme, nil
}

// Parse turns a request event received on relayURL into the inbound request
// shape, correlated with the peer's key.
func Parse(evt *nostr.Event, acct *keys.Account, relayURL string) (model.IntentData, error) {
	call, scheme, err := Decrypt(evt, acct)
	if err != nil {
		return model.IntentData{}, err
	}
	return ToIntent(call, evt.PubKey, scheme, acct.PubKey(), relayURL)
}

// ToIntent maps a decrypted call from peer to the inbound request shape.
func ToIntent(call Call, peer string, scheme model.Scheme, account, relayURL string) (model.IntentData, error) {
	typ, ok := methods[call.Method]
	if !ok {
		return model.IntentData{}, fmt.Errorf("%q: %w", call.Method, ErrUnsupportedMethod)
	}
	br := &model.BunkerRequest{ID: call.ID, LocalKey: peer, Scheme: scheme}
	if relayURL != "" {
		br.Relays = []string{relayURL}
	}
	d := model.IntentData{ID: call.ID, Type: typ, CurrentAccount: account, BunkerRequest: br}
	p := call.Params
	param := func(i int) string {
		if i < len(p) {
			return p[i]
		}
		return ""
	}
	switch typ {
	case model.Connect:
		// [signer pubkey, secret?, perms?]
		if s := param(1); s != "" {
			br.Secret = &s
		}
	case model.SignEvent, model.DecryptZapEvent:
		if len(p) < 1 {
			return d, fmt.Errorf("%s without event: %w", call.Method, model.ErrMalformedInput)
		}
		d.Data = p[0]
		d.Event = json.RawMessage(p[0])
	case model.SignMessage:
		d.Data = param(0)
	case model.NIP04Encrypt, model.NIP04Decrypt, model.NIP44Encrypt, model.NIP44Decrypt:
		if len(p) < 2 {
			return d, fmt.Errorf("%s needs [pubkey, payload]: %w", call.Method, model.ErrMalformedInput)
		}
		d.PubKey = p[0]
		d.Data = p[1]
	}
	return d, nil
}

// URI builds "bunker://<pubkey>?relay=...&secret=...".
func URI(pubKey string, relays []string, secret string) string {
	q := url.Values{}
	for _, r := range relays {
		q.Add("relay", r)
	}
	if secret != "" {
		q.Set("secret", secret)
	}
	u := "bunker://" + pubKey
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// ParseURI is the inverse of URI.
func ParseURI(s string) (pubKey string, relays []string, secret string, err error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Scheme != "bunker" {
		return "", nil, "", fmt.Errorf("not a bunker uri: %w", model.ErrMalformedInput)
	}
	pubKey, err = keys.NormalizePubKey(u.Host)
	if err != nil {
		return "", nil, "", err
	}
	q := u.Query()
	return pubKey, q["relay"], q.Get("secret"), nil
}

// NewSecret returns a fresh pairing secret.
func NewSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
