// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
	"github.com/toeirei/keysigner/internal/testutil"
)

type fakeHost struct {
	payloads [][]byte
	finished []bool
}

func (h *fakeHost) Deliver(_ context.Context, p []byte) error {
	h.payloads = append(h.payloads, p)
	return nil
}

func (h *fakeHost) Finish(_ context.Context, clear bool) { h.finished = append(h.finished, clear) }

type published struct {
	url string
	evt nostr.Event
}

type fakeTransport struct {
	mu   sync.Mutex
	fail map[string]bool
	out  chan published
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: map[string]bool{}, out: make(chan published, 16)}
}

func (f *fakeTransport) Publish(_ context.Context, url string, evt nostr.Event) error {
	f.mu.Lock()
	fail := f.fail[url]
	f.mu.Unlock()
	if fail {
		return errors.New("relay down")
	}
	f.out <- published{url: url, evt: evt}
	return nil
}

func receive(t *testing.T, ch <-chan published) published {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("no event published")
	}
	return published{}
}

func TestFlushKeepsNulls(t *testing.T) {
	host := &fakeHost{}
	r := New(host, nil)
	sig := "abc"
	r.Local("com.example.client", "1", &sig, &sig)
	r.Local("", "2", nil, nil)

	n, err := r.Flush(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	if len(host.payloads) != 1 {
		t.Fatalf("expected one payload, got %d", len(host.payloads))
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(host.payloads[0], &raw); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if v, ok := raw[1]["signature"]; !ok || v != nil {
		t.Fatalf("null signature must be present, got %v", raw[1])
	}
	if raw[0]["package"] != "com.example.client" || raw[0]["result"] != "abc" {
		t.Fatalf("unexpected first entry: %v", raw[0])
	}
	if n, _ := r.Flush(context.Background()); n != 0 || len(host.payloads) != 1 {
		t.Fatalf("second flush must be empty")
	}
}

func TestBunkerReplyEncryptedPerScheme(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	peer, _ := keys.Generate()

	for _, scheme := range []model.Scheme{model.SchemeNIP44, model.SchemeNIP04} {
		tr := newFakeTransport()
		r := New(nil, tr)
		app := model.ApplicationRecord{Key: peer.PubKey, Scheme: scheme, Relays: []string{"wss://a.example"}}
		if err := r.Bunker(context.Background(), acct, app, model.BunkerResponse{ID: "req1", Result: "ack"}); err != nil {
			t.Fatalf("Bunker(%s): %v", scheme, err)
		}
		p := receive(t, tr.out)
		if p.evt.Kind != model.KindNostrConnect || p.evt.PubKey != acct.PubKey() {
			t.Fatalf("unexpected envelope: %+v", p.evt)
		}
		if ok, err := p.evt.CheckSignature(); !ok || err != nil {
			t.Fatalf("reply not signed: %v", err)
		}
		if model.TagValue(&p.evt, "p") != peer.PubKey {
			t.Fatalf("reply not addressed to peer: %v", p.evt.Tags)
		}
		var plain string
		var err error
		if scheme == model.SchemeNIP04 {
			if !strings.Contains(p.evt.Content, "?iv=") {
				t.Fatalf("nip04 framing expected, got %q", p.evt.Content)
			}
			plain, err = nipcrypto.DecryptNIP04(p.evt.Content, peer, acct.PubKey())
		} else {
			plain, err = nipcrypto.DecryptNIP44(p.evt.Content, peer, acct.PubKey())
		}
		if err != nil {
			t.Fatalf("peer cannot decrypt %s reply: %v", scheme, err)
		}
		var resp model.BunkerResponse
		if err := json.Unmarshal([]byte(plain), &resp); err != nil || resp.ID != "req1" || resp.Result != "ack" || resp.Error != nil {
			t.Fatalf("unexpected reply %q: %v", plain, err)
		}
	}
}

func TestRejectPublishesToEveryRelay(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	peer, _ := keys.Generate()
	tr := newFakeTransport()
	tr.fail["wss://down.example"] = true

	acks := make(chan string, 4)
	r := New(nil, tr, WithAck(func(url string, _ nostr.Event, err error) {
		if err != nil {
			acks <- "fail:" + url
			return
		}
		acks <- "ok:" + url
	}))
	app := model.ApplicationRecord{Key: peer.PubKey, Relays: []string{"wss://a.example", "wss://b.example", "wss://down.example"}}
	if err := r.Reject(context.Background(), acct, app, "r9"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	close(acks)
	seen := map[string]bool{}
	for a := range acks {
		seen[a] = true
	}
	if !seen["ok:wss://a.example"] || !seen["ok:wss://b.example"] || !seen["fail:wss://down.example"] {
		t.Fatalf("unexpected acks: %v", seen)
	}
	p := receive(t, tr.out)
	plain, err := nipcrypto.DecryptNIP44(p.evt.Content, peer, acct.PubKey())
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	var resp model.BunkerResponse
	_ = json.Unmarshal([]byte(plain), &resp)
	if resp.ID != "r9" || resp.Result != "" || resp.Error == nil || *resp.Error != model.UserRejectedReason {
		t.Fatalf("unexpected rejection %q", plain)
	}
}

func TestBunkerWithoutRelays(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	peer, _ := keys.Generate()
	r := New(nil, newFakeTransport())
	err := r.Bunker(context.Background(), acct, model.ApplicationRecord{Key: peer.PubKey}, model.BunkerResponse{ID: "x"})
	if !errors.Is(err, ErrNoRelays) {
		t.Fatalf("expected ErrNoRelays, got %v", err)
	}

	tr := newFakeTransport()
	r = New(nil, tr, WithFallbackRelays([]string{"wss://fallback.example"}))
	if err := r.Bunker(context.Background(), acct, model.ApplicationRecord{Key: peer.PubKey}, model.BunkerResponse{ID: "x"}); err != nil {
		t.Fatalf("fallback relays: %v", err)
	}
	if p := receive(t, tr.out); p.url != "wss://fallback.example" {
		t.Fatalf("published to %s", p.url)
	}
}
