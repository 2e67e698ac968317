// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package bunker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/coordinator"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
	"github.com/toeirei/keysigner/internal/router"
	"github.com/toeirei/keysigner/internal/testutil"
)

// requestEvent builds the event a client would send to acct.
func requestEvent(t *testing.T, peer *keys.KeyPair, acct *keys.Account, call Call, scheme model.Scheme) *nostr.Event {
	t.Helper()
	body, _ := json.Marshal(call)
	var content string
	var err error
	if scheme == model.SchemeNIP04 {
		content, err = nipcrypto.EncryptNIP04(string(body), peer, acct.PubKey())
	} else {
		content, err = nipcrypto.EncryptNIP44(string(body), peer, acct.PubKey())
	}
	if err != nil {
		t.Fatalf("encrypt call: %v", err)
	}
	evt := nostr.Event{Kind: model.KindNostrConnect, CreatedAt: nostr.Now(), Tags: nostr.Tags{{"p", acct.PubKey()}}, Content: content}
	if err := evt.Sign(peer.Private.Hex()); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &evt
}

func TestParseDetectsScheme(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	peer, _ := keys.Generate()
	for _, scheme := range []model.Scheme{model.SchemeNIP44, model.SchemeNIP04} {
		evt := requestEvent(t, peer, acct, Call{ID: "1", Method: "nip44_encrypt", Params: []string{peer.PubKey, "hello"}}, scheme)
		d, err := Parse(evt, acct, "wss://r.example")
		if err != nil {
			t.Fatalf("Parse(%s): %v", scheme, err)
		}
		if d.Type != model.NIP44Encrypt || d.PubKey != peer.PubKey || d.Data != "hello" {
			t.Fatalf("unexpected intent %+v", d)
		}
		br := d.BunkerRequest
		if br.Scheme != scheme || br.LocalKey != peer.PubKey || br.ID != "1" || br.Relays[0] != "wss://r.example" {
			t.Fatalf("unexpected correlation %+v", br)
		}
		if d.CurrentAccount != acct.PubKey() {
			t.Fatalf("account not set")
		}
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	peer, _ := keys.Generate()

	evt := requestEvent(t, peer, acct, Call{ID: "1", Method: "ping"}, model.SchemeNIP44)
	if _, err := Parse(evt, acct, ""); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
	evt = requestEvent(t, peer, acct, Call{ID: "2", Method: "connect"}, model.SchemeNIP44)
	evt.Content = "tampered"
	if _, err := Parse(evt, acct, ""); !errors.Is(err, model.ErrMalformedInput) {
		t.Fatalf("tampered event must fail signature check, got %v", err)
	}
	other := testutil.NewAccount(t, "other")
	evt = requestEvent(t, peer, acct, Call{ID: "3", Method: "connect"}, model.SchemeNIP44)
	if _, err := Parse(evt, other, ""); err == nil {
		t.Fatalf("event for another account must not decrypt")
	}
	evt = requestEvent(t, peer, acct, Call{ID: "4", Method: "nip04_encrypt", Params: []string{"only-one"}}, model.SchemeNIP44)
	if _, err := Parse(evt, acct, ""); !errors.Is(err, model.ErrMalformedInput) {
		t.Fatalf("missing params: %v", err)
	}
}

func TestConnectSecretAndSignEvent(t *testing.T) {
	d, err := ToIntent(Call{ID: "c", Method: "connect", Params: []string{"pub", "s3cret"}}, "peer", model.SchemeNIP44, "acct", "")
	if err != nil || d.BunkerRequest.Secret == nil || *d.BunkerRequest.Secret != "s3cret" {
		t.Fatalf("connect secret not carried: %+v, %v", d.BunkerRequest, err)
	}
	d, err = ToIntent(Call{ID: "s", Method: "sign_event", Params: []string{`{"kind":1,"content":"hi","tags":[],"created_at":1}`}}, "peer", model.SchemeNIP44, "acct", "")
	if err != nil {
		t.Fatalf("sign_event: %v", err)
	}
	req, err := d.ToRequest("")
	if err != nil || req.Event == nil || req.Event.Kind != 1 || req.RequesterKey != "peer" {
		t.Fatalf("ToRequest = %+v, %v", req, err)
	}
	if len(Methods()) != 9 {
		t.Fatalf("unexpected methods %v", Methods())
	}
}

func TestURIRoundTrip(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	secret := NewSecret()
	if len(secret) != 32 {
		t.Fatalf("unexpected secret %q", secret)
	}
	uri := URI(acct.PubKey(), []string{"wss://a.example", "wss://b.example"}, secret)
	pub, relays, got, err := ParseURI(uri)
	if err != nil || pub != acct.PubKey() || len(relays) != 2 || got != secret {
		t.Fatalf("ParseURI(%s) = %s %v %s %v", uri, pub, relays, got, err)
	}
	if _, _, _, err := ParseURI("https://example.com"); err == nil {
		t.Fatalf("non bunker uri accepted")
	}
}

type chanSubscriber struct{ ch chan *nostr.Event }

func (c chanSubscriber) Subscribe(context.Context, []string, nostr.Filter) (<-chan *nostr.Event, error) {
	return c.ch, nil
}

type captureTransport struct{ out chan nostr.Event }

func (c captureTransport) Publish(_ context.Context, _ string, evt nostr.Event) error {
	c.out <- evt
	return nil
}

func TestListenerAnswersConnectAndRejectsUnknown(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	peer, _ := keys.Generate()
	store := testutil.NewStore(t)
	tr := captureTransport{out: make(chan nostr.Event, 4)}
	coord := coordinator.New(coordinator.Config{
		Accounts: keys.NewStaticResolver(acct),
		Engines:  coordinator.EnginesFor(store),
		Crypto:   nipcrypto.New(),
		Router:   router.New(nil, tr),
	})
	consent := func(_ context.Context, b *coordinator.Batch) (bool, error) {
		// approve connects, refuse the rest
		for _, r := range b.Requests() {
			if r.Kind != model.Connect {
				return false, nil
			}
		}
		return true, nil
	}
	sub := chanSubscriber{ch: make(chan *nostr.Event, 2)}
	l := &Listener{Account: acct, Relays: []string{"wss://r.example"}, Subscriber: sub, Coordinator: coord, Consent: consent}

	sub.ch <- requestEvent(t, peer, acct, Call{ID: "a", Method: "connect", Params: []string{acct.PubKey()}}, model.SchemeNIP44)
	sub.ch <- requestEvent(t, peer, acct, Call{ID: "b", Method: "sign_message", Params: []string{"hi"}}, model.SchemeNIP44)
	close(sub.ch)
	if err := l.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	replies := map[string]model.BunkerResponse{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-tr.out:
			plain, err := nipcrypto.DecryptNIP44(evt.Content, peer, acct.PubKey())
			if err != nil {
				t.Fatalf("decrypt reply: %v", err)
			}
			var resp model.BunkerResponse
			_ = json.Unmarshal([]byte(plain), &resp)
			replies[resp.ID] = resp
		case <-time.After(2 * time.Second):
			t.Fatalf("missing reply %d", i)
		}
	}
	if replies["a"].Result != nipcrypto.ConnectAck || replies["a"].Error != nil {
		t.Fatalf("connect reply = %+v", replies["a"])
	}
	if e := replies["b"].Error; e == nil || *e != model.UserRejectedReason {
		t.Fatalf("sign_message reply = %+v", replies["b"])
	}
	h, _ := store.ForAccount(acct.PubKey()).ListHistory(context.Background(), peer.PubKey, 0)
	if len(h) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(h))
	}
}

func TestListenerDropsUnansweredRequest(t *testing.T) {
	acct := testutil.NewAccount(t, "signer")
	peer, _ := keys.Generate()
	store := testutil.NewStore(t)
	tr := captureTransport{out: make(chan nostr.Event, 1)}
	coord := coordinator.New(coordinator.Config{
		Accounts: keys.NewStaticResolver(acct),
		Engines:  coordinator.EnginesFor(store),
		Crypto:   nipcrypto.New(),
		Router:   router.New(nil, tr),
	})
	consent := func(context.Context, *coordinator.Batch) (bool, error) { return false, io.EOF }
	sub := chanSubscriber{ch: make(chan *nostr.Event, 1)}
	l := &Listener{Account: acct, Relays: []string{"wss://r.example"}, Subscriber: sub, Coordinator: coord, Consent: consent}

	sub.ch <- requestEvent(t, peer, acct, Call{ID: "c", Method: "sign_message", Params: []string{"hi"}}, model.SchemeNIP44)
	close(sub.ch)
	if err := l.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	select {
	case evt := <-tr.out:
		t.Fatalf("unanswered request must not be replied to, got %s", evt.ID)
	case <-time.After(200 * time.Millisecond):
	}
	st := store.ForAccount(acct.PubKey())
	if app, _ := st.GetByKey(context.Background(), peer.PubKey); app != nil {
		t.Fatalf("application stored for a dropped request: %+v", app.Application)
	}
	if h, _ := st.ListHistory(context.Background(), "", 0); len(h) != 0 {
		t.Fatalf("history written for a dropped request: %+v", h)
	}
}
