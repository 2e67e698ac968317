// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/db"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
	"github.com/toeirei/keysigner/internal/testutil"
)

const localApp = "com.example.client"

// countingCrypto counts every call that reaches the dispatcher.
type countingCrypto struct {
	d     *nipcrypto.Dispatcher
	calls int
}

func (c *countingCrypto) Dispatch(kind model.SignerType, payload string, kp *keys.KeyPair, counterpart string) (*string, error) {
	c.calls++
	return c.d.Dispatch(kind, payload, kp, counterpart)
}

func (c *countingCrypto) SignEvent(evt *nostr.Event, kp *keys.KeyPair) (*nostr.Event, error) {
	c.calls++
	return c.d.SignEvent(evt, kp)
}

type localResult struct {
	pkg, id           string
	signature, result *string
}

type fakeRouter struct {
	mu         sync.Mutex
	local      []localResult
	delivered  [][]localResult
	bunker     []model.BunkerResponse
	finished   []bool
	bunkerApps []model.ApplicationRecord
}

func (r *fakeRouter) Local(pkg, id string, signature, result *string) {
	r.local = append(r.local, localResult{pkg, id, signature, result})
}

func (r *fakeRouter) Bunker(_ context.Context, _ *keys.Account, app model.ApplicationRecord, resp model.BunkerResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bunker = append(r.bunker, resp)
	r.bunkerApps = append(r.bunkerApps, app)
	return nil
}

func (r *fakeRouter) Reject(ctx context.Context, acct *keys.Account, app model.ApplicationRecord, id string) error {
	return r.Bunker(ctx, acct, app, model.NewRejection(id))
}

func (r *fakeRouter) Flush(context.Context) (int, error) {
	n := len(r.local)
	if n > 0 {
		r.delivered = append(r.delivered, r.local)
	}
	r.local = nil
	return n, nil
}

func (r *fakeRouter) Finish(_ context.Context, clear bool) { r.finished = append(r.finished, clear) }

type fakeRelays struct{ calls [][]string }

func (f *fakeRelays) EnsureConnected(_ context.Context, urls []string) error {
	f.calls = append(f.calls, urls)
	return nil
}

type fixture struct {
	store  *db.BunStore
	acct   *keys.Account
	crypto *countingCrypto
	router *fakeRouter
	relays *fakeRelays
	coord  *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  testutil.NewStore(t),
		acct:   testutil.NewAccount(t, "main"),
		crypto: &countingCrypto{d: nipcrypto.New()},
		router: &fakeRouter{},
		relays: &fakeRelays{},
	}
	f.coord = New(Config{
		Accounts: keys.NewStaticResolver(f.acct),
		Engines:  EnginesFor(f.store),
		Crypto:   f.crypto,
		Router:   f.router,
		Relays:   f.relays,
	})
	return f
}

func (f *fixture) history(t *testing.T, appKey string) []model.HistoryEntry {
	t.Helper()
	h, err := f.store.ForAccount(f.acct.PubKey()).ListHistory(context.Background(), appKey, 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	return h
}

func (f *fixture) app(t *testing.T, key string) *model.ApplicationWithPermissions {
	t.Helper()
	app, err := f.store.ForAccount(f.acct.PubKey()).GetByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	return app
}

func signReq(id string, kind int, content string) model.SigningRequest {
	return model.SigningRequest{
		ID:           id,
		Kind:         model.SignEvent,
		Event:        &nostr.Event{Kind: kind, Content: content, CreatedAt: nostr.Timestamp(1700000000), Tags: nostr.Tags{}},
		RequesterKey: localApp,
	}
}

func plainReq(id string, kind model.SignerType, payload, counterpart string) model.SigningRequest {
	return model.SigningRequest{ID: id, Kind: kind, Payload: payload, CounterpartPubKey: counterpart, RequesterKey: localApp}
}
