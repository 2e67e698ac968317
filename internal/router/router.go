// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package router delivers the outcome of committed requests: local results
// are collected into one JSON payload for the host, bunker replies are
// encrypted, signed and published to the peer's relays.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
)

// ErrNoRelays is returned when a bunker reply has nowhere to go.
var ErrNoRelays = errors.New("no relays for bunker reply")

// PublishTimeout bounds each per-relay publish.
var PublishTimeout = 15 * time.Second

// Host receives the batched local result and is told when the interaction
// is over.
type Host interface {
	Deliver(ctx context.Context, payload []byte) error
	Finish(ctx context.Context, clearNotifications bool)
}

// Transport publishes one event to one relay.
type Transport interface {
	Publish(ctx context.Context, url string, evt nostr.Event) error
}

// AckFunc is called once per relay after a publish attempt.
type AckFunc func(relay string, evt nostr.Event, err error)

// Option configures a Router.
type Option func(*Router)

// WithAck installs a per-relay acknowledgement callback.
func WithAck(fn AckFunc) Option { return func(r *Router) { r.onAck = fn } }

// WithFallbackRelays sets relays used for peers without a known relay list.
func WithFallbackRelays(urls []string) Option {
	return func(r *Router) { r.fallback = append([]string(nil), urls...) }
}

// Router is safe for concurrent use.
type Router struct {
	host      Host
	transport Transport
	fallback  []string
	onAck     AckFunc

	mu      sync.Mutex
	results []model.Result
	pending sync.WaitGroup
}

// New returns a router delivering local results to host and bunker replies
// through transport. Either may be nil when the caller only uses one path.
func New(host Host, transport Transport, opts ...Option) *Router {
	r := &Router{host: host, transport: transport}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Local queues one local result. Nil fields stay null in the payload.
func (r *Router) Local(pkg, id string, signature, result *string) {
	res := model.Result{ID: strPtr(id), Signature: signature, Result: result}
	if pkg != "" {
		res.Package = strPtr(pkg)
	}
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// Flush hands every queued local result to the host as one JSON array and
// returns how many were delivered. Nothing is sent when the queue is empty.
func (r *Router) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	results := r.results
	r.results = nil
	r.mu.Unlock()
	if len(results) == 0 {
		return 0, nil
	}
	if r.host == nil {
		return 0, errors.New("no host for local results")
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return 0, fmt.Errorf("encode local results: %w", err)
	}
	if err := r.host.Deliver(ctx, payload); err != nil {
		return 0, fmt.Errorf("deliver local results: %w", err)
	}
	return len(results), nil
}

// Finish ends the interaction with the host.
func (r *Router) Finish(ctx context.Context, clearNotifications bool) {
	if r.host != nil {
		r.host.Finish(ctx, clearNotifications)
	}
}

// Bunker encrypts resp for the application's peer key with its scheme, wraps
// it into a signed kind 24133 event and publishes it to every relay of app.
// Publishing runs in one goroutine per relay and is not awaited.
func (r *Router) Bunker(ctx context.Context, acct *keys.Account, app model.ApplicationRecord, resp model.BunkerResponse) error {
	if r.transport == nil {
		return errors.New("no relay transport for bunker reply")
	}
	evt, err := ReplyEvent(acct, app, resp)
	if err != nil {
		return err
	}
	relays := app.Relays
	if len(relays) == 0 {
		relays = r.fallback
	}
	if len(relays) == 0 {
		return fmt.Errorf("reply %s to %s: %w", resp.ID, model.ShortenHex(app.Key), ErrNoRelays)
	}
	base := context.WithoutCancel(ctx)
	for _, url := range relays {
		r.pending.Add(1)
		go func(url string) {
			defer r.pending.Done()
			pctx, cancel := context.WithTimeout(base, PublishTimeout)
			defer cancel()
			err := r.transport.Publish(pctx, url, *evt)
			if err != nil {
				logging.Warnf("router: publish reply %s to %s failed: %v", resp.ID, url, err)
			} else {
				logging.Debugf("router: published reply %s to %s", resp.ID, url)
			}
			if r.onAck != nil {
				r.onAck(url, *evt, err)
			}
		}(url)
	}
	return nil
}

// Reject sends the explicit "user rejected" reply for a bunker request id.
func (r *Router) Reject(ctx context.Context, acct *keys.Account, app model.ApplicationRecord, id string) error {
	return r.Bunker(ctx, acct, app, model.NewRejection(id))
}

// Drain waits for in-flight publishes. Short-lived processes call it before
// exiting; the commit path never does.
func (r *Router) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReplyEvent builds the signed kind 24133 envelope carrying resp to app.
func ReplyEvent(acct *keys.Account, app model.ApplicationRecord, resp model.BunkerResponse) (*nostr.Event, error) {
	if acct == nil || acct.KeyPair == nil {
		return nil, errors.New("bunker reply without account")
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode reply %s: %w", resp.ID, err)
	}
	var content string
	switch app.Scheme {
	case model.SchemeNIP04:
		content, err = nipcrypto.EncryptNIP04(string(body), acct.KeyPair, app.Key)
	default:
		content, err = nipcrypto.EncryptNIP44(string(body), acct.KeyPair, app.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("encrypt reply %s: %w", resp.ID, err)
	}
	evt := nostr.Event{
		PubKey:    acct.PubKey(),
		CreatedAt: nostr.Now(),
		Kind:      model.KindNostrConnect,
		Tags:      nostr.Tags{nostr.Tag{"p", app.Key}},
		Content:   content,
	}
	if err := evt.Sign(acct.KeyPair.Private.Hex()); err != nil {
		return nil, fmt.Errorf("sign reply %s: %w", resp.ID, err)
	}
	return &evt, nil
}

func strPtr(s string) *string { return &s }
