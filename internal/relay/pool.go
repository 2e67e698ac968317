// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package relay adapts the go-nostr relay pool to the signer's transport
// interfaces: publishing bunker replies, reconnecting before a commit and
// subscribing to incoming Nostr Connect requests.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/logging"
)

// ErrTransport wraps every relay connection or publish failure.
var ErrTransport = errors.New("relay transport failure")

// Pool is a set of relay connections shared by publisher and listener.
type Pool struct {
	pool   *nostr.SimplePool
	cancel context.CancelFunc
}

// NewPool returns a pool whose connections live until Close or ctx ends.
func NewPool(ctx context.Context) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{pool: nostr.NewSimplePool(ctx), cancel: cancel}
}

// Close drops every connection.
func (p *Pool) Close() { p.cancel() }

func (p *Pool) relay(url string) (*nostr.Relay, error) {
	r, err := p.pool.EnsureRelay(url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %v: %w", url, err, ErrTransport)
	}
	return r, nil
}

// EnsureConnected (re)connects to every url. It fails only when no relay
// could be reached.
func (p *Pool) EnsureConnected(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := p.relay(u); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(errs) == len(urls) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		logging.Warnf("relay: %v", err)
	}
	return nil
}

// Publish sends evt to url.
func (p *Pool) Publish(ctx context.Context, url string, evt nostr.Event) error {
	r, err := p.relay(url)
	if err != nil {
		return err
	}
	if err := r.Publish(ctx, evt); err != nil {
		return fmt.Errorf("publish %s to %s: %v: %w", evt.ID, url, err, ErrTransport)
	}
	return nil
}

// Subscribe streams events matching filter from every reachable url until
// ctx ends. The pool delivers an event seen on several relays once.
func (p *Pool) Subscribe(ctx context.Context, urls []string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no relays to subscribe to: %w", ErrTransport)
	}
	if err := p.EnsureConnected(ctx, urls); err != nil {
		return nil, err
	}
	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		for ie := range p.pool.SubMany(ctx, urls, nostr.Filters{filter}) {
			select {
			case out <- ie.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
