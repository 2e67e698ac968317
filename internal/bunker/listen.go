// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package bunker

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/coordinator"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
)

// Subscriber streams events from relays. *relay.Pool implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, urls []string, filter nostr.Filter) (<-chan *nostr.Event, error)
}

// ConsentFunc is asked about a batch that standing policy does not cover. It
// edits the batch decisions and returns false to reject everything. An error
// means the question went unanswered: the batch is discarded and the peer
// gets no reply.
type ConsentFunc func(ctx context.Context, b *coordinator.Batch) (bool, error)

// Listener answers Nostr Connect requests addressed to one account.
type Listener struct {
	Account     *keys.Account
	Relays      []string
	Subscriber  Subscriber
	Coordinator *coordinator.Coordinator
	Consent     ConsentFunc
}

// Serve subscribes to requests for the account and handles them one at a
// time until ctx ends.
func (l *Listener) Serve(ctx context.Context) error {
	since := nostr.Now()
	filter := nostr.Filter{
		Kinds: []int{model.KindNostrConnect},
		Tags:  nostr.TagMap{"p": []string{l.Account.PubKey()}},
		Since: &since,
	}
	events, err := l.Subscriber.Subscribe(ctx, l.Relays, filter)
	if err != nil {
		return err
	}
	logging.Infof("bunker: listening for %s on %d relays", model.ShortenHex(l.Account.PubKey()), len(l.Relays))
	for evt := range events {
		l.Handle(ctx, evt)
	}
	return ctx.Err()
}

// Handle runs one request event through the coordinator.
func (l *Listener) Handle(ctx context.Context, evt *nostr.Event) {
	d, err := Parse(evt, l.Account, "")
	if err != nil {
		logging.Warnf("bunker: dropping event %s: %v", evt.ID, err)
		return
	}
	if len(d.BunkerRequest.Relays) == 0 {
		d.BunkerRequest.Relays = append([]string(nil), l.Relays...)
	}
	req, err := d.ToRequest("")
	if err != nil {
		logging.Warnf("bunker: dropping call %s: %v", d.ID, err)
		return
	}
	b := coordinator.NewBatch([]model.SigningRequest{req})
	need, err := l.Coordinator.Preselect(ctx, b)
	if err != nil {
		logging.Warnf("bunker: evaluate %s: %v", d.ID, err)
	}
	if need {
		approved := false
		if l.Consent != nil {
			approved, err = l.Consent(ctx, b)
			if err != nil {
				logging.Infof("bunker: no answer for %s, dropping: %v", d.ID, err)
				if derr := l.Coordinator.Discard(ctx, b); derr != nil {
					logging.Warnf("bunker: discard %s: %v", d.ID, derr)
				}
				return
			}
		}
		if !approved {
			b.Decisions().RejectAll()
		}
	}
	rep, err := l.Coordinator.Commit(ctx, b)
	if err != nil {
		logging.Warnf("bunker: commit %s: %v", d.ID, err)
		return
	}
	if rerr := rep.Err(); rerr != nil {
		logging.Warnf("bunker: %v", rerr)
	}
}
