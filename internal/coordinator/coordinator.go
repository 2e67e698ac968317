// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package coordinator runs a batch of signing requests through consent:
// requests are grouped for the user, decisions are recorded in the policy
// store and only approved requests reach the crypto dispatcher. Results are
// handed to the response router.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/toeirei/keysigner/internal/db"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/policy"
)

// ErrAlreadyCommitted is returned when a batch is committed or discarded a
// second time.
var ErrAlreadyCommitted = errors.New("batch already committed")

// Crypto executes approved operations. *nipcrypto.Dispatcher implements it.
type Crypto interface {
	Dispatch(kind model.SignerType, payload string, kp *keys.KeyPair, counterpart string) (*string, error)
	SignEvent(evt *nostr.Event, kp *keys.KeyPair) (*nostr.Event, error)
}

// Router delivers outcomes. *router.Router implements it.
type Router interface {
	Local(pkg, id string, signature, result *string)
	Bunker(ctx context.Context, acct *keys.Account, app model.ApplicationRecord, resp model.BunkerResponse) error
	Reject(ctx context.Context, acct *keys.Account, app model.ApplicationRecord, id string) error
	Flush(ctx context.Context) (int, error)
	Finish(ctx context.Context, clearNotifications bool)
}

// Reconnector re-establishes relay connections before bunker replies are
// sent. *relay.Pool implements it.
type Reconnector interface {
	EnsureConnected(ctx context.Context, urls []string) error
}

// EngineFactory returns the policy engine of an account.
type EngineFactory func(acct *keys.Account) *policy.Engine

// EnginesFor scopes store to each account.
func EnginesFor(store *db.BunStore) EngineFactory {
	return func(acct *keys.Account) *policy.Engine {
		return policy.New(store.ForAccount(acct.PubKey()), acct.SignPolicy)
	}
}

// Config wires a Coordinator.
type Config struct {
	Accounts keys.Resolver
	Engines  EngineFactory
	Crypto   Crypto
	Router   Router
	// Relays is optional; without it no reconnection is attempted.
	Relays Reconnector
	// AppName names applications created on first contact. May be nil.
	AppName func(req model.SigningRequest) string
	// OnLoading is told when a commit starts and ends. May be nil.
	OnLoading func(loading bool)
}

// Coordinator commits or discards batches.
type Coordinator struct {
	cfg Config
}

// New returns a coordinator over cfg.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// ItemError is a failure confined to one request.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string { return fmt.Sprintf("request %s: %v", e.ID, e.Err) }

func (e ItemError) Unwrap() error { return e.Err }

// Report summarizes a commit.
type Report struct {
	BatchID   string
	Processed int
	Approved  int
	Rejected  int
	Skipped   int
	// NoResult counts approved requests that produced nothing to deliver,
	// such as a zap request that is not a private zap for this account.
	NoResult  int
	Delivered int
	Errors    []ItemError
}

// Err joins the item errors, or returns nil.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// Preselect evaluates b against each request's account policy.
func (c *Coordinator) Preselect(ctx context.Context, b *Batch) (bool, error) {
	return b.Preselect(ctx, accountEvaluator{c})
}

type accountEvaluator struct{ c *Coordinator }

func (a accountEvaluator) EvaluateRequest(ctx context.Context, req model.SigningRequest) (policy.Decision, error) {
	acct, err := a.c.cfg.Accounts.Resolve(ctx, req.CurrentAccount)
	if err != nil {
		// Unresolvable accounts are skipped at commit; nothing to ask.
		return policy.Unknown, nil
	}
	return a.c.cfg.Engines(acct).EvaluateRequest(ctx, req)
}

// Commit processes b once, in arrival order. Per-item failures are collected
// in the report and never stop the batch; the returned error is reserved for
// a repeated commit, cancellation and local delivery failure.
func (c *Coordinator) Commit(ctx context.Context, b *Batch) (Report, error) {
	rep := Report{BatchID: b.ID}
	if !b.finish() {
		return rep, ErrAlreadyCommitted
	}
	if c.cfg.OnLoading != nil {
		c.cfg.OnLoading(true)
		defer c.cfg.OnLoading(false)
	}
	start := time.Now()
	hasBunker := b.HasBunker()
	if hasBunker && c.cfg.Relays != nil {
		if err := c.cfg.Relays.EnsureConnected(ctx, b.bunkerRelays()); err != nil {
			logging.Warnf("coordinator: batch %s relay reconnect: %v", b.ID, err)
		}
	}

	var runErr error
	processed := map[string]bool{}
	for _, req := range b.requests {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if processed[req.ID] {
			continue
		}
		processed[req.ID] = true
		c.commitItem(ctx, b, req, &rep)
	}

	n, err := c.cfg.Router.Flush(ctx)
	rep.Delivered = n
	if err != nil && runErr == nil {
		runErr = err
	}
	c.cfg.Router.Finish(ctx, hasBunker)
	logging.Infof("coordinator: batch %s committed in %s (%d processed, %d approved, %d rejected, %d skipped, %d failed)",
		b.ID, time.Since(start), rep.Processed, rep.Approved, rep.Rejected, rep.Skipped, len(rep.Errors))
	return rep, runErr
}

func (c *Coordinator) commitItem(ctx context.Context, b *Batch, req model.SigningRequest, rep *Report) {
	acct, err := c.cfg.Accounts.Resolve(ctx, req.CurrentAccount)
	if err != nil {
		logging.Debugf("coordinator: skipping %s: %v", req.ID, err)
		rep.Skipped++
		return
	}
	rep.Processed++
	fail := func(app model.ApplicationRecord, err error) {
		rep.Errors = append(rep.Errors, ItemError{ID: req.ID, Err: err})
		logging.Warnf("coordinator: request %s (%s) failed: %v", req.ID, req.Kind, err)
		if req.Bunker != nil {
			msg := err.Error()
			resp := model.BunkerResponse{ID: req.Bunker.ID, Result: "", Error: &msg}
			if rerr := c.cfg.Router.Bunker(ctx, acct, app, resp); rerr != nil {
				logging.Warnf("coordinator: error reply for %s: %v", req.ID, rerr)
			}
		}
	}

	engine := c.cfg.Engines(acct)
	fallback := policy.NewRecord(req.RequesterKey, c.appName(req), req, acct.SignPolicy).Application
	h, err := handlerFor(req.Kind)
	if err != nil {
		fail(fallback, err)
		return
	}
	stored, err := engine.EnsureApplication(ctx, req.RequesterKey, c.appName(req), req)
	if err != nil {
		fail(fallback, err)
		return
	}
	app := stored.Application
	kind := h.evaluateKind(req)
	approved := b.decisions.Approved(req.ID)
	paired := policy.SecretMatches(app, req)
	if !paired {
		logging.Warnf("coordinator: request %s from %s presented a wrong pairing secret", req.ID, model.ShortenHex(req.RequesterKey))
		approved = false
	}

	if paired && b.decisions.Remember(req.ID) {
		if err := engine.RecordDecision(ctx, req.RequesterKey, req, req.Kind, kind, approved); err != nil {
			fail(app, err)
			return
		}
	}
	entry := model.HistoryEntry{ApplicationKey: req.RequesterKey, Type: req.Kind, Kind: kind, Time: time.Now(), Accepted: approved}
	if err := engine.Store().AddHistory(ctx, entry); err != nil {
		fail(app, err)
		return
	}

	it := item{req: req, acct: acct, app: app}
	if !approved {
		rep.Rejected++
		if req.Bunker != nil {
			if err := c.cfg.Router.Reject(ctx, acct, app, req.Bunker.ID); err != nil {
				rep.Errors = append(rep.Errors, ItemError{ID: req.ID, Err: err})
			}
		}
		return
	}

	out, err := h.commit(ctx, c.cfg.Crypto, req, acct.KeyPair)
	if err != nil {
		fail(app, err)
		return
	}
	if out.empty() {
		logging.Debugf("coordinator: request %s (%s) has no result for this account", req.ID, req.Kind)
		rep.NoResult++
		return
	}
	if err := h.respond(ctx, c.cfg.Router, it, out); err != nil {
		rep.Errors = append(rep.Errors, ItemError{ID: req.ID, Err: err})
		return
	}
	rep.Approved++
}

func (c *Coordinator) appName(req model.SigningRequest) string {
	if c.cfg.AppName != nil {
		return c.cfg.AppName(req)
	}
	return ""
}

// Discard abandons b: nothing is written and no request is answered.
func (c *Coordinator) Discard(ctx context.Context, b *Batch) error {
	if !b.finish() {
		return ErrAlreadyCommitted
	}
	c.cfg.Router.Finish(ctx, b.HasBunker())
	logging.Infof("coordinator: batch %s discarded", b.ID)
	return nil
}
