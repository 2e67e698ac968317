// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package policy decides whether a requester may run an operation without
// asking, and persists the decisions the user asks to remember.
package policy

import (
	"context"
	"fmt"

	"github.com/toeirei/keysigner/internal/db"
	"github.com/toeirei/keysigner/internal/model"
)

// Decision is the outcome of evaluating a request against stored policy.
type Decision int

const (
	// Unknown means the user has to be asked.
	Unknown Decision = iota
	Allow
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Engine evaluates and records permissions for one account.
type Engine struct {
	store db.PermissionStore
	// signPolicy is applied to applications created on first contact.
	signPolicy model.SignPolicy
}

// New returns an engine over the account-scoped store. signPolicy is the
// account's standing policy, copied onto applications created here.
func New(store db.PermissionStore, signPolicy model.SignPolicy) *Engine {
	return &Engine{store: store, signPolicy: signPolicy}
}

// Store returns the underlying account store.
func (e *Engine) Store() db.PermissionStore { return e.store }

// Evaluate looks up the stored answer for (op, kind) from appKey. An exact
// grant wins over an (op, all kinds) grant; without either the application's
// sign policy decides.
func (e *Engine) Evaluate(ctx context.Context, appKey string, op model.SignerType, kind *int) (Decision, error) {
	app, err := e.store.GetByKey(ctx, appKey)
	if err != nil {
		return Unknown, err
	}
	if app == nil {
		return Unknown, nil
	}
	return decide(app, op, kind), nil
}

func decide(app *model.ApplicationWithPermissions, op model.SignerType, kind *int) Decision {
	if g, ok := app.FindGrant(op, kind); ok {
		return fromGrant(g)
	}
	if kind != nil {
		if g, ok := app.FindGrant(op, nil); ok {
			return fromGrant(g)
		}
	}
	switch app.Application.SignPolicy {
	case model.PolicyFullyTrust:
		return Allow
	case model.PolicyBasic:
		if op == model.Connect || op == model.GetPublicKey {
			return Allow
		}
	}
	return Unknown
}

func fromGrant(g model.PermissionGrant) Decision {
	if g.Allowed {
		return Allow
	}
	return Deny
}

// EvaluateRequest is Evaluate for a request snapshot, with the pairing check
// for bunker peers: a peer paired with a secret must present the same secret
// on connect, and any secret it does present must match.
func (e *Engine) EvaluateRequest(ctx context.Context, req model.SigningRequest) (Decision, error) {
	app, err := e.store.GetByKey(ctx, req.RequesterKey)
	if err != nil {
		return Unknown, err
	}
	if app == nil {
		return Unknown, nil
	}
	if req.IsRemote() && !SecretMatches(app.Application, req) {
		return Unknown, nil
	}
	return decide(app, req.Kind, req.EventKind()), nil
}

// SecretMatches reports whether req passes the pairing check of rec.
func SecretMatches(rec model.ApplicationRecord, req model.SigningRequest) bool {
	if req.Bunker == nil || !rec.UseSecret || rec.Secret == "" {
		return true
	}
	presented := req.Bunker.Secret
	if presented == nil {
		return req.Kind != model.Connect
	}
	return *presented == rec.Secret
}

// NewRecord builds the application created on first contact with key. A
// bunker secret present on the request pairs the application with it.
func NewRecord(key, name string, req model.SigningRequest, signPolicy model.SignPolicy) *model.ApplicationWithPermissions {
	rec := model.ApplicationRecord{
		Key:         key,
		Name:        name,
		IsConnected: true,
		SignPolicy:  signPolicy,
		Scheme:      model.SchemeNIP44,
	}
	if b := req.Bunker; b != nil {
		if b.Secret != nil {
			rec.Secret = *b.Secret
			rec.UseSecret = true
		}
		if b.Scheme != "" {
			rec.Scheme = b.Scheme
		}
		rec.Relays = append([]string(nil), b.Relays...)
	}
	return &model.ApplicationWithPermissions{Application: rec}
}

// EnsureApplication returns the stored application for key, creating and
// persisting it on first contact. Relays announced by a bunker request are
// merged into the stored list.
func (e *Engine) EnsureApplication(ctx context.Context, key, name string, req model.SigningRequest) (*model.ApplicationWithPermissions, error) {
	app, err := e.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if app == nil {
		app = NewRecord(key, name, req, e.signPolicy)
	} else if !mergeRelays(&app.Application, req) {
		return app, nil
	}
	if err := e.store.InsertApplicationWithPermissions(ctx, app); err != nil {
		return nil, fmt.Errorf("persist application %s: %w", model.ShortenHex(key), err)
	}
	return app, nil
}

func mergeRelays(rec *model.ApplicationRecord, req model.SigningRequest) bool {
	if req.Bunker == nil {
		return false
	}
	changed := false
	for _, r := range req.Bunker.Relays {
		known := false
		for _, have := range rec.Relays {
			if have == r {
				known = true
				break
			}
		}
		if !known {
			rec.Relays = append(rec.Relays, r)
			changed = true
		}
	}
	return changed
}

// RecordDecision persists allowed for (op, kind) on appKey. The application
// is created on first contact. A grant that already exists for exactly
// (op, kind) is kept: the first remembered choice sticks.
func (e *Engine) RecordDecision(ctx context.Context, appKey string, req model.SigningRequest, op model.SignerType, kind *int, allowed bool) error {
	app, err := e.store.GetByKey(ctx, appKey)
	if err != nil {
		return err
	}
	if app == nil {
		app = NewRecord(appKey, "", req, e.signPolicy)
	}
	if _, exists := app.FindGrant(op, kind); exists {
		return nil
	}
	app.Permissions = append(app.Permissions, model.PermissionGrant{Type: op, Kind: kind, Allowed: allowed})
	if err := e.store.InsertApplicationWithPermissions(ctx, app); err != nil {
		return fmt.Errorf("record %s decision for %s: %w", op, model.ShortenHex(appKey), err)
	}
	return nil
}
