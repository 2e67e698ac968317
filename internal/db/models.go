// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"time"

	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/uptrace/bun"
)

// allKinds is the persisted stand-in for a nil kind so that the unique index
// on (application_id, type, kind) holds on every engine.
const allKinds = -1

// ApplicationModel maps the applications table.
type ApplicationModel struct {
	bun.BaseModel `bun:"table:applications"`
	ID            int64     `bun:"id,pk,autoincrement"`
	AccountPubKey string    `bun:"account_pubkey"`
	Key           string    `bun:"app_key"`
	Name          string    `bun:"name"`
	Secret        string    `bun:"secret"`
	UseSecret     bool      `bun:"use_secret"`
	IsConnected   bool      `bun:"is_connected"`
	RememberAll   bool      `bun:"remember_all"`
	SignPolicy    int       `bun:"sign_policy"`
	Scheme        string    `bun:"scheme"`
	Relays        []string  `bun:"relays"`
	CreatedAt     time.Time `bun:"created_at"`
}

// PermissionModel maps the permissions table.
type PermissionModel struct {
	bun.BaseModel `bun:"table:permissions"`
	ID            int64  `bun:"id,pk,autoincrement"`
	ApplicationID int64  `bun:"application_id"`
	Type          string `bun:"type"`
	Kind          int    `bun:"kind"`
	Allowed       bool   `bun:"allowed"`
}

// HistoryModel maps the history table.
type HistoryModel struct {
	bun.BaseModel `bun:"table:history"`
	ID            int64     `bun:"id,pk,autoincrement"`
	AccountPubKey string    `bun:"account_pubkey"`
	AppKey        string    `bun:"app_key"`
	Type          string    `bun:"type"`
	Kind          *int      `bun:"kind"`
	CreatedAt     time.Time `bun:"created_at"`
	Accepted      bool      `bun:"accepted"`
}

// --- Mapping helpers ---

func applicationToModel(account string, a model.ApplicationRecord) *ApplicationModel {
	scheme := a.Scheme
	if scheme == "" {
		scheme = model.SchemeNIP44
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &ApplicationModel{
		ID:            a.ID,
		AccountPubKey: account,
		Key:           a.Key,
		Name:          a.Name,
		Secret:        a.Secret,
		UseSecret:     a.UseSecret,
		IsConnected:   a.IsConnected,
		RememberAll:   a.RememberAll,
		SignPolicy:    int(a.SignPolicy),
		Scheme:        string(scheme),
		Relays:        a.Relays,
		CreatedAt:     created,
	}
}

func applicationModelToModel(m ApplicationModel) model.ApplicationRecord {
	return model.ApplicationRecord{
		ID:            m.ID,
		Key:           m.Key,
		Name:          m.Name,
		AccountPubKey: m.AccountPubKey,
		Secret:        m.Secret,
		UseSecret:     m.UseSecret,
		IsConnected:   m.IsConnected,
		RememberAll:   m.RememberAll,
		SignPolicy:    model.SignPolicy(m.SignPolicy),
		Scheme:        model.Scheme(m.Scheme),
		Relays:        m.Relays,
		CreatedAt:     m.CreatedAt,
	}
}

func grantToModel(appID int64, g model.PermissionGrant) PermissionModel {
	kind := allKinds
	if g.Kind != nil {
		kind = *g.Kind
	}
	return PermissionModel{ApplicationID: appID, Type: g.Type.String(), Kind: kind, Allowed: g.Allowed}
}

func permissionModelToModel(p PermissionModel) (model.PermissionGrant, bool) {
	typ, err := model.ParseSignerType(p.Type)
	if err != nil {
		logging.Warnf("db: ignoring grant %d with unknown type %q", p.ID, p.Type)
		return model.PermissionGrant{}, false
	}
	g := model.PermissionGrant{Type: typ, Allowed: p.Allowed}
	if p.Kind != allKinds {
		g.Kind = model.IntPtr(p.Kind)
	}
	return g, true
}

func historyModelToModel(h HistoryModel) model.HistoryEntry {
	e := model.HistoryEntry{ID: h.ID, ApplicationKey: h.AppKey, Time: h.CreatedAt, Accepted: h.Accepted, Kind: h.Kind}
	if typ, err := model.ParseSignerType(h.Type); err == nil {
		e.Type = typ
	}
	return e
}
