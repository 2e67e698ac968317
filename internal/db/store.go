// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/toeirei/keysigner/internal/model"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned by admin operations on unknown applications.
var ErrNotFound = errors.New("not found")

// maxWriteAttempts bounds retries of a transaction that lost a unique-key race.
const maxWriteAttempts = 3

// PermissionStore is the per-account view the policy engine and the batch
// coordinator work against.
type PermissionStore interface {
	// GetByKey returns the application with its grants, or nil when unknown.
	GetByKey(ctx context.Context, key string) (*model.ApplicationWithPermissions, error)
	// InsertApplicationWithPermissions creates or updates the application
	// and adds every grant that has no (type, kind) row yet. Existing grants
	// are never replaced.
	InsertApplicationWithPermissions(ctx context.Context, app *model.ApplicationWithPermissions) error
	// AddHistory appends one audit row.
	AddHistory(ctx context.Context, entry model.HistoryEntry) error
}

func unionRelays(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, r := range add {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// BunStore is the Bun-backed store shared by every account.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

// BunDB exposes the underlying *bun.DB.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// Type returns the database engine name.
func (s *BunStore) Type() string { return s.dbType }

// Close closes the connection pool.
func (s *BunStore) Close() error { return s.bun.Close() }

// ForAccount returns the store scoped to one signing account.
func (s *BunStore) ForAccount(pubKey string) *AccountStore {
	return &AccountStore{s: s, account: pubKey}
}

// AccountStore is a BunStore scoped to one account pubkey.
type AccountStore struct {
	s       *BunStore
	account string
}

var _ PermissionStore = (*AccountStore)(nil)

// Account returns the account pubkey this store is scoped to.
func (a *AccountStore) Account() string { return a.account }

func (a *AccountStore) grantsFor(ctx context.Context, q bun.IDB, ids ...int64) (map[int64][]model.PermissionGrant, error) {
	out := make(map[int64][]model.PermissionGrant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []PermissionModel
	if err := q.NewSelect().Model(&rows).Where("application_id IN (?)", bun.In(ids)).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if g, ok := permissionModelToModel(r); ok {
			out[r.ApplicationID] = append(out[r.ApplicationID], g)
		}
	}
	return out, nil
}

// GetByKey returns the application registered under key, or nil.
func (a *AccountStore) GetByKey(ctx context.Context, key string) (*model.ApplicationWithPermissions, error) {
	var m ApplicationModel
	err := a.s.bun.NewSelect().Model(&m).
		Where("account_pubkey = ?", a.account).
		Where("app_key = ?", key).
		Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load application %s: %w", model.ShortenHex(key), err)
	}
	grants, err := a.grantsFor(ctx, a.s.bun, m.ID)
	if err != nil {
		return nil, fmt.Errorf("load grants for %s: %w", model.ShortenHex(key), err)
	}
	return &model.ApplicationWithPermissions{Application: applicationModelToModel(m), Permissions: grants[m.ID]}, nil
}

// InsertApplicationWithPermissions upserts app in one transaction. A lost
// unique-key race is retried a bounded number of times.
func (a *AccountStore) InsertApplicationWithPermissions(ctx context.Context, app *model.ApplicationWithPermissions) error {
	if app == nil || app.Application.Key == "" {
		return fmt.Errorf("application without key: %w", model.ErrMalformedInput)
	}
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = a.insertOnce(ctx, app)
		if !errors.Is(err, ErrDuplicate) {
			return err
		}
		dbLogf("db: write conflict on application %s (attempt %d/%d)", model.ShortenHex(app.Application.Key), attempt, maxWriteAttempts)
	}
	return fmt.Errorf("store application %s: %w", model.ShortenHex(app.Application.Key), err)
}

func (a *AccountStore) insertOnce(ctx context.Context, app *model.ApplicationWithPermissions) error {
	var appID int64
	var stored *ApplicationModel
	err := a.s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := applicationToModel(a.account, app.Application)
		m.ID = 0
		// ON CONFLICT DO NOTHING / INSERT IGNORE keeps the first row.
		if _, err := tx.NewInsert().Model(m).Ignore().Returning("NULL").Exec(ctx); err != nil {
			return err
		}
		var cur ApplicationModel
		if err := tx.NewSelect().Model(&cur).
			Where("account_pubkey = ?", a.account).
			Where("app_key = ?", m.Key).
			Limit(1).Scan(ctx); err != nil {
			return err
		}
		appID = cur.ID
		m.ID = appID
		// The caller's snapshot may predate a concurrent writer: relays only
		// grow and a bound pairing secret is never replaced.
		m.Relays = unionRelays(cur.Relays, m.Relays)
		if cur.UseSecret && cur.Secret != "" {
			m.Secret = cur.Secret
			m.UseSecret = true
		}
		if _, err := tx.NewUpdate().Model(m).
			Column("name", "secret", "use_secret", "is_connected", "remember_all", "sign_policy", "scheme", "relays").
			WherePK().Exec(ctx); err != nil {
			return err
		}
		stored = m
		if len(app.Permissions) == 0 {
			return nil
		}
		perms := make([]PermissionModel, 0, len(app.Permissions))
		for _, g := range app.Permissions {
			perms = append(perms, grantToModel(appID, g))
		}
		_, err := tx.NewInsert().Model(&perms).Ignore().Returning("NULL").Exec(ctx)
		return err
	})
	if err != nil {
		return MapDBError(err)
	}
	app.Application.ID = appID
	app.Application.AccountPubKey = a.account
	app.Application.Relays = stored.Relays
	app.Application.Secret = stored.Secret
	app.Application.UseSecret = stored.UseSecret
	return nil
}

// AddHistory appends one audit row for this account.
func (a *AccountStore) AddHistory(ctx context.Context, entry model.HistoryEntry) error {
	at := entry.Time
	if at.IsZero() {
		at = time.Now()
	}
	h := &HistoryModel{
		AccountPubKey: a.account,
		AppKey:        entry.ApplicationKey,
		Type:          entry.Type.String(),
		Kind:          entry.Kind,
		CreatedAt:     at.UTC(),
		Accepted:      entry.Accepted,
	}
	if _, err := a.s.bun.NewInsert().Model(h).Returning("NULL").Exec(ctx); err != nil {
		return fmt.Errorf("add history for %s: %w", model.ShortenHex(entry.ApplicationKey), MapDBError(err))
	}
	return nil
}

// ListApplications returns every application of the account with grants.
func (a *AccountStore) ListApplications(ctx context.Context) ([]model.ApplicationWithPermissions, error) {
	var rows []ApplicationModel
	if err := a.s.bun.NewSelect().Model(&rows).
		Where("account_pubkey = ?", a.account).
		Order("name ASC", "app_key ASC").Scan(ctx); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	grants, err := a.grantsFor(ctx, a.s.bun, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]model.ApplicationWithPermissions, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ApplicationWithPermissions{Application: applicationModelToModel(r), Permissions: grants[r.ID]})
	}
	return out, nil
}

// ListHistory returns history rows newest first. An empty appKey lists every
// application; limit <= 0 means no limit.
func (a *AccountStore) ListHistory(ctx context.Context, appKey string, limit int) ([]model.HistoryEntry, error) {
	var rows []HistoryModel
	q := a.s.bun.NewSelect().Model(&rows).Where("account_pubkey = ?", a.account)
	if appKey != "" {
		q = q.Where("app_key = ?", appKey)
	}
	q = q.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, historyModelToModel(r))
	}
	return out, nil
}

// DeleteApplication removes an application and its grants. History rows are
// kept.
func (a *AccountStore) DeleteApplication(ctx context.Context, key string) error {
	return a.s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var id int64
		err := tx.NewSelect().Model((*ApplicationModel)(nil)).Column("id").
			Where("account_pubkey = ?", a.account).
			Where("app_key = ?", key).
			Limit(1).Scan(ctx, &id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("application %s: %w", model.ShortenHex(key), ErrNotFound)
			}
			return err
		}
		// Explicit delete; SQLite only cascades with foreign_keys enabled.
		if _, err := ExecRaw(ctx, tx, "DELETE FROM permissions WHERE application_id = ?", id); err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if _, err := ExecRaw(ctx, tx, "DELETE FROM applications WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete application: %w", err)
		}
		dbLogf("db: deleted application %s for %s", model.ShortenHex(key), model.ShortenHex(a.account))
		return nil
	})
}

type accountCount struct {
	AccountPubKey string `bun:"account_pubkey"`
	N             int    `bun:"n"`
}

// CountApplications returns the number of applications per account pubkey.
func (s *BunStore) CountApplications(ctx context.Context) (map[string]int, error) {
	var rows []accountCount
	if err := QueryRawInto(ctx, s.bun, &rows, "SELECT account_pubkey, COUNT(*) AS n FROM applications GROUP BY account_pubkey"); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.AccountPubKey] = r.N
	}
	return out, nil
}
