// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/toeirei/keysigner/internal/db"
	"github.com/toeirei/keysigner/internal/keys"
)

var storeSeq atomic.Int64

// NewStore opens an in-memory sqlite store private to this call and closes it
// on cleanup.
func NewStore(t *testing.T) *db.BunStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), storeSeq.Add(1))
	s, err := db.NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewAccount generates a fresh signing account.
func NewAccount(t *testing.T, name string) *keys.Account {
	t.Helper()
	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("keys.Generate: %v", err)
	}
	return &keys.Account{KeyPair: kp, Name: name}
}
