// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"strings"
	"time"
)

// SignPolicy is the standing trust level granted to an application when no
// explicit permission grant matches a request.
type SignPolicy int

const (
	// PolicyManual asks the user for everything not covered by a grant.
	PolicyManual SignPolicy = iota
	// PolicyBasic approves connection handshakes and public key lookups.
	PolicyBasic
	// PolicyFullyTrust approves every request not explicitly denied.
	PolicyFullyTrust
)

var signPolicyNames = map[SignPolicy]string{
	PolicyManual:     "manual",
	PolicyBasic:      "basic",
	PolicyFullyTrust: "full",
}

func (p SignPolicy) String() string {
	if n, ok := signPolicyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParseSignPolicy accepts the names printed by String.
func ParseSignPolicy(s string) (SignPolicy, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for p, name := range signPolicyNames {
		if name == n {
			return p, nil
		}
	}
	return PolicyManual, fmt.Errorf("unknown sign policy %q", s)
}

// Scheme is the encryption used for bunker replies to a remote peer.
type Scheme string

const (
	SchemeNIP04 Scheme = "nip04"
	SchemeNIP44 Scheme = "nip44"
)

// ApplicationRecord is a requester known to one signing account. The Key is
// the remote correlation pubkey for bunker peers or the package identity for
// local callers.
type ApplicationRecord struct {
	ID            int64
	Key           string
	Name          string
	AccountPubKey string
	Secret        string
	UseSecret     bool
	IsConnected   bool
	// RememberAll is persisted with the record only; grant evaluation
	// does not read it.
	RememberAll   bool
	SignPolicy    SignPolicy
	Scheme        Scheme
	Relays        []string
	CreatedAt     time.Time
}

// PermissionGrant is a persisted allow/deny decision. A nil Kind applies to
// every event kind under the operation.
type PermissionGrant struct {
	Type    SignerType
	Kind    *int
	Allowed bool
}

// Matches reports whether the grant is for exactly (typ, kind).
func (g PermissionGrant) Matches(typ SignerType, kind *int) bool {
	if g.Type != typ {
		return false
	}
	if g.Kind == nil || kind == nil {
		return g.Kind == nil && kind == nil
	}
	return *g.Kind == *kind
}

// ApplicationWithPermissions is the aggregate read and written by the store.
type ApplicationWithPermissions struct {
	Application ApplicationRecord
	Permissions []PermissionGrant
}

// FindGrant returns the first grant matching (typ, kind) exactly.
func (a *ApplicationWithPermissions) FindGrant(typ SignerType, kind *int) (PermissionGrant, bool) {
	for _, g := range a.Permissions {
		if g.Matches(typ, kind) {
			return g, true
		}
	}
	return PermissionGrant{}, false
}

// HistoryEntry is one append-only audit row.
type HistoryEntry struct {
	ID             int64
	ApplicationKey string
	Type           SignerType
	Kind           *int
	Time           time.Time
	Accepted       bool
}

// IntPtr is a small helper for optional event kinds.
func IntPtr(v int) *int { return &v }
