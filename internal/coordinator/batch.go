// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/policy"
)

// GroupKey identifies a consent group: the operation, plus the event kind
// for SignEvent requests (Kind is -1 otherwise).
type GroupKey struct {
	Type model.SignerType
	Kind int
}

func groupKeyFor(req model.SigningRequest) GroupKey {
	if k := req.EventKind(); k != nil {
		return GroupKey{Type: req.Kind, Kind: *k}
	}
	return GroupKey{Type: req.Kind, Kind: -1}
}

// EventKind returns the event kind of the group, or nil.
func (k GroupKey) EventKind() *int {
	if k.Kind < 0 {
		return nil
	}
	return model.IntPtr(k.Kind)
}

// String renders "sign_event:1" or "nip04_encrypt".
func (k GroupKey) String() string {
	if k.Kind < 0 {
		return k.Type.String()
	}
	return k.Type.String() + ":" + strconv.Itoa(k.Kind)
}

// ParseGroupKey is the inverse of GroupKey.String.
func ParseGroupKey(s string) (GroupKey, error) {
	name, kind, hasKind := strings.Cut(strings.TrimSpace(s), ":")
	typ, err := model.ParseSignerType(name)
	if err != nil {
		return GroupKey{}, err
	}
	if !hasKind {
		return GroupKey{Type: typ, Kind: -1}, nil
	}
	k, err := strconv.Atoi(kind)
	if err != nil || k < 0 {
		return GroupKey{}, fmt.Errorf("invalid event kind in group %q", s)
	}
	return GroupKey{Type: typ, Kind: k}, nil
}

// Group is one consent group with its request ids in arrival order.
type Group struct {
	Key GroupKey
	IDs []string
}

// Batch is an immutable set of requests plus the mutable decisions taken on
// them. It can be committed or discarded once.
type Batch struct {
	ID        string
	requests  []model.SigningRequest
	byID      map[string]int
	groups    []*Group
	decisions *Decisions

	mu   sync.Mutex
	done bool
}

// NewBatch groups requests in first-arrival order. SignEvent requests are
// grouped per event kind, everything else per operation. Every group starts
// accepted, every item selected and remember is off. A repeated request id
// is dropped.
func NewBatch(requests []model.SigningRequest) *Batch {
	b := &Batch{ID: uuid.NewString(), byID: map[string]int{}}
	index := map[GroupKey]*Group{}
	itemGroup := map[string]GroupKey{}
	for _, req := range requests {
		if _, dup := b.byID[req.ID]; dup {
			logging.Warnf("coordinator: batch %s drops repeated request %s", b.ID, req.ID)
			continue
		}
		b.byID[req.ID] = len(b.requests)
		b.requests = append(b.requests, req)
		key := groupKeyFor(req)
		g, ok := index[key]
		if !ok {
			g = &Group{Key: key}
			index[key] = g
			b.groups = append(b.groups, g)
		}
		g.IDs = append(g.IDs, req.ID)
		itemGroup[req.ID] = key
	}
	b.decisions = newDecisions(itemGroup)
	return b
}

// Requests returns the requests in arrival order.
func (b *Batch) Requests() []model.SigningRequest {
	return append([]model.SigningRequest(nil), b.requests...)
}

// Request returns the request with id.
func (b *Batch) Request(id string) (model.SigningRequest, bool) {
	i, ok := b.byID[id]
	if !ok {
		return model.SigningRequest{}, false
	}
	return b.requests[i], true
}

// Groups returns the consent groups in first-arrival order.
func (b *Batch) Groups() []Group {
	out := make([]Group, 0, len(b.groups))
	for _, g := range b.groups {
		out = append(out, Group{Key: g.Key, IDs: append([]string(nil), g.IDs...)})
	}
	return out
}

// Decisions returns the decision set of the batch.
func (b *Batch) Decisions() *Decisions { return b.decisions }

// HasBunker reports whether any request came through the bunker.
func (b *Batch) HasBunker() bool {
	for _, r := range b.requests {
		if r.IsRemote() {
			return true
		}
	}
	return false
}

// bunkerRelays returns the distinct relays announced by bunker requests.
func (b *Batch) bunkerRelays() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range b.requests {
		if r.Bunker == nil {
			continue
		}
		for _, u := range r.Bunker.Relays {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}

func (b *Batch) finish() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return false
	}
	b.done = true
	return true
}

// Evaluator answers whether a request is already covered by stored policy.
type Evaluator interface {
	EvaluateRequest(ctx context.Context, req model.SigningRequest) (policy.Decision, error)
}

// Preselect seeds item selection from standing grants: Allow selects, Deny
// unselects. It reports whether any item still needs the user's consent.
func (b *Batch) Preselect(ctx context.Context, ev Evaluator) (bool, error) {
	needsConsent := false
	for _, req := range b.requests {
		d, err := ev.EvaluateRequest(ctx, req)
		if err != nil {
			return true, fmt.Errorf("evaluate %s: %w", req.ID, err)
		}
		switch d {
		case policy.Allow:
			b.decisions.SetSelected(req.ID, true)
		case policy.Deny:
			b.decisions.SetSelected(req.ID, false)
		default:
			needsConsent = true
		}
	}
	return needsConsent, nil
}

// Decisions holds the user's choices for a batch. Group and item flags are
// independent: toggling a group never rewrites its items.
type Decisions struct {
	mu            sync.RWMutex
	itemGroup     map[string]GroupKey
	groupAccepted map[GroupKey]bool
	groupRemember map[GroupKey]bool
	selected      map[string]bool
	remember      map[string]bool
}

func newDecisions(itemGroup map[string]GroupKey) *Decisions {
	d := &Decisions{
		itemGroup:     itemGroup,
		groupAccepted: map[GroupKey]bool{},
		groupRemember: map[GroupKey]bool{},
		selected:      map[string]bool{},
		remember:      map[string]bool{},
	}
	for id, g := range itemGroup {
		d.groupAccepted[g] = true
		d.selected[id] = true
	}
	return d
}

// SetGroupAccepted accepts or rejects a whole group.
func (d *Decisions) SetGroupAccepted(g GroupKey, accepted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupAccepted[g] = accepted
}

// SetGroupRemember sets "always apply this choice" for a group.
func (d *Decisions) SetGroupRemember(g GroupKey, remember bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupRemember[g] = remember
}

// SetSelected selects or unselects one item.
func (d *Decisions) SetSelected(id string, selected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.itemGroup[id]; ok {
		d.selected[id] = selected
	}
}

// SetRemember overrides the group's remember flag for one item.
func (d *Decisions) SetRemember(id string, remember bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.itemGroup[id]; ok {
		d.remember[id] = remember
	}
}

// RejectAll marks every group rejected.
func (d *Decisions) RejectAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for g := range d.groupAccepted {
		d.groupAccepted[g] = false
	}
}

// Approved is true when the item's group is accepted and the item selected.
func (d *Decisions) Approved(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.itemGroup[id]
	return ok && d.groupAccepted[g] && d.selected[id]
}

// Remember returns the item override, or the group flag.
func (d *Decisions) Remember(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.remember[id]; ok {
		return v
	}
	return d.groupRemember[d.itemGroup[id]]
}

// Selected reports the item flag alone.
func (d *Decisions) Selected(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selected[id]
}

// GroupAccepted reports the group flag alone.
func (d *Decisions) GroupAccepted(g GroupKey) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.groupAccepted[g]
}

// GroupRemember reports the group remember flag.
func (d *Decisions) GroupRemember(g GroupKey) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.groupRemember[g]
}
