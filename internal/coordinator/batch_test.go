// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package coordinator

import (
	"context"
	"strings"
	"testing"

	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/policy"
)

func TestNewBatchGroupsInArrivalOrder(t *testing.T) {
	b := NewBatch([]model.SigningRequest{
		signReq("a", 1, "one"),
		plainReq("b", model.NIP04Encrypt, "secret", "peer"),
		signReq("c", 1, "two"),
		signReq("d", 7, "+"),
		signReq("a", 1, "repeat"),
	})
	groups := b.Groups()
	want := []string{"sign_event:1", "nip04_encrypt", "sign_event:7"}
	if len(groups) != len(want) {
		t.Fatalf("expected %d groups, got %+v", len(want), groups)
	}
	for i, g := range groups {
		if g.Key.String() != want[i] {
			t.Fatalf("group %d = %s, want %s", i, g.Key, want[i])
		}
	}
	if len(groups[0].IDs) != 2 || groups[0].IDs[1] != "c" {
		t.Fatalf("kind 1 group ids = %v", groups[0].IDs)
	}
	if len(b.Requests()) != 4 {
		t.Fatalf("repeated id must be dropped, got %d requests", len(b.Requests()))
	}
	d := b.Decisions()
	for _, id := range []string{"a", "b", "c", "d"} {
		if !d.Approved(id) || d.Remember(id) {
			t.Fatalf("defaults wrong for %s", id)
		}
	}
}

func TestGroupToggleKeepsItemFlags(t *testing.T) {
	b := NewBatch([]model.SigningRequest{signReq("a", 1, "x"), signReq("b", 1, "y")})
	g := b.Groups()[0].Key
	d := b.Decisions()

	d.SetSelected("b", false)
	d.SetGroupAccepted(g, false)
	if d.Approved("a") || d.Approved("b") {
		t.Fatalf("rejected group must not approve items")
	}
	d.SetGroupAccepted(g, true)
	if !d.Approved("a") || d.Approved("b") || d.Selected("b") {
		t.Fatalf("group toggle rewrote item flags")
	}

	d.SetGroupRemember(g, true)
	d.SetRemember("b", false)
	if !d.Remember("a") || d.Remember("b") {
		t.Fatalf("item remember override not honored")
	}
}

func TestGroupKeyParse(t *testing.T) {
	for _, s := range []string{"sign_event:1", "nip44_decrypt", "connect"} {
		k, err := ParseGroupKey(s)
		if err != nil || k.String() != s {
			t.Fatalf("ParseGroupKey(%q) = %v, %v", s, k, err)
		}
	}
	if _, err := ParseGroupKey("sign_event:x"); err == nil {
		t.Fatalf("expected error for bad kind")
	}
	if _, err := ParseGroupKey("launch_missiles"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestDecisionFileApply(t *testing.T) {
	b := NewBatch([]model.SigningRequest{signReq("a", 1, "x"), signReq("b", 1, "y"), plainReq("c", model.SignMessage, "m", "")})
	f, err := ParseDecisionFile([]byte(`
groups:
  - group: "sign_event:1"
    remember: true
  - group: sign_message
    accepted: false
items:
  - id: b
    selected: false
`))
	if err != nil {
		t.Fatalf("ParseDecisionFile: %v", err)
	}
	if err := f.Apply(b); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	d := b.Decisions()
	if !d.Approved("a") || d.Approved("b") || d.Approved("c") || !d.Remember("a") {
		t.Fatalf("decisions not applied")
	}

	bad := DecisionFile{Items: []ItemDecision{{ID: "zzz"}}}
	if err := bad.Apply(b); err == nil {
		t.Fatalf("unknown id must be rejected")
	}
	bad = DecisionFile{Groups: []GroupDecision{{Group: "sign_event:3"}}}
	if err := bad.Apply(b); err == nil {
		t.Fatalf("unknown group must be rejected")
	}
}

type stubEvaluator map[string]policy.Decision

func (s stubEvaluator) EvaluateRequest(_ context.Context, req model.SigningRequest) (policy.Decision, error) {
	return s[req.ID], nil
}

func TestPreselect(t *testing.T) {
	b := NewBatch([]model.SigningRequest{signReq("a", 1, "x"), signReq("b", 1, "y")})
	need, err := b.Preselect(context.Background(), stubEvaluator{"a": policy.Allow, "b": policy.Deny})
	if err != nil || need {
		t.Fatalf("Preselect = %v, %v", need, err)
	}
	if !b.Decisions().Selected("a") || b.Decisions().Selected("b") {
		t.Fatalf("selection not seeded from grants")
	}
	b = NewBatch([]model.SigningRequest{signReq("a", 1, "x")})
	if need, _ := b.Preselect(context.Background(), stubEvaluator{}); !need {
		t.Fatalf("unknown decision must need consent")
	}
}

func TestPrompt(t *testing.T) {
	i18n.Init("en")
	relayAuth := signReq("auth", model.KindRelayAuth, "")
	relayAuth.Event.Tags = append(relayAuth.Event.Tags, []string{"relay", "wss://relay.example"})
	b := NewBatch([]model.SigningRequest{
		signReq("a", 1, "hello   world"),
		relayAuth,
		plainReq("c", model.NIP44Encrypt, strings.Repeat("x", 200), "peer"),
		signReq("d", 31337, "custom"),
	})
	v := b.Prompt("Client")
	if !strings.Contains(v.Title, "Client") {
		t.Fatalf("title misses app name: %q", v.Title)
	}
	if len(v.Groups) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(v.Groups))
	}
	if v.Groups[0].Title != "Sign short text notes" || v.Groups[0].Items[0].Preview != "hello world" {
		t.Fatalf("unexpected first group: %+v", v.Groups[0])
	}
	if v.Groups[1].Items[0].Preview != "Authenticate to relay wss://relay.example" {
		t.Fatalf("relay auth preview = %q", v.Groups[1].Items[0].Preview)
	}
	if n := len([]rune(v.Groups[2].Items[0].Preview)); n != previewRunes {
		t.Fatalf("preview not truncated: %d runes", n)
	}
	if v.Groups[3].Title != "Sign event kind 31337" {
		t.Fatalf("unknown kind title = %q", v.Groups[3].Title)
	}
	if b.Prompt("").Title == v.Title {
		t.Fatalf("empty app name should use the placeholder")
	}
}
