// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package coordinator

import (
	"fmt"
	"strings"

	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/model"
)

const previewRunes = 80

// PromptView is the localized consent view of a batch.
type PromptView struct {
	Title         string
	RememberLabel string
	ApproveLabel  string
	RejectLabel   string
	Groups        []GroupView
}

// GroupView is one consent group.
type GroupView struct {
	Key      string
	Title    string
	Detail   string
	Accepted bool
	Remember bool
	Items    []ItemView
}

// ItemView is one request preview.
type ItemView struct {
	ID       string
	Preview  string
	Selected bool
}

// Prompt renders b for the user in the active language. appName may be
// empty.
func (b *Batch) Prompt(appName string) PromptView {
	if appName == "" {
		appName = i18n.T("consent.unnamed_app")
	}
	v := PromptView{
		Title:         i18n.T("consent.title", appName),
		RememberLabel: i18n.T("consent.remember"),
		ApproveLabel:  i18n.T("consent.approve_selected"),
		RejectLabel:   i18n.T("consent.reject_all"),
	}
	d := b.decisions
	for _, g := range b.groups {
		title := PermissionTitle(g.Key.Type, g.Key.EventKind())
		gv := GroupView{
			Key:      g.Key.String(),
			Title:    title,
			Detail:   i18n.T("consent.group_detail", appName, title),
			Accepted: d.GroupAccepted(g.Key),
			Remember: d.GroupRemember(g.Key),
		}
		for _, id := range g.IDs {
			req, _ := b.Request(id)
			gv.Items = append(gv.Items, ItemView{ID: id, Preview: preview(req), Selected: d.Selected(id)})
		}
		v.Groups = append(v.Groups, gv)
	}
	return v
}

// PermissionTitle describes an operation, naming the event kind for
// SignEvent grants.
func PermissionTitle(op model.SignerType, kind *int) string {
	if op == model.SignEvent && kind != nil {
		return i18n.T("permission.sign_event_kind", KindName(*kind))
	}
	return i18n.T("permission." + op.String())
}

// KindName returns the localized name of an event kind.
func KindName(kind int) string {
	id := fmt.Sprintf("kind.%d", kind)
	if i18n.Has(id) {
		return i18n.T(id)
	}
	return i18n.T("kind.unknown", kind)
}

func preview(req model.SigningRequest) string {
	var s string
	switch {
	case req.Event != nil && req.Event.Kind == model.KindRelayAuth:
		return i18n.T("consent.relay_auth", model.TagValue(req.Event, "relay"))
	case req.Event != nil:
		s = req.Event.Content
	case req.Kind == model.Connect || req.Kind == model.GetPublicKey:
		return ""
	default:
		s = req.Payload
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewRunes {
		return string(r[:previewRunes-1]) + "…"
	}
	return s
}
