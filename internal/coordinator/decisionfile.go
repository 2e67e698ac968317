// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package coordinator

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// DecisionFile is the scripted form of a consent answer, as read by
// `batch approve --decisions`.
//
//	reject_all: false
//	groups:
//	  - group: "sign_event:1"
//	    accepted: true
//	    remember: true
//	items:
//	  - id: "req-2"
//	    selected: false
type DecisionFile struct {
	RejectAll bool            `yaml:"reject_all"`
	Groups    []GroupDecision `yaml:"groups"`
	Items     []ItemDecision  `yaml:"items"`
}

// GroupDecision sets the flags of one group. Absent fields keep defaults.
type GroupDecision struct {
	Group    string `yaml:"group"`
	Accepted *bool  `yaml:"accepted,omitempty"`
	Remember *bool  `yaml:"remember,omitempty"`
}

// ItemDecision sets the flags of one request.
type ItemDecision struct {
	ID       string `yaml:"id"`
	Selected *bool  `yaml:"selected,omitempty"`
	Remember *bool  `yaml:"remember,omitempty"`
}

// ParseDecisionFile decodes a YAML decision file.
func ParseDecisionFile(data []byte) (DecisionFile, error) {
	var f DecisionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse decisions: %w", err)
	}
	return f, nil
}

// Apply writes the file's choices into b. Unknown groups or ids are errors.
func (f DecisionFile) Apply(b *Batch) error {
	d := b.Decisions()
	if f.RejectAll {
		d.RejectAll()
	}
	known := map[GroupKey]bool{}
	for _, g := range b.groups {
		known[g.Key] = true
	}
	for _, gd := range f.Groups {
		key, err := ParseGroupKey(gd.Group)
		if err != nil {
			return err
		}
		if !known[key] {
			return fmt.Errorf("group %q is not part of batch %s", gd.Group, b.ID)
		}
		if gd.Accepted != nil {
			d.SetGroupAccepted(key, *gd.Accepted)
		}
		if gd.Remember != nil {
			d.SetGroupRemember(key, *gd.Remember)
		}
	}
	for _, it := range f.Items {
		if _, ok := b.Request(it.ID); !ok {
			return fmt.Errorf("request %q is not part of batch %s", it.ID, b.ID)
		}
		if it.Selected != nil {
			d.SetSelected(it.ID, *it.Selected)
		}
		if it.Remember != nil {
			d.SetRemember(it.ID, *it.Remember)
		}
	}
	return nil
}
