// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import "github.com/nbd-wtf/go-nostr"

func testEvent(kind int) *nostr.Event {
	return &nostr.Event{Kind: kind, Content: "test", Tags: nostr.Tags{}}
}
