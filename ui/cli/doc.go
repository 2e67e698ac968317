// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli implements the keysigner command tree: account and
// application administration, history, batch consent and the Nostr Connect
// bunker.
package cli
