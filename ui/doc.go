// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package ui contains the user-facing entry points of Keysigner. The
// command-line interface lives in ui/cli.
package ui
