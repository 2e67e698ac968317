// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Keysigner.
//
// Usage:
//
//	go run . [flags]
//	./keysigner [flags]
//
// See --help for the available commands.
package main

import (
	"log"
	"os"

	"github.com/toeirei/keysigner/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Printf("keysigner: %v", err)
		os.Exit(1)
	}
}
