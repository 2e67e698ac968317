// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// package state provides an in-memory mailbox for keystore passphrases that
// are entered once (CLI prompt or environment) and consumed whenever an
// account key has to be unlocked for a single operation.
package state

import "sync"

// Passphrases is the process-wide passphrase mailbox. Entries are keyed by
// account identifier; the empty key holds the fallback used for every
// account without its own entry.
var Passphrases = &passphraseMailbox{}

type passphraseMailbox struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// Set stores a copy of pass for account, overwriting any previous value. A
// nil pass removes the entry.
func (p *passphraseMailbox) Set(account string, pass []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.values == nil {
		p.values = make(map[string][]byte)
	}
	if old, ok := p.values[account]; ok {
		wipe(old)
		delete(p.values, account)
	}
	if pass == nil {
		return
	}
	v := make([]byte, len(pass))
	copy(v, pass)
	p.values[account] = v
}

// Get returns a copy of the passphrase for account, falling back to the
// default entry. The caller zeroes the returned slice after use.
func (p *passphraseMailbox) Get(account string) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.values[account]
	if !ok {
		v, ok = p.values[""]
	}
	if !ok || v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Clear wipes every stored passphrase.
func (p *passphraseMailbox) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range p.values {
		wipe(v)
		delete(p.values, k)
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
