// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/state"
)

// ErrAccountResolution is returned when the account a request names cannot be
// found or unlocked.
var ErrAccountResolution = errors.New("account resolution failed")

// Account is an unlocked signing identity.
type Account struct {
	KeyPair    *KeyPair
	Name       string
	SignPolicy model.SignPolicy
}

// PubKey returns the hex public key of the account.
func (a *Account) PubKey() string { return a.KeyPair.PubKey }

// Resolver maps the account identifier carried by a request (hex, npub or
// empty for the default) to an unlocked account.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Account, error)
}

// KeystoreResolver unlocks accounts from a Keystore with passphrases taken
// from the state mailbox. Unlocked accounts are kept for the resolver's
// lifetime; call Close to wipe them.
type KeystoreResolver struct {
	Store   *Keystore
	Default string

	mu       sync.Mutex
	unlocked map[string]*Account
}

// NewKeystoreResolver returns a resolver over ks. defaultAccount is used for
// requests that do not name an account.
func NewKeystoreResolver(ks *Keystore, defaultAccount string) *KeystoreResolver {
	return &KeystoreResolver{Store: ks, Default: defaultAccount, unlocked: map[string]*Account{}}
}

func (r *KeystoreResolver) Resolve(ctx context.Context, id string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		id = r.Default
	}
	if id == "" {
		accounts, err := r.Store.List()
		if err != nil || len(accounts) != 1 {
			return nil, fmt.Errorf("no account named and no single default: %w", ErrAccountResolution)
		}
		id = accounts[0].PubKey
	}
	pub, err := NormalizePubKey(id)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrAccountResolution)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.unlocked[pub]; ok {
		return acc, nil
	}
	info, err := r.Store.Info(pub)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrAccountResolution)
	}
	pass := state.Passphrases.Get(pub)
	if pass == nil {
		return nil, fmt.Errorf("no passphrase for %s: %w", model.ShortenHex(pub), ErrAccountResolution)
	}
	defer wipe(pass)
	kp, err := r.Store.Load(pub, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %v: %w", model.ShortenHex(pub), err, ErrAccountResolution)
	}
	acc := &Account{KeyPair: kp, Name: info.Name, SignPolicy: info.SignPolicy}
	if r.unlocked == nil {
		r.unlocked = map[string]*Account{}
	}
	r.unlocked[pub] = acc
	return acc, nil
}

// Close wipes every unlocked key.
func (r *KeystoreResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, acc := range r.unlocked {
		acc.KeyPair.Zero()
		delete(r.unlocked, k)
	}
}

// StaticResolver serves a fixed set of accounts. The first account added is
// the default.
type StaticResolver struct {
	accounts map[string]*Account
	def      string
}

// NewStaticResolver returns a resolver over accs.
func NewStaticResolver(accs ...*Account) *StaticResolver {
	s := &StaticResolver{accounts: map[string]*Account{}}
	for _, a := range accs {
		if s.def == "" {
			s.def = a.PubKey()
		}
		s.accounts[a.PubKey()] = a
	}
	return s
}

func (s *StaticResolver) Resolve(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		id = s.def
	}
	pub, err := NormalizePubKey(id)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrAccountResolution)
	}
	acc, ok := s.accounts[pub]
	if !ok {
		return nil, fmt.Errorf("unknown account %s: %w", model.ShortenHex(pub), ErrAccountResolution)
	}
	return acc, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
