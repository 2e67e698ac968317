// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/state"
	"golang.org/x/term"
)

// passphraseEnv lets scripts unlock accounts without a terminal.
const passphraseEnv = "KEYSIGNER_PASSPHRASE"

// readPassphraseFunc is replaced in tests.
var readPassphraseFunc = readPassphrase

func readPassphrase(prompt string) ([]byte, error) {
	if v, ok := os.LookupEnv(passphraseEnv); ok {
		return []byte(v), nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return b, err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// newPassphrase asks twice and compares.
func newPassphrase() ([]byte, error) {
	p1, err := readPassphraseFunc(i18n.T("cli.passphrase"))
	if err != nil {
		return nil, err
	}
	if _, ok := os.LookupEnv(passphraseEnv); ok {
		return p1, nil
	}
	p2, err := readPassphraseFunc(i18n.T("cli.passphrase_confirm"))
	if err != nil {
		return nil, err
	}
	if string(p1) != string(p2) {
		return nil, errors.New(i18n.T("cli.passphrase_mismatch"))
	}
	return p1, nil
}

// accountID returns the --account flag value or the configured default.
func accountID(flag string) string {
	if flag != "" {
		return flag
	}
	return appConfig.Account.Default
}

// lookupAccount resolves id without unlocking. An empty id picks the only
// stored account.
func lookupAccount(ks *keys.Keystore, id string) (keys.AccountInfo, error) {
	if id != "" {
		return ks.Info(id)
	}
	all, err := ks.List()
	if err != nil {
		return keys.AccountInfo{}, err
	}
	if len(all) != 1 {
		return keys.AccountInfo{}, fmt.Errorf("%d accounts stored, choose one with --account: %w", len(all), keys.ErrAccountResolution)
	}
	return all[0], nil
}

// unlockResolver asks for the passphrase of every account in ids and
// returns a resolver over the keystore. Empty ids mean the default account.
func unlockResolver(ctx context.Context, ks *keys.Keystore, defaultID string, ids []string) (*keys.KeystoreResolver, error) {
	def, err := lookupAccount(ks, defaultID)
	if err != nil {
		return nil, err
	}
	r := keys.NewKeystoreResolver(ks, def.PubKey)
	seen := map[string]bool{}
	for _, id := range append([]string{""}, ids...) {
		info := def
		if id != "" {
			if info, err = ks.Info(id); err != nil {
				logging.Warnf("batch names unknown account %s: %v", model.ShortenHex(id), err)
				continue
			}
		}
		if seen[info.PubKey] {
			continue
		}
		seen[info.PubKey] = true
		pass, err := readPassphraseFunc(fmt.Sprintf("%s (%s) %s", info.Name, model.ShortenHex(info.PubKey), i18n.T("cli.passphrase")))
		if err != nil {
			return nil, err
		}
		state.Passphrases.Set(info.PubKey, pass)
		wipe(pass)
		_, err = r.Resolve(ctx, info.PubKey)
		// the resolver keeps the unlocked key; the passphrase is not needed again
		state.Passphrases.Set(info.PubKey, nil)
		if err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
