// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package keys

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/security"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// ErrWrongPassphrase is returned when a key file cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key file")

// ErrAccountNotFound is returned when no key file exists for an account.
var ErrAccountNotFound = errors.New("account not found")

// Default scrypt cost parameters for key files.
const (
	DefaultScryptN = 1 << 16
	scryptR        = 8
	scryptP        = 1
)

// keyFile is the on-disk JSON form. Only the sealed box carries key material.
type keyFile struct {
	PubKey     string           `json:"pubkey"`
	Name       string           `json:"name"`
	SignPolicy model.SignPolicy `json:"sign_policy"`
	Salt       string           `json:"salt"`
	Nonce      string           `json:"nonce"`
	Box        string           `json:"box"`
	ScryptN    int              `json:"scrypt_n"`
	CreatedAt  time.Time        `json:"created_at"`
}

// AccountInfo is the public part of a stored account.
type AccountInfo struct {
	PubKey     string
	Name       string
	SignPolicy model.SignPolicy
	CreatedAt  time.Time
}

// Keystore keeps one passphrase-sealed key file per account in a directory.
type Keystore struct {
	dir     string
	scryptN int
}

// NewKeystore returns a keystore rooted at dir. scryptN of zero selects
// DefaultScryptN; tests pass a small power of two.
func NewKeystore(dir string, scryptN int) *Keystore {
	if scryptN <= 0 {
		scryptN = DefaultScryptN
	}
	return &Keystore{dir: dir, scryptN: scryptN}
}

// Dir returns the keystore directory.
func (s *Keystore) Dir() string { return s.dir }

func (s *Keystore) path(pubKey string) string {
	return filepath.Join(s.dir, pubKey+".json")
}

func deriveBoxKey(passphrase, salt []byte, n int) (*[32]byte, error) {
	k, err := scrypt.Key(passphrase, salt, n, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], k)
	wipe(k)
	return &key, nil
}

// Save seals kp with passphrase and writes it. Existing files are replaced.
func (s *Keystore) Save(info AccountInfo, kp *KeyPair, passphrase []byte) error {
	if len(passphrase) == 0 {
		return errors.New("empty passphrase")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create keystore dir %s: %w", s.dir, err)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	key, err := deriveBoxKey(passphrase, salt, s.scryptN)
	if err != nil {
		return err
	}
	defer func() { *key = [32]byte{} }()

	box := secretbox.Seal(nil, kp.Private, &nonce, key)
	created := info.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	f := keyFile{
		PubKey:     kp.PubKey,
		Name:       info.Name,
		SignPolicy: info.SignPolicy,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce[:]),
		Box:        hex.EncodeToString(box),
		ScryptN:    s.scryptN,
		CreatedAt:  created,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(kp.PubKey), data, 0o600)
}

func (s *Keystore) read(pubKey string) (*keyFile, error) {
	data, err := os.ReadFile(s.path(pubKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", model.ShortenHex(pubKey), ErrAccountNotFound)
		}
		return nil, err
	}
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse key file for %s: %w", model.ShortenHex(pubKey), err)
	}
	return &f, nil
}

// Info returns the public part of an account without unlocking it.
func (s *Keystore) Info(id string) (AccountInfo, error) {
	pub, err := NormalizePubKey(id)
	if err != nil {
		return AccountInfo{}, err
	}
	f, err := s.read(pub)
	if err != nil {
		return AccountInfo{}, err
	}
	return AccountInfo{PubKey: f.PubKey, Name: f.Name, SignPolicy: f.SignPolicy, CreatedAt: f.CreatedAt}, nil
}

// Load unlocks the account identified by hex pubkey or npub.
func (s *Keystore) Load(id string, passphrase []byte) (*KeyPair, error) {
	pub, err := NormalizePubKey(id)
	if err != nil {
		return nil, err
	}
	f, err := s.read(pub)
	if err != nil {
		return nil, err
	}
	salt, err1 := hex.DecodeString(f.Salt)
	nonceBytes, err2 := hex.DecodeString(f.Nonce)
	box, err3 := hex.DecodeString(f.Box)
	if err1 != nil || err2 != nil || err3 != nil || len(nonceBytes) != 24 {
		return nil, ErrWrongPassphrase
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	n := f.ScryptN
	if n <= 0 {
		n = DefaultScryptN
	}
	key, err := deriveBoxKey(passphrase, salt, n)
	if err != nil {
		return nil, err
	}
	defer func() { *key = [32]byte{} }()

	opened, ok := secretbox.Open(nil, box, &nonce, key)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	priv := security.Secret(opened)
	defer priv.Zero()
	kp, err := FromSecret(priv)
	if err != nil {
		return nil, err
	}
	if kp.PubKey != f.PubKey {
		kp.Zero()
		return nil, ErrWrongPassphrase
	}
	return kp, nil
}

// List returns every stored account sorted by name then pubkey.
func (s *Keystore) List() ([]AccountInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []AccountInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		f, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, AccountInfo{PubKey: f.PubKey, Name: f.Name, SignPolicy: f.SignPolicy, CreatedAt: f.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PubKey < out[j].PubKey
	})
	return out, nil
}
