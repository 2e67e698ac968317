// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cfg "github.com/toeirei/keysigner/internal/config"
)

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Chdir(tmp)

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		t.Fatalf("expected ConfigFileNotFoundError, got: %T %v", err, err)
	}
	if got.Database.Type != "sqlite" || got.Language != "en" || got.Log.Level != "info" {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if len(got.Relays) == 0 || got.Keystore.ScryptN != 1<<16 {
		t.Fatalf("relay or keystore defaults missing: %+v", got)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	yaml := "database:\n  type: postgres\n  dsn: postgresql://user@/db\nlanguage: de\nrelays:\n  - wss://one.example\n"
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "postgres" || got.Language != "de" {
		t.Fatalf("file values not applied: %+v", got)
	}
	if len(got.Relays) != 1 || got.Relays[0] != "wss://one.example" {
		t.Fatalf("relays = %v", got.Relays)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("KEYSIGNER_LOG_LEVEL", "debug")
	t.Setenv("KEYSIGNER_DATABASE_DSN", "/tmp/override.db")
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte("log:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Log.Level != "debug" || got.Database.Dsn != "/tmp/override.db" {
		t.Fatalf("environment not applied: %+v", got)
	}
}

func TestLoadConfig_FlagsWin(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Chdir(tmp)
	cmd := &cobra.Command{}
	cmd.Flags().String("database.type", "sqlite", "")
	if err := cmd.Flags().Set("database.type", "mysql"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	got, _ := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if got.Database.Type != "mysql" {
		t.Fatalf("flag not bound, got %q", got.Database.Type)
	}
}

func TestWriteConfigFile_CreatesFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	c := cfg.Config{}
	c.Database.Type = "sqlite"
	c.Database.Dsn = "./keysigner.db"
	c.Language = "en"
	c.Relays = []string{"wss://relay.example"}

	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}
	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath failed: %v", err)
	}
	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("reload written config: %v", err)
	}
	if got.Database.Dsn != "./keysigner.db" || got.Relays[0] != "wss://relay.example" {
		t.Fatalf("round trip lost values: %+v", got)
	}
}
