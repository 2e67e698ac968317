// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the signer configuration from defaults, the
// keysigner.yaml files, KEYSIGNER_* environment variables and command flags,
// and writes it back as YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the persisted signer configuration.
type Config struct {
	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	Language string `mapstructure:"language" yaml:"language"`
	Keystore struct {
		Dir     string `mapstructure:"dir" yaml:"dir"`
		ScryptN int    `mapstructure:"scrypt_n" yaml:"scrypt_n,omitempty"`
	} `mapstructure:"keystore" yaml:"keystore"`
	Account struct {
		Default string `mapstructure:"default" yaml:"default,omitempty"`
	} `mapstructure:"account" yaml:"account"`
	Relays []string `mapstructure:"relays" yaml:"relays"`
	Log    struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"log" yaml:"log"`
}

// GetConfigPath returns the full path of the user or system configuration
// file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keysigner")
		default:
			configDir = "/etc/keysigner"
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, "keysigner")
	}
	return filepath.Join(configDir, "keysigner.yaml"), nil
}

// Defaults returns the built-in values of every key.
func Defaults() map[string]any {
	keystore := "./keys"
	if p, err := GetConfigPath(false); err == nil {
		keystore = filepath.Join(filepath.Dir(p), "keys")
	}
	return map[string]any{
		"database.type":     "sqlite",
		"database.dsn":      "./keysigner.db",
		"language":          "en",
		"keystore.dir":      keystore,
		"keystore.scrypt_n": 1 << 16,
		"account.default":   "",
		"relays":            []string{"wss://relay.nsec.app", "wss://relay.damus.io"},
		"log.level":         "info",
	}
}

// LoadConfig merges defaults, config files, environment and the flags of
// cmd into T. additionalConfigFilePath, when set, takes precedence over the
// search paths. A missing file is reported as viper.ConfigFileNotFoundError
// together with the populated T.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("keysigner")
	v.SetConfigType("yaml")
	if additionalConfigFilePath != nil {
		v.SetConfigFile(*additionalConfigFilePath)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = err
	}

	v.SetEnvPrefix("keysigner")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, notFound
}

// WriteConfigFile stores c as YAML at the user or system config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// 0600: the file may name accounts and private relays.
	return os.WriteFile(path, data, 0o600)
}
