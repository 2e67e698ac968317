// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/keysigner/internal/config"
	"github.com/toeirei/keysigner/internal/db"
	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/logging"
)

var version = "dev"   // set by the linker
var gitCommit = "dev" // short commit SHA, set at build time
var cfgFile string
var verbose bool

var appConfig config.Config

// store is opened lazily by commands that need it; tests may preset it.
var store *db.BunStore

// openStoreFunc allows tests to replace database opening.
var openStoreFunc = db.NewStoreFromDSN

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), optionalConfigPath)
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		// First run: persist the defaults so the user has a file to edit.
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			logging.Warnf("could not write default config file: %v", writeErr)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logging.Configure(appConfig.Log.Level, nil)
	if verbose {
		logging.Configure("debug", nil)
		db.SetDebug(true)
	}
	i18n.Init(appConfig.Language)
	return nil
}

// openStore returns the shared store, opening it on first use.
func openStore() (*db.BunStore, error) {
	if store != nil {
		return store, nil
	}
	s, err := openStoreFunc(appConfig.Database.Type, appConfig.Database.Dsn)
	if err != nil {
		return nil, fmt.Errorf("could not initialize database: %w", err)
	}
	store = s
	return store, nil
}

func openKeystore() *keys.Keystore {
	return keys.NewKeystore(appConfig.Keystore.Dir, appConfig.Keystore.ScryptN)
}

// Execute runs the CLI entrypoint.
func Execute() error {
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()
	return NewRootCmd().Execute()
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// NewRootCmd builds a fresh command tree. Tests call it once per case.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keysigner",
		Short: "Keysigner signs Nostr events on behalf of other applications.",
		Long: `Keysigner holds your Nostr keys and answers signing, encryption and
decryption requests from local applications and remote Nostr Connect
(NIP-46) clients. Every application gets its own permission set; you decide
per request kind and can remember the choice.`,
		PersistentPreRunE: setupDefaultServices,
		SilenceUsage:      true,
	}
	cmd.Version = resolveBuildVersion()

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging (including DB logs)")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Language ("en", "de")`)
	cmd.PersistentFlags().String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "./keysigner.db", "Database connection string (DSN)")
	cmd.PersistentFlags().String("keystore.dir", "", "Directory of encrypted account keys")
	cmd.PersistentFlags().String("account.default", "", "Account used when a request names none (hex or npub)")

	cmd.AddCommand(
		newAccountCmd(),
		newAppsCmd(),
		newHistoryCmd(),
		newBatchCmd(),
		newBunkerCmd(),
		newDBCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), resolveBuildVersion())
			},
		},
	)
	return cmd
}

func resolveBuildVersion() string {
	v, c := version, gitCommit
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				c = s.Value
			}
		}
	}
	if c != "" && c != "dev" {
		return v + " (" + c + ")"
	}
	return v
}
