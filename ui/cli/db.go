// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysigner/internal/db"
	"github.com/toeirei/keysigner/internal/i18n"
)

// runDBMaintenance allows tests to skip the engine-specific statements.
var runDBMaintenance = db.RunDBMaintenance

func newDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database administration",
	}
	dbCmd.AddCommand(&cobra.Command{
		Use:   "maintain",
		Short: "Run engine-specific maintenance (VACUUM, OPTIMIZE, integrity check)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runDBMaintenance(appConfig.Database.Type, appConfig.Database.Dsn); err != nil {
				return fmt.Errorf("database maintenance failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.maintenance_done"))
			return nil
		},
	})
	dbCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// opening the store runs the migrations
			if _, err := openStore(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.migrated"))
			return nil
		},
	})
	return dbCmd
}
