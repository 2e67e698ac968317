// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysigner/internal/coordinator"
	"github.com/toeirei/keysigner/internal/db"
	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/model"
)

// accountStore returns the store of the account named by --account.
func accountStore(cmd *cobra.Command) (*db.AccountStore, error) {
	flag, _ := cmd.Flags().GetString("account")
	info, err := lookupAccount(openKeystore(), accountID(flag))
	if err != nil {
		return nil, err
	}
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	return st.ForAccount(info.PubKey), nil
}

func newAppsCmd() *cobra.Command {
	appsCmd := &cobra.Command{
		Use:   "apps",
		Short: "Inspect and remove applications known to an account",
	}
	appsCmd.PersistentFlags().String("account", "", "Account (hex or npub); defaults to account.default")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := accountStore(cmd)
			if err != nil {
				return err
			}
			apps, err := st.ListApplications(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list applications: %w", err)
			}
			if len(apps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.no_apps"))
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKEY\tPOLICY\tSCHEME\tGRANTS\tRELAYS")
			for _, a := range apps {
				r := a.Application
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.Name, r.Key, r.SignPolicy, r.Scheme, len(a.Permissions), strings.Join(r.Relays, ","))
			}
			return w.Flush()
		},
	}

	grantsCmd := &cobra.Command{
		Use:   "grants <app-key>",
		Short: "Show the remembered permissions of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := accountStore(cmd)
			if err != nil {
				return err
			}
			app, err := st.GetByKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if app == nil {
				return fmt.Errorf("application %s: %w", model.ShortenHex(args[0]), db.ErrNotFound)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PERMISSION\tTYPE\tKIND\tDECISION")
			for _, g := range app.Permissions {
				kind := "*"
				if g.Kind != nil {
					kind = fmt.Sprint(*g.Kind)
				}
				decision := "deny"
				if g.Allowed {
					decision = "allow"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", coordinator.PermissionTitle(g.Type, g.Kind), g.Type, kind, decision)
			}
			return w.Flush()
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <app-key>",
		Short: "Forget an application and its permissions (history is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := accountStore(cmd)
			if err != nil {
				return err
			}
			if err := st.DeleteApplication(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.app_removed", args[0]))
			return nil
		},
	}

	appsCmd.AddCommand(listCmd, grantsCmd, removeCmd)
	return appsCmd
}
