// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/keys"
	"github.com/toeirei/keysigner/internal/model"
)

func newAccountCmd() *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage signing accounts (create, list)",
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create or import a signing account",
		Long: `Generates a new Nostr key (or imports one given with --import as hex
or nsec) and stores it encrypted with a passphrase in the keystore.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			policyName, _ := cmd.Flags().GetString("policy")
			imported, _ := cmd.Flags().GetString("import")
			policy, err := model.ParseSignPolicy(policyName)
			if err != nil {
				return err
			}

			var kp *keys.KeyPair
			if imported != "" {
				kp, err = keys.ParsePrivateKey(imported)
			} else {
				kp, err = keys.Generate()
			}
			if err != nil {
				return err
			}
			defer kp.Zero()

			pass, err := newPassphrase()
			if err != nil {
				return err
			}
			defer wipe(pass)
			info := keys.AccountInfo{PubKey: kp.PubKey, Name: name, SignPolicy: policy, CreatedAt: time.Now().UTC()}
			if err := openKeystore().Save(info, kp, pass); err != nil {
				return fmt.Errorf("failed to save account: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.account_created", name, kp.Npub()))
			return nil
		},
	}
	newCmd.Flags().StringP("name", "n", "default", "Account name")
	newCmd.Flags().String("policy", model.PolicyManual.String(), "Sign policy for new applications (manual, basic, full)")
	newCmd.Flags().String("import", "", "Import an existing private key (hex or nsec)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := openKeystore().List()
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.no_accounts"))
				return nil
			}
			counts := map[string]int{}
			if st, err := openStore(); err == nil {
				if c, err := st.CountApplications(cmd.Context()); err == nil {
					counts = c
				}
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPUBKEY\tPOLICY\tAPPS\tCREATED")
			for _, a := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", a.Name, a.PubKey, a.SignPolicy, counts[a.PubKey], a.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}

	accountCmd.AddCommand(newCmd, listCmd)
	return accountCmd
}
