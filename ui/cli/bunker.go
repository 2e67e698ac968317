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
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"
	"github.com/toeirei/keysigner/internal/bunker"
	"github.com/toeirei/keysigner/internal/coordinator"
	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
	"github.com/toeirei/keysigner/internal/relay"
	"github.com/toeirei/keysigner/internal/router"
)

// clipboardWrite is replaced in tests; headless systems have no clipboard.
var clipboardWrite = clipboard.WriteAll

func newBunkerCmd() *cobra.Command {
	bunkerCmd := &cobra.Command{
		Use:   "bunker",
		Short: "Answer Nostr Connect (NIP-46) requests over relays",
	}
	bunkerCmd.PersistentFlags().String("account", "", "Account (hex or npub); defaults to account.default")

	uriCmd := &cobra.Command{
		Use:   "uri",
		Short: "Print the bunker:// pairing URI of an account",
		Long: `Prints the bunker:// URI a client uses to reach the account.

The pairing secret is not stored when the URI is printed and is not
checked against the one a client presents. The first connect from a
client binds whatever secret it carries, after the usual approval, and
later requests from that client must repeat it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, _ := cmd.Flags().GetString("account")
			secret, _ := cmd.Flags().GetString("secret")
			newSecret, _ := cmd.Flags().GetBool("new-secret")
			copyURI, _ := cmd.Flags().GetBool("copy")
			info, err := lookupAccount(openKeystore(), accountID(flag))
			if err != nil {
				return err
			}
			if secret == "" && newSecret {
				secret = bunker.NewSecret()
			}
			uri := bunker.URI(info.PubKey, appConfig.Relays, secret)
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			if copyURI {
				if err := clipboardWrite(uri); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.uri_copied"))
			}
			return nil
		},
	}
	uriCmd.Flags().String("secret", "", "Pairing secret to embed")
	uriCmd.Flags().Bool("new-secret", false, "Generate a random pairing secret")
	uriCmd.Flags().Bool("copy", false, "Copy the URI to the clipboard")

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Serve Nostr Connect requests until interrupted",
		Long: `Subscribes to kind 24133 requests addressed to the account on the
configured relays. Requests covered by stored permissions are answered
directly; the rest are rejected unless --interactive is given, in which
case each one is shown on the terminal for approval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, _ := cmd.Flags().GetString("account")
			interactive, _ := cmd.Flags().GetBool("interactive")
			return runListener(cmd, accountID(flag), interactive)
		},
	}
	listenCmd.Flags().Bool("interactive", false, "Ask on the terminal for requests without a stored permission")

	bunkerCmd.AddCommand(uriCmd, listenCmd)
	return bunkerCmd
}

func runListener(cmd *cobra.Command, id string, interactive bool) error {
	if len(appConfig.Relays) == 0 {
		return router.ErrNoRelays
	}
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	resolver, err := unlockResolver(ctx, openKeystore(), id, nil)
	if err != nil {
		return err
	}
	defer resolver.Close()
	acct, err := resolver.Resolve(ctx, "")
	if err != nil {
		return err
	}

	pool := relay.NewPool(ctx)
	defer pool.Close()
	if err := pool.EnsureConnected(ctx, appConfig.Relays); err != nil {
		return err
	}
	rt := router.New(nil, pool,
		router.WithFallbackRelays(appConfig.Relays),
		router.WithAck(func(url string, evt nostr.Event, err error) {
			if err != nil {
				logging.Warnf("bunker: reply %s to %s failed: %v", model.ShortenHex(evt.ID), url, err)
				return
			}
			logging.Debugf("bunker: reply %s accepted by %s", model.ShortenHex(evt.ID), url)
		}),
	)
	coord := coordinator.New(coordinator.Config{
		Accounts: resolver,
		Engines:  coordinator.EnginesFor(st),
		Crypto:   nipcrypto.New(),
		Router:   rt,
		Relays:   pool,
	})
	l := &bunker.Listener{
		Account:     acct,
		Relays:      appConfig.Relays,
		Subscriber:  pool,
		Coordinator: coord,
	}
	if interactive {
		l.Consent = terminalConsent(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr(), func(b *coordinator.Batch) string {
			if reqs := b.Requests(); len(reqs) > 0 {
				return model.ShortenHex(reqs[0].RequesterKey)
			}
			return ""
		})
	}

	fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.listening", len(appConfig.Relays)))
	err = l.Serve(ctx)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	_ = rt.Drain(dctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
