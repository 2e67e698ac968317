// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keysigner/internal/coordinator"
	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/logging"
	"github.com/toeirei/keysigner/internal/model"
	"github.com/toeirei/keysigner/internal/nipcrypto"
	"github.com/toeirei/keysigner/internal/relay"
	"github.com/toeirei/keysigner/internal/router"
)

// drainTimeout bounds the wait for outstanding bunker publishes on exit.
const drainTimeout = 20 * time.Second

func readIntents(path string) ([]model.IntentData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	var intents []model.IntentData
	if err := json.Unmarshal(data, &intents); err != nil {
		return nil, fmt.Errorf("decode requests: %v: %w", err, model.ErrMalformedInput)
	}
	return intents, nil
}

func newBatchCmd() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Review and answer a batch of signing requests",
	}

	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Evaluate a batch against stored permissions and commit it",
		Long: `Reads a JSON array of requests, preselects every request that standing
permissions already cover and asks about the rest. Decisions can be given
non-interactively with --decisions (YAML). Local results are printed as one
JSON array on stdout; bunker requests are answered over their relays.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqFile, _ := cmd.Flags().GetString("requests")
			decFile, _ := cmd.Flags().GetString("decisions")
			discard, _ := cmd.Flags().GetBool("discard")
			pkg, _ := cmd.Flags().GetString("package")
			return runBatch(cmd, reqFile, decFile, pkg, discard)
		},
	}
	approveCmd.Flags().String("requests", "", "JSON file with the requests of the batch")
	approveCmd.Flags().String("decisions", "", "YAML file with the decisions (skips the prompt)")
	approveCmd.Flags().Bool("discard", false, "Discard the batch without answering")
	approveCmd.Flags().String("package", "", "Calling application (local requests)")
	_ = approveCmd.MarkFlagRequired("requests")

	batchCmd.AddCommand(approveCmd)
	return batchCmd
}

func runBatch(cmd *cobra.Command, reqFile, decFile, pkg string, discard bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	intents, err := readIntents(reqFile)
	if err != nil {
		return err
	}
	reqs := make([]model.SigningRequest, 0, len(intents))
	var accountIDs []string
	for _, d := range intents {
		req, err := d.ToRequest(pkg)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
		if req.CurrentAccount != "" {
			accountIDs = append(accountIDs, req.CurrentAccount)
		}
	}
	b := coordinator.NewBatch(reqs)

	st, err := openStore()
	if err != nil {
		return err
	}
	resolver, err := unlockResolver(ctx, openKeystore(), appConfig.Account.Default, accountIDs)
	if err != nil {
		return err
	}
	defer resolver.Close()

	cfg := coordinator.Config{
		Accounts: resolver,
		Engines:  coordinator.EnginesFor(st),
		Crypto:   nipcrypto.New(),
	}
	var transport router.Transport
	if b.HasBunker() {
		pool := relay.NewPool(ctx)
		defer pool.Close()
		transport = pool
		cfg.Relays = pool
	}
	rt := router.New(writerHost{w: out}, transport, router.WithFallbackRelays(appConfig.Relays))
	cfg.Router = rt
	c := coordinator.New(cfg)

	if discard {
		if err := c.Discard(ctx, b); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.batch_discarded", b.ID))
		return nil
	}

	need, err := c.Preselect(ctx, b)
	if err != nil {
		return err
	}
	switch {
	case decFile != "":
		data, err := os.ReadFile(decFile)
		if err != nil {
			return fmt.Errorf("read decisions: %w", err)
		}
		df, err := coordinator.ParseDecisionFile(data)
		if err != nil {
			return err
		}
		if err := df.Apply(b); err != nil {
			return err
		}
	case need:
		ask := terminalConsent(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr(), func(*coordinator.Batch) string { return pkg })
		approved, err := ask(ctx, b)
		if err != nil {
			logging.Debugf("batch %s: %v", b.ID, err)
			if err := c.Discard(ctx, b); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.batch_discarded", b.ID))
			return nil
		}
		if !approved {
			b.Decisions().RejectAll()
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.request_rejected"))
		}
	}

	rep, err := c.Commit(ctx, b)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.batch_committed", rep.BatchID, rep.Processed, rep.Approved, rep.Rejected, len(rep.Errors)))

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := rt.Drain(dctx); err != nil {
		return fmt.Errorf("waiting for relay publishes: %w", err)
	}
	return rep.Err()
}
