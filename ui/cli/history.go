// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/toeirei/keysigner/internal/i18n"
	"github.com/toeirei/keysigner/internal/model"
)

// historyExport is the document written by `history export`.
type historyExport struct {
	Account    string               `json:"account"`
	ExportedAt time.Time            `json:"exported_at"`
	Entries    []model.HistoryEntry `json:"entries"`
}

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the request history of an account",
	}
	historyCmd.PersistentFlags().String("account", "", "Account (hex or npub); defaults to account.default")
	historyCmd.PersistentFlags().String("app", "", "Only entries of this application key")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List history entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _ := cmd.Flags().GetString("app")
			limit, _ := cmd.Flags().GetInt("limit")
			st, err := accountStore(cmd)
			if err != nil {
				return err
			}
			entries, err := st.ListHistory(cmd.Context(), app, limit)
			if err != nil {
				return fmt.Errorf("failed to list history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.no_history"))
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tAPP\tTYPE\tKIND\tACCEPTED")
			for _, e := range entries {
				kind := "-"
				if e.Kind != nil {
					kind = fmt.Sprint(*e.Kind)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", e.Time.Local().Format(time.DateTime), model.ShortenHex(e.ApplicationKey), e.Type, kind, e.Accepted)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum number of entries (0 for all)")

	exportCmd := &cobra.Command{
		Use:   "export [output-file]",
		Short: "Write the history as zstd-compressed JSON",
		Long: `Writes every history entry of the account into a Zstandard-compressed JSON
file. '.zst' is appended to the name if missing; without a name
'keysigner-history-YYYY-MM-DD.json.zst' is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFile := fmt.Sprintf("keysigner-history-%s.json.zst", time.Now().Format("2006-01-02"))
			if len(args) == 1 {
				outputFile = args[0]
				if !strings.HasSuffix(outputFile, ".zst") {
					outputFile += ".zst"
				}
			}
			app, _ := cmd.Flags().GetString("app")
			st, err := accountStore(cmd)
			if err != nil {
				return err
			}
			entries, err := st.ListHistory(cmd.Context(), app, 0)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			doc := historyExport{Account: st.Account(), ExportedAt: time.Now().UTC(), Entries: entries}
			if err := writeCompressedHistory(outputFile, &doc); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.history_exported", len(entries), outputFile))
			return nil
		},
	}

	historyCmd.AddCommand(listCmd, exportCmd)
	return historyCmd
}

// writeCompressedHistory streams doc as JSON through a zstd writer.
func writeCompressedHistory(filename string, doc *historyExport) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zstdWriter, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	encoder := json.NewEncoder(zstdWriter)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		_ = zstdWriter.Close()
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}
	return zstdWriter.Close()
}

// readCompressedHistory is the inverse of writeCompressedHistory.
func readCompressedHistory(r io.Reader) (*historyExport, error) {
	zstdReader, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zstdReader.Close()
	var doc historyExport
	if err := json.NewDecoder(zstdReader).Decode(&doc); err != nil {
		return nil, fmt.Errorf("could not decode json from zstd reader: %w", err)
	}
	return &doc, nil
}
