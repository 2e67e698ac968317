// Copyright (c) 2026 Keymaster Team
// Keysigner - delegated Nostr signing authority
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/toeirei/keysigner/internal/coordinator"
	"github.com/toeirei/keysigner/internal/i18n"
)

// writerHost prints the batched local result as one JSON line.
type writerHost struct {
	w io.Writer
}

func (h writerHost) Deliver(_ context.Context, payload []byte) error {
	_, err := fmt.Fprintf(h.w, "%s\n", payload)
	return err
}

func (h writerHost) Finish(context.Context, bool) {}

// renderPrompt writes the consent view of a batch as plain text.
func renderPrompt(w io.Writer, v coordinator.PromptView) {
	fmt.Fprintln(w, v.Title)
	for _, g := range v.Groups {
		fmt.Fprintf(w, "\n%s %s\n", checkbox(g.Accepted), g.Title)
		fmt.Fprintf(w, "    %s\n", g.Detail)
		if g.Remember {
			fmt.Fprintf(w, "    %s %s\n", checkbox(true), v.RememberLabel)
		}
		for _, it := range g.Items {
			fmt.Fprintf(w, "    %s %s  %s\n", checkbox(it.Selected), it.ID, it.Preview)
		}
	}
	fmt.Fprintln(w)
}

func checkbox(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

// errDismissed is returned when the prompt ends without an answer.
var errDismissed = errors.New("consent prompt dismissed")

// terminalConsent asks on in/out whether the preselected decisions of a
// batch should be committed. End of input or a read error yields
// errDismissed.
func terminalConsent(in *bufio.Reader, out io.Writer, appName func(*coordinator.Batch) string) func(context.Context, *coordinator.Batch) (bool, error) {
	return func(ctx context.Context, b *coordinator.Batch) (bool, error) {
		name := ""
		if appName != nil {
			name = appName(b)
		}
		renderPrompt(out, b.Prompt(name))
		fmt.Fprint(out, i18n.T("cli.confirm_batch"))
		line, err := in.ReadString('\n')
		if err != nil && strings.TrimSpace(line) == "" {
			fmt.Fprintln(out)
			return false, fmt.Errorf("%w: %v", errDismissed, err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes", "j", "ja":
			return true, nil
		}
		return false, nil
	}
}
