package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/runship/internal/ledger"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	DryRun   bool
	ShowKeys bool
}

// NewLedgerCommand creates the ledger inspection command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger <ledger-dir>",
		Short: "Inspect the delivery ledger",
		Long: `Show how many workflow runs the ledger records as delivered, and
optionally the run keys themselves.

Example:
  runship ledger ~/.runship
  runship ledger ~/.runship --dry-run --keys`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "inspect the dry-run ledger instead of the live one")
	cmd.Flags().BoolVar(&opts.ShowKeys, "keys", false, "list delivered run keys")

	return cmd
}

// ledgerSummary is the inspection payload.
type ledgerSummary struct {
	Namespace string   `json:"namespace"`
	Delivered int      `json:"delivered"`
	Keys      []string `json:"keys,omitempty"`
}

func (s ledgerSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d runs delivered", s.Namespace, s.Delivered)
	for _, key := range s.Keys {
		fmt.Fprintf(&b, "\n  %s", key)
	}
	return b.String()
}

func runLedger(opts *LedgerOptions, ledgerDir string, cmd *cobra.Command) error {
	namespace := ledger.Namespace(opts.DryRun, os.Getenv(ledgerSuffixEnv))

	led, err := ledger.Open(ledgerDir, namespace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open delivery ledger", err)
	}
	defer led.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	count, err := led.Count(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}

	summary := ledgerSummary{Namespace: namespace, Delivered: count}
	if opts.ShowKeys {
		keys, err := led.Keys(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read ledger", err)
		}
		summary.Keys = keys
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	var out interface{} = summary
	if opts.Format != "json" {
		out = summary.String()
	}
	if err := formatter.Success(out); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}
