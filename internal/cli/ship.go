package cli

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/runship/internal/audit"
	"github.com/roach88/runship/internal/ledger"
	"github.com/roach88/runship/internal/metric"
	"github.com/roach88/runship/internal/shipper"
	"github.com/roach88/runship/internal/transform"
	"github.com/roach88/runship/internal/transport"
)

const (
	// apiKeyEnv names the env var carrying the metrics API key. The key
	// never appears on the command line (visible in process listings).
	apiKeyEnv = "RUNSHIP_API_KEY"

	// ledgerSuffixEnv isolates ledger namespaces per execution context.
	// CI sets this so test invocations never touch production ledgers.
	ledgerSuffixEnv = "RUNSHIP_LEDGER_SUFFIX"

	defaultAPIURL = "https://api.datadoghq.com"
)

// ShipOptions holds flags for the ship command.
type ShipOptions struct {
	*RootOptions
	LedgerDir  string
	AuditDir   string
	ConfigPath string
	APIURL     string
	BatchSize  int
	DryRun     bool
}

// NewShipCommand creates the ship command.
func NewShipCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShipOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ship <exports-dir>",
		Short: "Submit undelivered workflow runs as gauge metrics",
		Long: `Scan a directory of workflow-run export files (*.json), transform each
record into a gauge point, and submit runs the delivery ledger has not
yet confirmed, in batches.

Each export file is processed independently: a delivery failure in one
file is logged and the remaining files still run. Re-running the command
is always safe - confirmed runs are filtered out by the ledger.

Example:
  runship ship --ledger-dir ~/.runship ./exports
  runship ship --ledger-dir ~/.runship --dry-run --batch-size 25 ./exports`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShip(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.LedgerDir, "ledger-dir", "", "directory holding the delivery ledger (required)")
	_ = cmd.MarkFlagRequired("ledger-dir")
	cmd.Flags().StringVar(&opts.AuditDir, "audit-dir", "", "directory for audit artifacts (default <ledger-dir>/audit)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to yaml config file")
	cmd.Flags().StringVar(&opts.APIURL, "api-url", defaultAPIURL, "metrics API base URL")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", shipper.DefaultBatchSize, "maximum points per API call")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "skip the API call; record rehearsal deliveries in the dry-run ledger")

	return cmd
}

// shipSummary is the operator-facing result of one ship invocation.
type shipSummary struct {
	Files       int  `json:"files"`
	FailedFiles int  `json:"failed_files"`
	Records     int  `json:"records"`
	Rejected    int  `json:"rejected"`
	BatchesSent int  `json:"batches_sent"`
	PointsSent  int  `json:"points_sent"`
	Skipped     int  `json:"skipped"`
	DryRun      bool `json:"dry_run"`
}

func (s shipSummary) String() string {
	var b strings.Builder
	if s.DryRun {
		b.WriteString("DRY RUN: ")
	}
	fmt.Fprintf(&b, "shipped %d points in %d batches (%d already delivered, %d rejected) from %d files",
		s.PointsSent, s.BatchesSent, s.Skipped, s.Rejected, s.Files)
	if s.FailedFiles > 0 {
		fmt.Fprintf(&b, "; %d files failed", s.FailedFiles)
	}
	return b.String()
}

func runShip(opts *ShipOptions, exportsDir string, cmd *cobra.Command) error {
	log := newLogger(cmd.ErrOrStderr(), opts.Verbose).With("invocation", uuid.NewString())

	if opts.ConfigPath != "" {
		cfg, err := LoadConfig(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		if !cmd.Flags().Changed("api-url") && cfg.APIURL != "" {
			opts.APIURL = cfg.APIURL
		}
		if !cmd.Flags().Changed("batch-size") && cfg.BatchSize > 0 {
			opts.BatchSize = cfg.BatchSize
		}
		if !cmd.Flags().Changed("audit-dir") && cfg.AuditDir != "" {
			opts.AuditDir = cfg.AuditDir
		}
	}
	if opts.AuditDir == "" {
		opts.AuditDir = filepath.Join(opts.LedgerDir, "audit")
	}

	files, err := findExportFiles(exportsDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to scan exports directory", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no export files found in %s", exportsDir))
	}
	log.Info("exports discovered", "dir", exportsDir, "files", len(files))

	// Dry runs never touch the network, so the key is only required live.
	var tport shipper.Transport
	if !opts.DryRun {
		key := os.Getenv(apiKeyEnv)
		if key == "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s is not set", apiKeyEnv))
		}
		tport = transport.NewClient(opts.APIURL, key)
	}

	namespace := ledger.Namespace(opts.DryRun, os.Getenv(ledgerSuffixEnv))
	led, err := ledger.Open(opts.LedgerDir, namespace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open delivery ledger", err)
	}
	defer func() {
		if closeErr := led.Close(); closeErr != nil {
			log.Error("error closing ledger", "error", closeErr)
		}
	}()
	log.Debug("ledger ready", "path", led.Path())

	auditWriter, err := audit.NewWriter(opts.AuditDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare audit directory", err)
	}

	ship, err := shipper.New(led, tport, auditWriter, shipper.Options{
		DryRun:    opts.DryRun,
		BatchSize: opts.BatchSize,
	}, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid delivery options", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	summary := shipSummary{Files: len(files), DryRun: opts.DryRun}
	for _, file := range files {
		if err := shipFile(ctx, ship, file, log, &summary); err != nil {
			// Files are independent delivery units: log and keep going.
			log.Error("delivery failed", "file", file, "error", err)
			summary.FailedFiles++
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	var out interface{} = summary
	if opts.Format != "json" {
		out = summary.String()
	}
	if err := formatter.Success(out); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if summary.FailedFiles > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d export files failed", summary.FailedFiles, len(files)))
	}
	return nil
}

// shipFile transforms one export file and submits its undelivered runs.
// Rejected records are logged and skipped; they never leave a gap in the
// points/keys pairing.
func shipFile(ctx context.Context, ship *shipper.Shipper, file string, log *slog.Logger, summary *shipSummary) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}

	records := transform.ExportRecords(data)
	summary.Records += len(records)

	var points []metric.Point
	var keys []string
	for _, raw := range records {
		result, err := transform.Record(raw)
		if err != nil {
			log.Warn("record rejected", "file", file, "error", err)
			summary.Rejected++
			continue
		}
		points = append(points, result.Point)
		keys = append(keys, result.RunKey)
	}

	result, err := ship.Submit(ctx, points, keys)
	summary.BatchesSent += result.BatchesSent
	summary.PointsSent += result.PointsSent
	summary.Skipped += result.Skipped
	if err != nil {
		return err
	}

	log.Debug("file shipped", "file", file, "batches", result.BatchesSent, "points", result.PointsSent, "skipped", result.Skipped)
	return nil
}

func findExportFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deterministic processing order across invocations.
	sort.Strings(files)
	return files, nil
}
