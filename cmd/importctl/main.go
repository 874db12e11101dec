package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/config"
	"github.com/circularops/api/internal/csvimport"
	"github.com/circularops/api/internal/db"
	"github.com/circularops/api/internal/exporter"
	"github.com/circularops/api/internal/importer"
	"github.com/circularops/api/internal/store"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitData    = 3
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
}

type rootOptions struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Bulk CSV import, export and migrations for the logistics dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log progress at debug level")

	cmd.AddCommand(newImportCmd(&opts), newExportCmd(&opts), newMigrateCmd())
	return cmd
}

func (o *rootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

type importOptions struct {
	kind string
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import one or more CSV files in order",
		Long: `Import parses and header-checks every file before writing anything, then
applies the files in the order given. Each file commits as a whole; the run
stops at the first failing file and earlier files stay committed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root.logger(), opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "", "Import kind: inventory, pickups or customers (required)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func runImport(ctx context.Context, logger *slog.Logger, opts importOptions, paths []string) error {
	kind, err := importer.ParseKind(opts.kind)
	if err != nil {
		return withCode(exitUsage, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return withCode(exitUsage, err)
	}
	if len(paths) > cfg.ImportMaxFiles {
		return withCode(exitUsage, fmt.Errorf("at most %d files per import", cfg.ImportMaxFiles))
	}

	uploads := make([]importer.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("open %s: %w", p, err))
		}
		defer f.Close()
		uploads = append(uploads, importer.Upload{Name: filepath.Base(p), Body: f})
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return importBatch(ctx, logger, store.NewPostgres(pool), cfg, kind, uploads, os.Stdout)
}

// importBatch runs one batch against st, prints the result to out and records
// the outcome in the audit trail. CLI runs have no operator.
func importBatch(ctx context.Context, logger *slog.Logger, st store.Store, cfg config.Config, kind importer.Kind, uploads []importer.Upload, out io.Writer) error {
	im := importer.New(st, logger, cfg.QuantityCeiling, cfg.ImportMaxRows)
	im.Resolver.Parallelism = cfg.ResolveParallelism

	runID := uuid.NewString()
	progress := csvimport.NewProgress(func(snap csvimport.Snapshot) {
		logger.Info("import_progress", "kind", kind, "state", snap.State, "percent", snap.Percent, "processed", snap.Processed, "total", snap.Total, "run_id", runID)
	})
	result, runErr := im.Run(ctx, kind, uploads, progress)

	auditLog := audit.NewLogger(st)
	record := func(entry audit.Entry) {
		entry.RequestID = runID
		if err := auditLog.Log(ctx, entry); err != nil {
			logger.Warn("audit_log_failed", "action", entry.Action, "run_id", runID, "error", err)
		}
	}
	for _, fr := range result.Files {
		record(audit.Entry{
			Action:     audit.ActionImportCompleted,
			EntityType: string(kind),
			Metadata: map[string]any{
				"file":    fr.File,
				"rows":    fr.Rows,
				"created": fr.Created,
				"updated": fr.Updated,
				"skipped": fr.Skipped,
			},
		})
	}
	if runErr != nil {
		metadata := map[string]any{"error": csvimport.KindOf(runErr).String()}
		var ie *csvimport.Error
		if errors.As(runErr, &ie) {
			metadata["file"] = ie.File
		}
		record(audit.Entry{
			Action:     audit.ActionImportFailed,
			EntityType: string(kind),
			Metadata:   metadata,
		})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if runErr != nil {
		if csvimport.KindOf(runErr) == csvimport.KindBackend {
			return runErr
		}
		return withCode(exitData, runErr)
	}
	return nil
}

type exportOptions struct {
	kind   string
	format string
	output string
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a products, pickups or customers export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), root.logger(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "products", "Export kind: products, pickups or customers")
	cmd.Flags().StringVar(&opts.format, "format", "csv", "Output format: csv or xlsx")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output path (default: dated file name in the current directory)")
	return cmd
}

func runExport(ctx context.Context, logger *slog.Logger, opts exportOptions) error {
	kind, err := exporter.ParseKind(opts.kind)
	if err != nil {
		return withCode(exitUsage, err)
	}
	format, err := exporter.ParseFormat(opts.format)
	if err != nil {
		return withCode(exitUsage, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return withCode(exitUsage, err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	path := opts.output
	if path == "" {
		path = exporter.Filename(kind, format, time.Now())
	}
	return exportFile(ctx, logger, store.NewPostgres(pool), kind, format, path)
}

func exportFile(ctx context.Context, logger *slog.Logger, st store.Store, kind exporter.Kind, format exporter.Format, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	rows, err := exporter.Write(ctx, st, kind, format, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	logger.Info("export_written", "kind", kind, "format", format, "path", path, "rows", rows)

	if err := audit.NewLogger(st).Log(ctx, audit.Entry{
		Action:     audit.ActionExportDownload,
		EntityType: string(kind),
		RequestID:  uuid.NewString(),
		Metadata: map[string]any{
			"filename": filepath.Base(path),
			"format":   string(format),
			"rows":     rows,
		},
	}); err != nil {
		logger.Warn("audit_log_failed", "action", audit.ActionExportDownload, "error", err)
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return withCode(exitUsage, err)
			}
			if status {
				return db.Status(cfg.DatabaseURL)
			}
			return db.Migrate(cfg.DatabaseURL)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Print migration status instead of applying")
	return cmd
}
