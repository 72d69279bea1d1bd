// Command catalogsync imports supplier catalog feeds from the command line.
//
// Usage:
//
//	catalogsync ingest --file feed.xml [--mode incremental|full] [--limit N] [--purge [--yes]]
//	catalogsync runs [--limit N] [--id RUN_ID]
//	catalogsync migrate up|down
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogsync/internal/application"
	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/config"
	"github.com/JonMunkholm/catalogsync/internal/health"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/pipeline"
	"github.com/JonMunkholm/catalogsync/internal/store"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

var errRunFailed = errors.New("ingest run failed")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args == nil {
		args = []string{}
	}
	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Flag and argument errors come straight from cobra.
	return exitUsage
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "catalogsync",
		Short:         "Import supplier catalog feeds into the catalog database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return withCode(exitUsage, errors.New("a command is required"))
		},
	}
	cmd.AddCommand(newIngestCmd(), newRunsCmd(), newMigrateCmd())
	return cmd
}

// loadConfig reads .env and the environment and configures logging.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Overload(); err == nil {
		slog.Debug("loaded .env file")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(exitFailure, err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

type ingestOptions struct {
	file string
	mode string
	yes  bool
	opts pipeline.Options
}

func newIngestCmd() *cobra.Command {
	var o ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import one feed file",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			o.opts.Mode = catalog.SyncType(o.mode)
			check := o.opts
			check.ConfirmPurge = check.Purge
			if err := check.Validate(); err != nil {
				return withCode(exitUsage, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, o)
		},
	}

	cmd.Flags().StringVar(&o.file, "file", "", "Path of the feed to import (required)")
	cmd.Flags().StringVar(&o.mode, "mode", string(catalog.SyncIncremental), "Sync mode: incremental or full")
	cmd.Flags().IntVar(&o.opts.Limit, "limit", 0, "Import only the first N records")
	cmd.Flags().BoolVar(&o.opts.Purge, "purge", false, "Delete all catalog rows before importing")
	cmd.Flags().BoolVar(&o.yes, "yes", false, "Confirm --purge without prompting")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runIngest(cmd *cobra.Command, o ingestOptions) error {
	if o.opts.Purge {
		o.opts.ConfirmPurge = o.yes || confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
			"This deletes every catalog row before importing. Type 'yes' to continue: ")
		if !o.opts.ConfirmPurge {
			return withCode(exitFailure, errors.New("purge not confirmed, nothing was changed"))
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := application.New(ctx, cfg)
	if err != nil {
		return withCode(exitFailure, fmt.Errorf("startup: %w", err))
	}
	defer app.Close()

	res := app.Service.Ingest(ctx, o.file, o.opts)
	printResult(cmd.OutOrStdout(), res)
	if !res.Success {
		return withCode(exitFailure, errRunFailed)
	}
	return nil
}

// confirm asks prompt on out and reports whether the answer was yes.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}

func printResult(w io.Writer, res pipeline.RunResult) {
	out := map[string]any{
		"success":           res.Success,
		"run_id":            res.RunID,
		"status":            res.Status,
		"records_processed": res.RecordsProcessed,
		"error_count":       res.ErrorCount,
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
		out["message"] = catalog.FormatError(res.Err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func newRunsCmd() *cobra.Command {
	var (
		limit int
		id    string
		runID uuid.UUID
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingest runs or show one run",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return nil
			}
			parsed, err := uuid.Parse(strings.TrimSpace(id))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --id: %w", err))
			}
			runID = parsed
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, err := store.Open(ctx, cfg.Database)
			if err != nil {
				return withCode(exitFailure, fmt.Errorf("startup: %w", err))
			}
			defer pool.Close()
			tracker := health.NewTracker(store.NewRunRepository(pool), nil, cfg.Ingest.MaxErrors)

			if runID != uuid.Nil {
				r, err := tracker.Run(ctx, runID)
				if err != nil {
					return withCode(exitFailure, fmt.Errorf("read run: %w", err))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}

			list, err := tracker.RecentRuns(ctx, limit)
			if err != nil {
				return withCode(exitFailure, fmt.Errorf("list runs: %w", err))
			}
			printRuns(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", health.DefaultRecentLimit, "Number of runs to list")
	cmd.Flags().StringVar(&id, "id", "", "Show one run in full")

	return cmd
}

func printRuns(w io.Writer, list []health.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tTYPE\tSTATUS\tSTARTED\tDURATION\tRECORDS\tERRORS\tSOURCE")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.SyncType, r.Status,
			r.StartTime.Local().Format(time.DateTime),
			(time.Duration(r.DurationSeconds * float64(time.Second))).Round(time.Millisecond),
			r.RecordsProcessed, r.ErrorCount, r.SourceFile,
		)
	}
	_ = tw.Flush()
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the catalog schema migrations",
		ValidArgs: []string{"up", "down"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			m, err := store.NewMigrator(cfg.Database.URL)
			if err != nil {
				return withCode(exitFailure, fmt.Errorf("migrate: %w", err))
			}
			defer func() {
				if err := m.Close(); err != nil {
					slog.Warn("migrator close", "error", err)
				}
			}()

			if args[0] == "up" {
				err = m.Up()
			} else {
				err = m.Down()
			}
			if err != nil {
				return withCode(exitFailure, fmt.Errorf("migrate %s: %w", args[0], err))
			}
			return nil
		},
	}
}
