package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/aggregator"
	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/logging"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "commentcurator",
	Short: "Harvest Reddit comments, screen them and publish the best one",
	Long: `commentcurator collects comments from configured subreddits, has a
judgment service screen them for quality, and posts the best unpublished one.

Run without a subcommand to start the full runtime (same as "serve").`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, operator bot and HTTP endpoints",
	RunE:  runServe,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle and print its report",
	Long: `Runs one harvest, evaluation and publish cycle immediately and prints
the report. Exits with status 1 when the cycle errored or publishing failed.`,
	RunE: runOnce,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change runtime settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every runtime setting",
	RunE:  runSettingsList,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change a runtime setting",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSettingsSet,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (default $CURATOR_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	settingsCmd.AddCommand(settingsListCmd, settingsSetCmd)
	rootCmd.AddCommand(serveCmd, onceCmd, settingsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting comment curator",
		zap.String("port", cfg.Server.Port),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("telegram", a.bot != nil))
	if err := a.runtime.Run(ctx); err != nil {
		return err
	}
	logger.Info("comment curator stopped gracefully")
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.pipeline.RunCycle(ctx)
	printReport(cmd, report)

	switch report.Outcome {
	case aggregator.OutcomeError, aggregator.OutcomePublishFailed:
		return fmt.Errorf("cycle ended with %s: %v", report.Outcome, report.Err)
	}
	return nil
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	settings, closeDB, err := openSettings(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	out := cmd.OutOrStdout()
	for _, e := range settings.All() {
		fmt.Fprintf(out, "%-26s %-30s %s\n", e.Key, e.Value.String(), e.Description)
	}
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	settings, closeDB, err := openSettings(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	key := args[0]
	raw := strings.Join(args[1:], " ")
	v, err := settings.Set(cmd.Context(), key, raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, v.String())
	return nil
}

func printReport(cmd *cobra.Command, r aggregator.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cycle %s: %s\n", r.CycleID, r.Outcome)
	fmt.Fprintf(out, "  sources:    %d/%d ok, %d posts, %d comments in %s\n",
		r.SuccessfulSources, r.Sources, r.Parents, r.Entries, r.HarvestElapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  evaluation: %d scored, %d calls (rank fallback: %t)\n", r.Evaluated, r.EvalCalls, r.Ranked)
	fmt.Fprintf(out, "  selection:  %d eligible, %d duplicates\n", r.Decision.Eligible, r.Decision.Duplicates)
	if c := r.Decision.Chosen; c != nil {
		fmt.Fprintf(out, "  chosen:     r/%s %s (confidence %.2f)\n", c.Source, c.ID, c.Assessment.Confidence)
		if c.PublishID != "" {
			fmt.Fprintf(out, "  published:  %s\n", c.PublishID)
		}
		fmt.Fprintf(out, "  text:       %q\n", r.Decision.Text)
	}
	if r.Err != nil {
		fmt.Fprintf(out, "  error:      %v\n", r.Err)
	}
}
