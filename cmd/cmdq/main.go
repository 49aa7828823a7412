package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kitware/cmd-queue/internal/backend"
	"github.com/Kitware/cmd-queue/internal/graph"
	"github.com/Kitware/cmd-queue/pkg/config"
	"github.com/Kitware/cmd-queue/pkg/logging"
	"github.com/Kitware/cmd-queue/pkg/metrics"
)

var (
	// Version information (set at build time).
	version = "dev"

	jobListPath string
	backendKind string
	sessionRoot string
	tmuxSize    int
	debug       bool
	blockRun    bool

	rootCmd = &cobra.Command{
		Use:     "cmdq",
		Short:   "compile and run a dependency-ordered command queue",
		Version: version,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&jobListPath, "file", "f", "cmdq.toml", "job list TOML file")
	rootCmd.PersistentFlags().StringVar(&backendKind, "backend", "serial", "backend: serial, tmux, slurm, airflow")
	rootCmd.PersistentFlags().StringVar(&sessionRoot, "session-root", "", "session root directory (default: config/env default)")
	rootCmd.PersistentFlags().IntVar(&tmuxSize, "tmux-size", 1, "number of tmux workers (tmux backend only)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	runCmd.Flags().BoolVar(&blockRun, "block", true, "wait for completion before returning")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cmdq version %s\n", version)
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "print the compiled script(s) without running them",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := buildBackend()
		if err != nil {
			return err
		}

		artifact, err := b.FinalizeText()
		if err != nil {
			return err
		}

		for path, text := range artifact.Scripts {
			fmt.Printf("# %s\n%s\n", path, text)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "materialize and execute the compiled script(s)",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := buildBackend()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		result, err := b.Run(ctx, backend.RunOptions{Block: blockRun, Verbose: debug})
		if err != nil {
			return err
		}

		if blockRun {
			printSummary(ctx, b)
		}

		if result.ExitCode != 0 {
			os.Exit(result.ExitCode)
		}
		return nil
	},
}

// printSummary reports each job's terminal state, reading it back from the
// same job_info touch-files an external StateReader would consume, then
// tallies the run through a metrics.Collector.
func printSummary(ctx context.Context, b backend.Backend) {
	states, err := b.ReadState(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not read final state:", err)
		return
	}

	collector := metrics.NewCollector()
	for _, s := range states {
		fmt.Printf("%-30s %s\n", s.Name, s.State)
		switch s.State {
		case graph.StateStarted:
			collector.RecordStarted(s.Name)
		case graph.StatePassed:
			collector.RecordPassed(s.Name)
		case graph.StateFailed:
			collector.RecordFailed(s.Name)
		case graph.StateSkipped:
			collector.RecordSkipped(s.Name)
		}
	}

	stats := collector.Stats()
	fmt.Printf("\npassed=%d failed=%d skipped=%d started=%d\n", stats.Passed, stats.Failed, stats.Skipped, stats.Started)
}

func buildBackend() (backend.Backend, error) {
	cfg := config.NewDefault()
	_ = cfg.LoadTOMLFile("cmd-queue.toml")
	cfg.LoadEnv()
	if sessionRoot != "" {
		cfg.SessionRootDpath = sessionRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	queue, err := loadQueue(jobListPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger()

	var opts interface{}
	switch strings.ToLower(backendKind) {
	case "serial", "":
		opts = backend.SerialOptions{Shell: cfg.Shell, WithLocks: cfg.WithLocksDefault, Logger: logger}
	case "tmux":
		opts = backend.TmuxOptions{
			Size:                tmuxSize,
			Shell:               cfg.Shell,
			RefreshRate:         cfg.RefreshRate,
			OtherSessionHandler: cfg.OtherSessionHandler,
			Logger:              logger,
		}
	case "slurm":
		opts = backend.SlurmOptions{Shell: cfg.Shell, RefreshRate: cfg.RefreshRate, Logger: logger}
	case "airflow":
		opts = backend.AirflowOptions{DagID: queue.Name}
	default:
		return nil, fmt.Errorf("unknown backend %q", backendKind)
	}

	return backend.New(backend.Kind(strings.ToLower(backendKind)), queue, cfg.SessionRootDpath, opts)
}

func newLogger() logging.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return logging.NewLogger(&logging.Config{Level: level, Format: logging.FormatText, Output: os.Stderr})
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 24*time.Hour)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
