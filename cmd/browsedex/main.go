// Package main provides the browsedex CLI: index maintenance and browse
// queries over a repository browse index.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openshelf/browsedex/internal/browse"
	"github.com/openshelf/browsedex/internal/catalog"
	"github.com/openshelf/browsedex/internal/metrics"
	"github.com/openshelf/browsedex/internal/relational"
	"github.com/openshelf/browsedex/internal/sortkey"
	"github.com/openshelf/browsedex/pkg/types"
)

// Global flag values.
var (
	flagConfig     string
	flagCatalogDir string
	flagVerbose    bool
)

// Engine state initialized by PersistentPreRunE and shared by subcommands.
var (
	log     zerolog.Logger
	cfg     types.Config
	backend *relational.Backend
	writer  *relational.Writer
	engine  *browse.Engine
	counts  *metrics.Metrics
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "browsedex",
	Short: "Browsedex maintains and queries repository browse indexes",
	Long: `Browsedex maintains denormalized browse indexes over a repository
catalog and answers scoped, sorted, paginated browse queries against them:
items by title or date, distinct authors and subjects, and drill-downs from
a value to its items.`,
	PersistentPreRunE: initEngine,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeEngine()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./browsedex.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagCatalogDir, "catalog", "", "catalog directory (default: ./catalog)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(browseCmd)
}

// initEngine loads the config, attaches the backend, and wires the writer
// and query engine. Skipped for commands that need no storage.
func initEngine(cmd *cobra.Command, args []string) error {
	log = newLogger(flagVerbose)
	if cmd.Name() == "version" || cmd.Name() == "init" {
		return nil
	}

	var err error
	cfg, err = loadConfig(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	format, err := sortkey.New(cfg)
	if err != nil {
		return fmt.Errorf("building sort key formatter: %w", err)
	}

	cat, err := catalog.Open(resolveCatalogDir())
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}

	backend = relational.NewBackend(log)
	if err := backend.Attach(cfg); err != nil {
		return fmt.Errorf("attaching backend: %w", err)
	}

	counts = metrics.New(prometheus.DefaultRegisterer)
	writer = relational.NewWriter(backend, cat, format, counts, log)
	engine, err = browse.NewEngine(cfg, relational.NewExecutor(backend), format, counts, log)
	if err != nil {
		return fmt.Errorf("building browse engine: %w", err)
	}
	return nil
}

// closeEngine detaches the backend. Idempotent.
func closeEngine() error {
	if backend != nil {
		return backend.Detach()
	}
	return nil
}

func resolveCatalogDir() string {
	if flagCatalogDir != "" {
		return flagCatalogDir
	}
	return "catalog"
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
