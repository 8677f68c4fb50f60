// Batch reindex and rebuild commands.
package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var flagMetricsAddr string

func init() {
	for _, cmd := range []*cobra.Command{reindexCmd, rebuildCmd} {
		cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "",
			"serve Prometheus metrics on this address during the run")
	}
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Reindex every catalog item",
	Long: `Reindex walks the whole catalog, reindexes every item, removes index
rows whose items no longer exist, and finishes with a full orphan prune.
Items that fail to index are logged and skipped; the run continues.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serveMetrics()
		stats, err := writer.ReindexAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d, removed %d, failed %d, pruned %d\n",
			stats.Indexed, stats.Removed, stats.Failed, stats.Pruned)
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop and rebuild the whole browse index",
	Long: `Rebuild drops every index table, recreates the schema from the
configured index definitions, and reindexes the whole catalog. Use it after
changing sort options or index definitions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serveMetrics()
		if err := backend.DropSchema(cmd.Context()); err != nil {
			return fmt.Errorf("dropping schema: %w", err)
		}
		stats, err := writer.ReindexAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("rebuilt: indexed %d, failed %d, pruned %d\n",
			stats.Indexed, stats.Failed, stats.Pruned)
		return nil
	},
}

// serveMetrics exposes the default Prometheus registry for the duration of
// the run when --metrics-addr is set.
func serveMetrics() {
	if flagMetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
			log.Warn().Err(err).Msg("metrics listener stopped")
		}
	}()
}
