// Single-item index maintenance commands.
package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index <item-id>",
	Short: "Index or reindex a single item",
	Long: `Index brings the browse index to the item's current catalog state:
its lifecycle table, sort keys, containment rows, and distinct value
mappings. Indexing is idempotent; rerunning it for an unchanged item
changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parsing item id: %w", err)
		}
		if err := writer.IndexItem(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println("indexed", id)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <item-id>",
	Short: "Remove an item from the browse index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parsing item id: %w", err)
		}
		if err := writer.RemoveItem(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println("removed", id)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete distinct values no item maps to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := writer.PruneAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d orphaned values\n", n)
		return nil
	},
}
