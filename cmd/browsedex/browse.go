// Browse query command.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openshelf/browsedex/pkg/types"
)

var browseFlags struct {
	collection  string
	community   string
	sortBy      int
	descending  bool
	limit       int
	offset      int
	focusValue  string
	focusItem   string
	startsWith  string
	filterValue string
	filterAuth  string
	partial     bool
	frequencies bool
	jsonOut     bool
}

func init() {
	f := browseCmd.Flags()
	f.StringVar(&browseFlags.collection, "collection", "", "restrict to a collection id")
	f.StringVar(&browseFlags.community, "community", "", "restrict to a community id")
	f.IntVar(&browseFlags.sortBy, "sort", 0, "sort option number (item browses)")
	f.BoolVar(&browseFlags.descending, "desc", false, "sort descending")
	f.IntVar(&browseFlags.limit, "limit", 20, "page size")
	f.IntVar(&browseFlags.offset, "offset", 0, "page offset")
	f.StringVar(&browseFlags.focusValue, "focus-value", "", "jump to the page at this value")
	f.StringVar(&browseFlags.focusItem, "focus-item", "", "jump to the page containing this item")
	f.StringVar(&browseFlags.startsWith, "starts-with", "", "jump to the first value with this prefix")
	f.StringVar(&browseFlags.filterValue, "value", "", "drill into items carrying this value")
	f.StringVar(&browseFlags.filterAuth, "authority", "", "drill into items carrying this authority key")
	f.BoolVar(&browseFlags.partial, "partial", false, "match the drill-down value as a substring")
	f.BoolVar(&browseFlags.frequencies, "frequencies", false, "include per-value item counts")
	f.BoolVar(&browseFlags.jsonOut, "json", false, "output as JSON")
}

var browseCmd = &cobra.Command{
	Use:   "browse <index>",
	Short: "Run a browse query against an index",
	Long: `Browse serves one page of a browse index: distinct values for a
metadata index, items for an item index, or the items carrying one value
when --value or --authority is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := buildScope(args[0])
		if err != nil {
			return err
		}
		page, err := engine.Browse(cmd.Context(), scope)
		if err != nil {
			return err
		}
		return printPage(page)
	},
}

func buildScope(index string) (types.BrowseScope, error) {
	scope := types.BrowseScope{
		Index:       index,
		SortBy:      browseFlags.sortBy,
		Ascending:   !browseFlags.descending,
		Limit:       browseFlags.limit,
		Offset:      browseFlags.offset,
		FocusValue:  browseFlags.focusValue,
		StartsWith:  browseFlags.startsWith,
		Frequencies: browseFlags.frequencies,
	}
	if browseFlags.collection != "" && browseFlags.community != "" {
		return scope, fmt.Errorf("%w: --collection and --community are mutually exclusive", types.ErrInvalidScope)
	}
	if browseFlags.collection != "" {
		id, err := uuid.Parse(browseFlags.collection)
		if err != nil {
			return scope, fmt.Errorf("parsing collection id: %w", err)
		}
		scope.Container = &types.Container{Kind: types.ContainerCollection, ID: id}
	}
	if browseFlags.community != "" {
		id, err := uuid.Parse(browseFlags.community)
		if err != nil {
			return scope, fmt.Errorf("parsing community id: %w", err)
		}
		scope.Container = &types.Container{Kind: types.ContainerCommunity, ID: id}
	}
	if browseFlags.focusItem != "" {
		id, err := uuid.Parse(browseFlags.focusItem)
		if err != nil {
			return scope, fmt.Errorf("parsing focus item id: %w", err)
		}
		scope.FocusItem = id
	}
	if browseFlags.filterValue != "" || browseFlags.filterAuth != "" {
		scope.SecondLevel = true
		scope.FilterValue = browseFlags.filterValue
		scope.FilterAuthority = browseFlags.filterAuth
		scope.FilterPartial = browseFlags.partial
	}
	return scope, nil
}

func printPage(page *types.BrowseResultPage) error {
	if browseFlags.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	fmt.Printf("%s: %d results, position %d", page.Index, page.Total, page.Position)
	if page.Cached {
		fmt.Print(" (cached)")
	}
	fmt.Println()
	for _, row := range page.Values {
		if row.Frequency > 0 {
			fmt.Printf("  %s (%d)\n", row.Value, row.Frequency)
		} else {
			fmt.Printf("  %s\n", row.Value)
		}
	}
	for _, id := range page.Items {
		fmt.Printf("  %s\n", id)
	}
	if page.HasNext() {
		fmt.Printf("next page: --offset %d\n", page.NextOffset)
	}
	return nil
}
