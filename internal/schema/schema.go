// Package schema loads the browse engine configuration, including sort
// options and browse index definitions, and answers questions about the
// physical index layout they imply.
package schema

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/openshelf/browsedex/pkg/types"
)

// Config keys and defaults.
const (
	cfgKeyBackend  = "backend"
	defaultBackend = types.BackendSQLite
)

// Load unmarshals and validates a Config from the given Viper instance.
// A validation failure is a configuration error: the engine must not start.
func Load(v *viper.Viper) (types.Config, error) {
	v.SetDefault(cfgKeyBackend, defaultBackend)

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads, unmarshals and validates a Config from a YAML file.
func LoadFile(path string) (types.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return types.Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Load(v)
}

// ItemTables returns the three full-item table names in their fixed order:
// archived, withdrawn, private.
func ItemTables() []string {
	return []string{types.ItemTable, types.WithdrawnTable, types.PrivateTable}
}

// SortColumns returns the physical sort column names for every configured
// sort option, in option-number order.
func SortColumns(cfg types.Config) []string {
	cols := make([]string, 0, len(cfg.SortOptions))
	seen := make(map[int]bool, len(cfg.SortOptions))
	max := 0
	for _, so := range cfg.SortOptions {
		seen[so.Number] = true
		if so.Number > max {
			max = so.Number
		}
	}
	for n := 1; n <= max; n++ {
		if seen[n] {
			cols = append(cols, fmt.Sprintf("sort_%d", n))
		}
	}
	return cols
}

// MetadataIndexes returns only the distinct-value index definitions.
func MetadataIndexes(cfg types.Config) []types.BrowseIndexDefinition {
	var out []types.BrowseIndexDefinition
	for _, d := range cfg.Indexes {
		if d.IsMetadataIndex() {
			out = append(out, d)
		}
	}
	return out
}
