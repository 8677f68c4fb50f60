package types

import (
	"errors"
	"fmt"
)

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Pruning modes for orphaned distinct values.
const (
	// PruneImmediate removes orphaned distinct values synchronously after
	// each single-item reconcile, restricted to the ids touched by that
	// reconcile.
	PruneImmediate = "immediate"
	// PruneDeferred leaves orphans in place until an explicit prune run or
	// the sweep at the end of a batch reindex.
	PruneDeferred = "deferred"
)

// Distinct-value lookup modes.
const (
	// LookupExact compares values byte-for-byte.
	LookupExact = "exact"
	// LookupFold compares values case-insensitively.
	LookupFold = "fold"
)

// Config validation errors.
var (
	ErrBackendEmpty          = errors.New("backend must not be empty")
	ErrBackendUnknown        = errors.New("unknown backend")
	ErrPruningUnknown        = errors.New("unknown pruning mode")
	ErrDistinctLookupUnknown = errors.New("unknown distinct lookup mode")
	ErrNoSortOptions         = errors.New("at least one sort option is required")
	ErrNoIndexes             = errors.New("at least one browse index is required")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
}

// Config holds backend selection, index definitions, and engine parameters.
// Immutable after Validate; shared by the writer, the query engine, and the
// CLI.
type Config struct {
	Backend string `mapstructure:"backend"`
	// DataDir is the SQLite database directory.
	DataDir string `mapstructure:"data_dir"`
	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn"`

	Pruning        string `mapstructure:"pruning"`
	DistinctLookup string `mapstructure:"distinct_lookup"`
	// Collation selects a BCP-47 locale for collation-derived sort keys.
	// Empty disables collation and uses the plain normalizing formatter.
	Collation string `mapstructure:"collation"`
	// MinConfidence is the minimum authority confidence an
	// authority-bearing index accepts. Values below it are not indexed.
	MinConfidence int `mapstructure:"min_confidence"`
	// CacheSize bounds the browse result cache. Zero disables caching.
	CacheSize int `mapstructure:"cache_size"`

	SortOptions []SortOption            `mapstructure:"sort_options"`
	Indexes     []BrowseIndexDefinition `mapstructure:"indexes"`
}

// Validate checks that the Config is well-formed. Any failure here is a
// configuration error: fatal at startup, never per-request.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return fmt.Errorf("%w: %q", ErrBackendUnknown, c.Backend)
	}
	switch c.Pruning {
	case "", PruneImmediate, PruneDeferred:
	default:
		return fmt.Errorf("%w: %q", ErrPruningUnknown, c.Pruning)
	}
	switch c.DistinctLookup {
	case "", LookupExact, LookupFold:
	default:
		return fmt.Errorf("%w: %q", ErrDistinctLookupUnknown, c.DistinctLookup)
	}
	if len(c.SortOptions) == 0 {
		return ErrNoSortOptions
	}
	if len(c.Indexes) == 0 {
		return ErrNoIndexes
	}

	sortNumbers := make(map[int]bool, len(c.SortOptions))
	for _, so := range c.SortOptions {
		if err := so.Validate(); err != nil {
			return err
		}
		if sortNumbers[so.Number] {
			return fmt.Errorf("duplicate sort option number %d", so.Number)
		}
		sortNumbers[so.Number] = true
	}

	names := make(map[string]bool, len(c.Indexes))
	numbers := make(map[int]bool, len(c.Indexes))
	for _, d := range c.Indexes {
		if err := d.Validate(); err != nil {
			return err
		}
		if names[d.Name] {
			return fmt.Errorf("duplicate index name %q", d.Name)
		}
		if numbers[d.Number] {
			return fmt.Errorf("duplicate index number %d", d.Number)
		}
		names[d.Name] = true
		numbers[d.Number] = true
		if d.SortOption != 0 && !sortNumbers[d.SortOption] {
			return fmt.Errorf("index %q: %w: %d", d.Name, ErrUnknownSortOption, d.SortOption)
		}
	}
	return nil
}

// EffectivePruning returns the pruning mode with the default applied.
func (c Config) EffectivePruning() string {
	if c.Pruning == "" {
		return PruneImmediate
	}
	return c.Pruning
}

// EffectiveDistinctLookup returns the lookup mode with the default applied.
func (c Config) EffectiveDistinctLookup() string {
	if c.DistinctLookup == "" {
		return LookupExact
	}
	return c.DistinctLookup
}

// Index returns the definition with the given name.
// Returns ErrUnknownIndex if no definition matches.
func (c Config) Index(name string) (BrowseIndexDefinition, error) {
	for _, d := range c.Indexes {
		if d.Name == name {
			return d, nil
		}
	}
	return BrowseIndexDefinition{}, fmt.Errorf("%w: %q", ErrUnknownIndex, name)
}

// SortOptionByNumber returns the sort option with the given number.
// Returns ErrUnknownSortOption if no option matches.
func (c Config) SortOptionByNumber(n int) (SortOption, error) {
	for _, so := range c.SortOptions {
		if so.Number == n {
			return so, nil
		}
	}
	return SortOption{}, fmt.Errorf("%w: %d", ErrUnknownSortOption, n)
}

// DefaultSortOption resolves the sort option an index browse uses when the
// scope does not name one: the index's configured option, or the lowest
// numbered option.
func (c Config) DefaultSortOption(d BrowseIndexDefinition) (SortOption, error) {
	if d.SortOption != 0 {
		return c.SortOptionByNumber(d.SortOption)
	}
	best := SortOption{Number: 0}
	for _, so := range c.SortOptions {
		if best.Number == 0 || so.Number < best.Number {
			best = so
		}
	}
	if best.Number == 0 {
		return SortOption{}, ErrNoSortOptions
	}
	return best, nil
}
