// Package browse assembles browse result pages from the index tables. The
// engine validates the scope, resolves any focus into a page offset, runs
// the count and page queries through the executor capability, and caches
// assembled pages against the index generation.
package browse

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openshelf/browsedex/internal/metrics"
	"github.com/openshelf/browsedex/internal/relational"
	"github.com/openshelf/browsedex/internal/sortkey"
	"github.com/openshelf/browsedex/pkg/types"
)

// Executor is the storage capability the engine consumes. The relational
// executor implements it; tests substitute fakes.
type Executor interface {
	ItemQuery(ctx context.Context, spec relational.QuerySpec) ([]uuid.UUID, error)
	ValueQuery(ctx context.Context, spec relational.QuerySpec) ([]types.ValueRow, error)
	CountQuery(ctx context.Context, spec relational.QuerySpec) (int, error)
	OffsetQuery(ctx context.Context, spec relational.QuerySpec, key relational.FocusKey) (int, error)
	MaxValueQuery(ctx context.Context, table, column string, itemID uuid.UUID) (string, bool, error)
	Generation(ctx context.Context) (int64, error)
}

// Engine serves browse requests. Safe for concurrent use; reads never block
// index writes.
type Engine struct {
	config  types.Config
	exec    Executor
	format  sortkey.Formatter
	cache   *resultCache
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewEngine builds an engine over the executor. The result cache is enabled
// when the config sets a positive cache size.
func NewEngine(cfg types.Config, exec Executor, format sortkey.Formatter, m *metrics.Metrics, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		config:  cfg,
		exec:    exec,
		format:  format,
		metrics: m,
		log:     log.With().Str("component", "browse").Logger(),
	}
	if cfg.CacheSize > 0 {
		cache, err := newResultCache(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// Browse serves one browse request: a page of distinct values for a
// metadata index, or a page of items for an item index or a second-level
// drill-down. Focus always wins over the caller-supplied offset.
func (e *Engine) Browse(ctx context.Context, scope types.BrowseScope) (*types.BrowseResultPage, error) {
	def, err := e.config.Index(scope.Index)
	if err != nil {
		return nil, err
	}
	itemLevel := !def.IsMetadataIndex() || scope.SecondLevel
	if err := validateScope(scope, def, itemLevel); err != nil {
		return nil, err
	}

	gen, err := e.exec.Generation(ctx)
	if err != nil {
		return nil, err
	}
	key := scope.Fingerprint()
	if e.cache != nil {
		if page, ok := e.cache.get(key, gen); ok {
			e.metrics.CacheHits.Inc()
			return page, nil
		}
		e.metrics.CacheMisses.Inc()
	}

	var page *types.BrowseResultPage
	if itemLevel {
		page, err = e.browseItems(ctx, scope, def)
	} else {
		page, err = e.browseValues(ctx, scope, def)
	}
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.put(key, gen, *page)
	}
	level := "value"
	if itemLevel {
		level = "item"
	}
	e.metrics.BrowseQueries.WithLabelValues(level).Inc()
	e.log.Debug().Str("index", scope.Index).Str("level", level).
		Int("total", page.Total).Int("position", page.Position).Msg("served browse")
	return page, nil
}

// BrowseMini returns a bare page of item ids with no count, focus, or cache
// work. Cheap enough for embedding in landing pages.
func (e *Engine) BrowseMini(ctx context.Context, scope types.BrowseScope) ([]uuid.UUID, error) {
	def, err := e.config.Index(scope.Index)
	if err != nil {
		return nil, err
	}
	if def.IsMetadataIndex() && !scope.SecondLevel {
		return nil, fmt.Errorf("%w: mini browse needs an item-level scope", types.ErrInvalidScope)
	}
	spec, _, err := e.itemSpec(scope, def)
	if err != nil {
		return nil, err
	}
	spec.Limit = scope.Limit
	spec.Offset = scope.Offset
	return e.exec.ItemQuery(ctx, spec)
}

// browseItems assembles an item-level page.
func (e *Engine) browseItems(ctx context.Context, scope types.BrowseScope, def types.BrowseIndexDefinition) (*types.BrowseResultPage, error) {
	spec, sortBy, err := e.itemSpec(scope, def)
	if err != nil {
		return nil, err
	}

	offset := scope.Offset
	if scope.HasFocus() {
		key, err := e.resolveItemFocus(ctx, scope, def, spec)
		if err != nil {
			return nil, err
		}
		offset, err = e.exec.OffsetQuery(ctx, spec, key)
		if err != nil {
			return nil, err
		}
	}

	total, err := e.exec.CountQuery(ctx, spec)
	if err != nil {
		return nil, err
	}
	offset = backfillOffset(offset, total, scope.Limit)

	spec.Limit = scope.Limit
	spec.Offset = offset
	items, err := e.exec.ItemQuery(ctx, spec)
	if err != nil {
		return nil, err
	}

	page := e.newPage(scope, total, offset)
	page.SortBy = sortBy
	page.Items = items
	return page, nil
}

// browseValues assembles a value-level page.
func (e *Engine) browseValues(ctx context.Context, scope types.BrowseScope, def types.BrowseIndexDefinition) (*types.BrowseResultPage, error) {
	spec := relational.QuerySpec{
		Table:       def.DistinctTableName(),
		MapTable:    def.MapTableName(),
		OrderColumn: "sort_value",
		Ascending:   scope.Ascending,
		Container:   containerClause(scope),
		Frequencies: scope.Frequencies,
	}

	offset := scope.Offset
	if scope.HasFocus() {
		key := relational.FocusKey{Value: e.focusKey(scope, def.Type)}
		var err error
		offset, err = e.exec.OffsetQuery(ctx, spec, key)
		if err != nil {
			return nil, err
		}
	}

	total, err := e.exec.CountQuery(ctx, spec)
	if err != nil {
		return nil, err
	}
	offset = backfillOffset(offset, total, scope.Limit)

	spec.Limit = scope.Limit
	spec.Offset = offset
	values, err := e.exec.ValueQuery(ctx, spec)
	if err != nil {
		return nil, err
	}

	page := e.newPage(scope, total, offset)
	page.Values = values
	return page, nil
}

// itemSpec builds the positioning-free query spec for an item browse and
// returns the resolved sort option number.
func (e *Engine) itemSpec(scope types.BrowseScope, def types.BrowseIndexDefinition) (relational.QuerySpec, int, error) {
	var so types.SortOption
	var err error
	if scope.SortBy != 0 {
		so, err = e.config.SortOptionByNumber(scope.SortBy)
	} else {
		so, err = e.config.DefaultSortOption(def)
	}
	if err != nil {
		return relational.QuerySpec{}, 0, err
	}

	spec := relational.QuerySpec{
		Table:       types.ItemTable,
		OrderColumn: so.Column(),
		Ascending:   scope.Ascending,
		Container:   containerClause(scope),
	}
	if scope.SecondLevel {
		filter := &relational.FilterClause{
			MapTable:      def.MapTableName(),
			DistinctTable: def.DistinctTableName(),
			Authority:     scope.FilterAuthority,
			Partial:       scope.FilterPartial,
		}
		if scope.FilterAuthority == "" {
			if scope.FilterPartial {
				filter.Value = scope.FilterValue
			} else {
				filter.Value = e.format.Make(scope.FilterValue, scope.FilterLang, def.Type)
			}
		}
		spec.Filter = filter
	}
	return spec, so.Number, nil
}

// resolveItemFocus turns the scope's focus into a focus key on the item
// browse's order column. An item focus reads the item's own key and carries
// the item id for the tie-break among identical keys; value and prefix
// focuses normalize through the formatter, so a prefix of "0" lands at the
// head of the digit bucket.
func (e *Engine) resolveItemFocus(ctx context.Context, scope types.BrowseScope, def types.BrowseIndexDefinition, spec relational.QuerySpec) (relational.FocusKey, error) {
	if scope.HasFocusItem() {
		value, ok, err := e.exec.MaxValueQuery(ctx, spec.Table, spec.OrderColumn, scope.FocusItem)
		if err != nil {
			return relational.FocusKey{}, err
		}
		if !ok {
			return relational.FocusKey{}, fmt.Errorf("%w: %s", types.ErrNoSuchFocus, scope.FocusItem)
		}
		return relational.FocusKey{Value: value, Item: scope.FocusItem}, nil
	}
	return relational.FocusKey{Value: e.focusKey(scope, def.Type)}, nil
}

// focusKey normalizes the scope's value or prefix focus into the index's
// key space.
func (e *Engine) focusKey(scope types.BrowseScope, dt types.DataType) string {
	if scope.HasFocusValue() {
		return e.format.Make(scope.FocusValue, scope.FocusLang, dt)
	}
	return e.format.Make(scope.StartsWith, scope.FocusLang, dt)
}

// newPage builds the page envelope with paging offsets computed from the
// resolved offset, the total, and the page size.
func (e *Engine) newPage(scope types.BrowseScope, total, offset int) *types.BrowseResultPage {
	page := &types.BrowseResultPage{
		Total:      total,
		Position:   offset,
		NextOffset: types.NoOffset,
		PrevOffset: types.NoOffset,
		Index:      scope.Index,
		SortBy:     scope.SortBy,
		Ascending:  scope.Ascending,
		Container:  scope.Container,
	}
	if scope.Limit > 0 {
		if offset+scope.Limit < total {
			page.NextOffset = offset + scope.Limit
		}
		if offset > 0 {
			prev := offset - scope.Limit
			if prev < 0 {
				prev = 0
			}
			page.PrevOffset = prev
		}
	}
	return page
}

// validateScope rejects scope and display-type combinations that no query
// can serve, before any SQL runs.
func validateScope(scope types.BrowseScope, def types.BrowseIndexDefinition, itemLevel bool) error {
	if scope.SecondLevel && !def.IsMetadataIndex() {
		return fmt.Errorf("%w: index %q has no value level to drill into", types.ErrInvalidScope, def.Name)
	}
	if scope.SecondLevel && !scope.HasFilter() {
		return fmt.Errorf("%w: second-level browse needs a value or authority filter", types.ErrInvalidScope)
	}
	if !itemLevel && scope.HasFocusItem() {
		return fmt.Errorf("%w: value browse cannot focus on an item", types.ErrInvalidScope)
	}
	if !itemLevel && scope.SortBy != 0 {
		return fmt.Errorf("%w: value browse has a fixed sort", types.ErrInvalidScope)
	}
	if itemLevel && scope.Frequencies {
		return fmt.Errorf("%w: frequencies apply to value browses only", types.ErrInvalidScope)
	}
	if !scope.SecondLevel && scope.HasFilter() {
		return fmt.Errorf("%w: filters apply to second-level browses only", types.ErrInvalidScope)
	}
	return nil
}

// backfillOffset clamps an offset that overshoots the result set back to
// the last full page, so a stale deep link still lands on real rows.
func backfillOffset(offset, total, limit int) int {
	if offset <= 0 {
		return maxInt(offset, 0)
	}
	if offset < total {
		return offset
	}
	if limit > 0 {
		return maxInt(total-limit, 0)
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// containerClause maps the scope's container to its mapping table clause.
func containerClause(scope types.BrowseScope) *relational.ContainerClause {
	switch {
	case scope.InCollection():
		return &relational.ContainerClause{
			Table:  types.Collection2ItemTable,
			Column: "collection_id",
			ID:     scope.Container.ID,
		}
	case scope.InCommunity():
		return &relational.ContainerClause{
			Table:  types.Communities2ItemTable,
			Column: "community_id",
			ID:     scope.Container.ID,
		}
	default:
		return nil
	}
}
