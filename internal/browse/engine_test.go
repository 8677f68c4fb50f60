package browse

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openshelf/browsedex/internal/metrics"
	"github.com/openshelf/browsedex/internal/relational"
	"github.com/openshelf/browsedex/internal/sortkey"
	"github.com/openshelf/browsedex/pkg/types"
)

// fakeExecutor serves canned results and records the specs it was handed.
type fakeExecutor struct {
	items      []uuid.UUID
	values     []types.ValueRow
	total      int
	offset     int
	maxValue   string
	maxOK      bool
	generation int64

	lastItemSpec  relational.QuerySpec
	lastValueSpec relational.QuerySpec
	offsetKey     relational.FocusKey
	itemQueries   int
}

func (f *fakeExecutor) ItemQuery(_ context.Context, spec relational.QuerySpec) ([]uuid.UUID, error) {
	f.lastItemSpec = spec
	f.itemQueries++
	return f.items, nil
}

func (f *fakeExecutor) ValueQuery(_ context.Context, spec relational.QuerySpec) ([]types.ValueRow, error) {
	f.lastValueSpec = spec
	return f.values, nil
}

func (f *fakeExecutor) CountQuery(context.Context, relational.QuerySpec) (int, error) {
	return f.total, nil
}

func (f *fakeExecutor) OffsetQuery(_ context.Context, _ relational.QuerySpec, key relational.FocusKey) (int, error) {
	f.offsetKey = key
	return f.offset, nil
}

func (f *fakeExecutor) MaxValueQuery(context.Context, string, string, uuid.UUID) (string, bool, error) {
	return f.maxValue, f.maxOK, nil
}

func (f *fakeExecutor) Generation(context.Context) (int64, error) {
	return f.generation, nil
}

func testConfig() types.Config {
	return types.Config{
		Backend: types.BackendSQLite,
		SortOptions: []types.SortOption{
			{Number: 1, Name: "title", Field: "dc.title", Type: types.DataTypeTitle},
			{Number: 2, Name: "dateissued", Field: "dc.date.issued", Type: types.DataTypeDate},
		},
		Indexes: []types.BrowseIndexDefinition{
			{Name: "author", Number: 1, Fields: []string{"dc.contributor.author"},
				Type: types.DataTypeText, Display: types.DisplayMetadata},
			{Name: "title", Number: 2, Type: types.DataTypeTitle,
				Display: types.DisplayItem, SortOption: 1},
		},
	}
}

func newTestEngine(t *testing.T, cfg types.Config, exec Executor) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, exec, sortkey.Plain{}, metrics.New(nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestBrowse_UnknownIndex(t *testing.T) {
	e := newTestEngine(t, testConfig(), &fakeExecutor{})
	_, err := e.Browse(context.Background(), types.BrowseScope{Index: "nope"})
	if !errors.Is(err, types.ErrUnknownIndex) {
		t.Errorf("expected ErrUnknownIndex, got %v", err)
	}
}

func TestBrowse_InvalidScopes(t *testing.T) {
	e := newTestEngine(t, testConfig(), &fakeExecutor{})
	ctx := context.Background()

	cases := []types.BrowseScope{
		// Second level on an item index.
		{Index: "title", SecondLevel: true, FilterValue: "x"},
		// Second level without a filter.
		{Index: "author", SecondLevel: true},
		// Item focus on a value browse.
		{Index: "author", FocusItem: uuid.New()},
		// Sort option on a value browse.
		{Index: "author", SortBy: 1},
		// Frequencies on an item browse.
		{Index: "title", Frequencies: true},
		// Filter without second level.
		{Index: "author", FilterValue: "x"},
	}
	for i, scope := range cases {
		if _, err := e.Browse(ctx, scope); !errors.Is(err, types.ErrInvalidScope) {
			t.Errorf("case %d: expected ErrInvalidScope, got %v", i, err)
		}
	}
}

func TestBrowse_ValueLevel(t *testing.T) {
	exec := &fakeExecutor{
		values: []types.ValueRow{{Value: "Smith, John"}, {Value: "Jones, Ann"}},
		total:  12,
	}
	e := newTestEngine(t, testConfig(), exec)

	page, err := e.Browse(context.Background(), types.BrowseScope{
		Index: "author", Ascending: true, Limit: 2, Frequencies: true,
	})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(page.Values) != 2 || page.Items != nil {
		t.Errorf("expected value page, got %+v", page)
	}
	if page.Total != 12 || page.Position != 0 {
		t.Errorf("Total = %d, Position = %d", page.Total, page.Position)
	}
	if page.NextOffset != 2 || page.PrevOffset != types.NoOffset {
		t.Errorf("NextOffset = %d, PrevOffset = %d", page.NextOffset, page.PrevOffset)
	}
	if exec.lastValueSpec.Table != "bi_1_dis" || exec.lastValueSpec.MapTable != "bi_1_dmap" {
		t.Errorf("spec tables = %+v", exec.lastValueSpec)
	}
	if !exec.lastValueSpec.Frequencies {
		t.Error("spec should request frequencies")
	}
}

func TestBrowse_ItemLevel(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	exec := &fakeExecutor{items: ids, total: 2}
	e := newTestEngine(t, testConfig(), exec)

	page, err := e.Browse(context.Background(), types.BrowseScope{
		Index: "title", Ascending: true, Limit: 20,
	})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(page.Items) != 2 || page.Values != nil {
		t.Errorf("expected item page, got %+v", page)
	}
	// The index's configured sort option resolves when the scope names none.
	if page.SortBy != 1 {
		t.Errorf("SortBy = %d", page.SortBy)
	}
	if exec.lastItemSpec.OrderColumn != "sort_1" || exec.lastItemSpec.Table != types.ItemTable {
		t.Errorf("spec = %+v", exec.lastItemSpec)
	}
	if page.HasNext() || page.HasPrev() {
		t.Error("single page must have no neighbors")
	}
}

func TestBrowse_FocusWinsOverOffset(t *testing.T) {
	exec := &fakeExecutor{total: 100, offset: 40}
	e := newTestEngine(t, testConfig(), exec)

	page, err := e.Browse(context.Background(), types.BrowseScope{
		Index: "title", Ascending: true, Limit: 20,
		Offset:     80,
		FocusValue: "The Middle",
	})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if page.Position != 40 {
		t.Errorf("Position = %d, want focus-resolved 40", page.Position)
	}
	// The focus value is normalized before the offset lookup, and a value
	// focus carries no tie-break item.
	if exec.offsetKey.Value != "middle, the" {
		t.Errorf("offset key value = %q", exec.offsetKey.Value)
	}
	if exec.offsetKey.Item != uuid.Nil {
		t.Errorf("offset key item = %s, want none", exec.offsetKey.Item)
	}
	if page.PrevOffset != 20 || page.NextOffset != 60 {
		t.Errorf("PrevOffset = %d, NextOffset = %d", page.PrevOffset, page.NextOffset)
	}
}

func TestBrowse_FocusItemCarriesTieBreak(t *testing.T) {
	focus := uuid.New()
	exec := &fakeExecutor{total: 10, offset: 3, maxValue: "shared key", maxOK: true}
	e := newTestEngine(t, testConfig(), exec)

	page, err := e.Browse(context.Background(), types.BrowseScope{
		Index: "title", Ascending: true, Limit: 5, FocusItem: focus,
	})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	// The offset lookup sees the item's own sort key plus its id, so rows
	// sharing the key tie-break instead of all counting as predecessors.
	if exec.offsetKey.Value != "shared key" || exec.offsetKey.Item != focus {
		t.Errorf("offset key = %+v", exec.offsetKey)
	}
	if page.Position != 3 {
		t.Errorf("Position = %d", page.Position)
	}
}

func TestBrowse_FocusItemNotFound(t *testing.T) {
	exec := &fakeExecutor{maxOK: false}
	e := newTestEngine(t, testConfig(), exec)

	_, err := e.Browse(context.Background(), types.BrowseScope{
		Index: "title", FocusItem: uuid.New(), Limit: 20,
	})
	if !errors.Is(err, types.ErrNoSuchFocus) {
		t.Errorf("expected ErrNoSuchFocus, got %v", err)
	}
}

func TestBrowse_OffsetBackfill(t *testing.T) {
	exec := &fakeExecutor{total: 45}
	e := newTestEngine(t, testConfig(), exec)

	page, err := e.Browse(context.Background(), types.BrowseScope{
		Index: "title", Ascending: true, Limit: 20, Offset: 200,
	})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if page.Position != 25 {
		t.Errorf("Position = %d, want backfilled 25", page.Position)
	}
	if page.HasNext() {
		t.Error("backfilled last page must have no next")
	}
	if page.PrevOffset != 5 {
		t.Errorf("PrevOffset = %d", page.PrevOffset)
	}
}

func TestBrowse_SecondLevel(t *testing.T) {
	exec := &fakeExecutor{items: []uuid.UUID{uuid.New()}, total: 1}
	e := newTestEngine(t, testConfig(), exec)

	_, err := e.Browse(context.Background(), types.BrowseScope{
		Index: "author", SecondLevel: true,
		FilterValue: "Smith, John", Ascending: true, Limit: 20,
	})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	f := exec.lastItemSpec.Filter
	if f == nil {
		t.Fatal("spec should carry a filter")
	}
	if f.MapTable != "bi_1_dmap" || f.DistinctTable != "bi_1_dis" {
		t.Errorf("filter tables = %+v", f)
	}
	if f.Value != "smith, john" {
		t.Errorf("filter value = %q, want normalized", f.Value)
	}
}

func TestBrowse_CacheGeneration(t *testing.T) {
	cfg := testConfig()
	cfg.CacheSize = 8
	exec := &fakeExecutor{items: []uuid.UUID{uuid.New()}, total: 1, generation: 7}
	e := newTestEngine(t, cfg, exec)
	ctx := context.Background()
	scope := types.BrowseScope{Index: "title", Ascending: true, Limit: 20}

	first, err := e.Browse(ctx, scope)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if first.Cached {
		t.Error("first page must not be cached")
	}

	second, err := e.Browse(ctx, scope)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if !second.Cached {
		t.Error("second page should come from the cache")
	}
	if exec.itemQueries != 1 {
		t.Errorf("itemQueries = %d, want 1", exec.itemQueries)
	}

	// A generation bump invalidates the cached page.
	exec.generation = 8
	third, err := e.Browse(ctx, scope)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if third.Cached {
		t.Error("stale page must be recomputed after a write")
	}
	if exec.itemQueries != 2 {
		t.Errorf("itemQueries = %d, want 2", exec.itemQueries)
	}
}

func TestBrowseMini(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	exec := &fakeExecutor{items: ids}
	e := newTestEngine(t, testConfig(), exec)

	got, err := e.BrowseMini(context.Background(), types.BrowseScope{
		Index: "title", Ascending: false, Limit: 3,
	})
	if err != nil {
		t.Fatalf("BrowseMini failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d items", len(got))
	}
	if exec.lastItemSpec.Limit != 3 || exec.lastItemSpec.Ascending {
		t.Errorf("spec = %+v", exec.lastItemSpec)
	}

	if _, err := e.BrowseMini(context.Background(), types.BrowseScope{Index: "author"}); !errors.Is(err, types.ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope, got %v", err)
	}
}

func TestBackfillOffset(t *testing.T) {
	cases := []struct {
		offset, total, limit, want int
	}{
		{0, 100, 20, 0},
		{-3, 100, 20, 0},
		{40, 100, 20, 40},
		{100, 100, 20, 80},
		{500, 45, 20, 25},
		{500, 10, 20, 0},
		{500, 45, 0, 0},
	}
	for _, c := range cases {
		if got := backfillOffset(c.offset, c.total, c.limit); got != c.want {
			t.Errorf("backfillOffset(%d, %d, %d) = %d, want %d",
				c.offset, c.total, c.limit, got, c.want)
		}
	}
}
