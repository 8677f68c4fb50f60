// Package integration exercises the full index pipeline end to end: a JSONL
// catalog, the SQLite-backed writer, and the browse engine.
package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/browsedex/internal/browse"
	"github.com/openshelf/browsedex/internal/catalog"
	"github.com/openshelf/browsedex/internal/metrics"
	"github.com/openshelf/browsedex/internal/relational"
	"github.com/openshelf/browsedex/internal/sortkey"
	"github.com/openshelf/browsedex/pkg/types"
)

// Fixed fixture ids so tests can assert on ordering.
var (
	collArt  = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	collSci  = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")
	commRoot = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001")
	commSub  = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
)

// catalogItem mirrors the items.jsonl line format.
type catalogItem struct {
	ItemID       string        `json:"item_id"`
	Archived     bool          `json:"archived"`
	Withdrawn    bool          `json:"withdrawn"`
	Discoverable bool          `json:"discoverable"`
	Collections  []string      `json:"collections"`
	Metadata     []catalogMeta `json:"metadata"`
}

type catalogMeta struct {
	Field      string `json:"field"`
	Value      string `json:"value"`
	Language   string `json:"language,omitempty"`
	Authority  string `json:"authority,omitempty"`
	Confidence int    `json:"confidence,omitempty"`
}

// archivedItem builds a plain archived, discoverable item in collArt.
func archivedItem(id uuid.UUID, title, date string, authors ...string) catalogItem {
	it := catalogItem{
		ItemID:       id.String(),
		Archived:     true,
		Discoverable: true,
		Collections:  []string{collArt.String()},
		Metadata: []catalogMeta{
			{Field: "dc.title", Value: title},
			{Field: "dc.date.issued", Value: date},
		},
	}
	for _, a := range authors {
		it.Metadata = append(it.Metadata, catalogMeta{Field: "dc.contributor.author", Value: a})
	}
	return it
}

// fixture wires a catalog directory, an attached SQLite backend, a writer,
// and a browse engine over a temp directory.
type fixture struct {
	t       *testing.T
	dir     string
	cfg     types.Config
	backend *relational.Backend
	writer  *relational.Writer
	engine  *browse.Engine
	exec    *relational.Executor
}

func testConfig(dataDir string) types.Config {
	return types.Config{
		Backend:       types.BackendSQLite,
		DataDir:       dataDir,
		CacheSize:     16,
		MinConfidence: types.ConfidenceAccepted,
		SortOptions: []types.SortOption{
			{Number: 1, Name: "title", Field: "dc.title", Type: types.DataTypeTitle},
			{Number: 2, Name: "dateissued", Field: "dc.date.issued", Type: types.DataTypeDate},
		},
		Indexes: []types.BrowseIndexDefinition{
			{Name: "author", Number: 1, Fields: []string{"dc.contributor.*"},
				Type: types.DataTypeText, Display: types.DisplayMetadata, Authority: true},
			{Name: "title", Number: 2, Type: types.DataTypeTitle,
				Display: types.DisplayItem, SortOption: 1},
			{Name: "dateissued", Number: 3, Type: types.DataTypeDate,
				Display: types.DisplayItem, SortOption: 2},
		},
	}
}

func newFixture(t *testing.T, items []catalogItem) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := &fixture{t: t, dir: dir, cfg: testConfig(filepath.Join(dir, "db"))}
	f.writeContainers()
	f.writeItems(items)

	f.backend = relational.NewBackend(zerolog.Nop())
	require.NoError(t, f.backend.Attach(f.cfg))
	t.Cleanup(func() { _ = f.backend.Detach() })

	f.exec = relational.NewExecutor(f.backend)
	f.rewire(items)

	engine, err := browse.NewEngine(f.cfg, f.exec, sortkey.Plain{}, metrics.New(nil), zerolog.Nop())
	require.NoError(t, err)
	f.engine = engine
	return f
}

// writeItems rewrites items.jsonl.
func (f *fixture) writeItems(items []catalogItem) {
	f.t.Helper()
	var buf []byte
	for _, it := range items {
		line, err := json.Marshal(it)
		require.NoError(f.t, err)
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, "items.jsonl"), buf, 0o644))
}

// writeContainers writes the fixed collection and community hierarchy:
// collArt and collSci both live under commSub, whose parent is commRoot.
func (f *fixture) writeContainers() {
	f.t.Helper()
	collections := `{"collection_id":"` + collArt.String() + `","community_id":"` + commSub.String() + `"}` + "\n" +
		`{"collection_id":"` + collSci.String() + `","community_id":"` + commSub.String() + `"}` + "\n"
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, "collections.jsonl"), []byte(collections), 0o644))

	communities := `{"community_id":"` + commSub.String() + `","parent_id":"` + commRoot.String() + `"}` + "\n" +
		`{"community_id":"` + commRoot.String() + `"}` + "\n"
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, "communities.jsonl"), []byte(communities), 0o644))
}

// writeAuthorities writes authorities.jsonl.
func (f *fixture) writeAuthorities(lines string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, "authorities.jsonl"), []byte(lines), 0o644))
}

// rewire reopens the catalog over the current JSONL files and rebuilds the
// writer, simulating catalog changes between index runs.
func (f *fixture) rewire(items []catalogItem) {
	f.t.Helper()
	if items != nil {
		f.writeItems(items)
	}
	cat, err := catalog.Open(f.dir)
	require.NoError(f.t, err)
	f.writer = relational.NewWriter(f.backend, cat, sortkey.Plain{}, metrics.New(nil), zerolog.Nop())
}

// values extracts the display values of a value page.
func values(page *types.BrowseResultPage) []string {
	out := make([]string, 0, len(page.Values))
	for _, v := range page.Values {
		out = append(out, v.Value)
	}
	return out
}
