package relational

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/openshelf/browsedex/internal/schema"
	"github.com/openshelf/browsedex/pkg/types"
)

// Backend owns the database connection and the physical index schema. It is
// not attached until Attach succeeds; all operations on a detached backend
// fail with ErrNotAttached.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dialect  Dialect
	db       *sql.DB
	log      zerolog.Logger
}

// NewBackend creates an unattached backend. Call Attach with a validated
// Config to open the database and ensure the schema exists.
func NewBackend(log zerolog.Logger) *Backend {
	return &Backend{log: log.With().Str("component", "relational").Logger()}
}

// Attach opens the configured database and creates any missing index tables.
// Existing index contents are kept; rebuilding is a separate, explicit
// operation. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	dialect, err := DialectFor(config.Backend)
	if err != nil {
		return err
	}

	dsn := config.DSN
	if config.Backend == types.BackendSQLite {
		dataDir := config.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "browse.db")
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return fmt.Errorf("opening %s database: %w", dialect.Name, err)
	}

	b.db = db
	b.config = config
	b.dialect = dialect

	if err := b.createSchema(); err != nil {
		db.Close()
		b.db = nil
		return fmt.Errorf("creating index schema: %w", err)
	}

	b.attached = true
	b.log.Debug().Str("backend", dialect.Name).Msg("attached")
	return nil
}

// Detach closes the database. Idempotent; after Detach all operations return
// ErrNotAttached.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
		b.db = nil
	}
	b.attached = false
	b.log.Debug().Msg("detached")
	return nil
}

// handle returns the open database, or ErrNotAttached.
func (b *Backend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrNotAttached
	}
	return b.db, nil
}

// Config returns the attached configuration.
func (b *Backend) Config() types.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// Dialect returns the attached dialect.
func (b *Backend) Dialect() Dialect {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dialect
}

// createSchema issues CREATE TABLE IF NOT EXISTS for every index table the
// configuration implies. Caller holds b.mu.
func (b *Backend) createSchema() error {
	for _, stmt := range schemaStatements(b.dialect, b.config) {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstWords(stmt, 4), err)
		}
	}
	// Seed the generation counter once.
	s := newSQLBuilder(b.dialect)
	s.write("INSERT INTO bi_meta (key, value) SELECT ")
	s.bind("generation")
	s.write(", 0 WHERE NOT EXISTS (SELECT 1 FROM bi_meta WHERE key = ")
	s.bind("generation")
	s.write(")")
	stmt, args := s.done()
	if _, err := b.db.Exec(stmt, args...); err != nil {
		return fmt.Errorf("seeding generation counter: %w", err)
	}
	return nil
}

// DropSchema removes every index table. Used by the rebuild command before
// re-creating the schema and reindexing from the catalog.
func (b *Backend) DropSchema(ctx context.Context) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	tables := append(schema.ItemTables(),
		types.Collection2ItemTable, types.Communities2ItemTable, "bi_meta")
	for _, d := range schema.MetadataIndexes(b.config) {
		tables = append(tables, d.MapTableName(), d.DistinctTableName())
	}
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("dropping %s: %w", t, err)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createSchema()
}

// schemaStatements renders the DDL for the configured index layout.
func schemaStatements(d Dialect, cfg types.Config) []string {
	sortCols := schema.SortColumns(cfg)

	var stmts []string
	for _, table := range schema.ItemTables() {
		cols := []string{d.AutoPK, "item_id TEXT NOT NULL UNIQUE"}
		for _, c := range sortCols {
			cols = append(cols, c+" TEXT")
		}
		stmts = append(stmts, "CREATE TABLE IF NOT EXISTS "+table+
			" ("+strings.Join(cols, ", ")+")")
	}
	// Sort indexes only on the archive table; withdrawn and private browses
	// are administrative and rare.
	for _, c := range sortCols {
		stmts = append(stmts, "CREATE INDEX IF NOT EXISTS "+
			types.ItemTable+"_"+c+"_idx ON "+types.ItemTable+" ("+c+")")
	}

	for _, def := range schema.MetadataIndexes(cfg) {
		dis := def.DistinctTableName()
		dmap := def.MapTableName()
		stmts = append(stmts,
			"CREATE TABLE IF NOT EXISTS "+dis+" ("+d.AutoPK+
				", value TEXT NOT NULL, sort_value TEXT NOT NULL"+
				", authority TEXT NOT NULL DEFAULT ''"+
				", UNIQUE (value, authority))",
			"CREATE INDEX IF NOT EXISTS "+dis+"_sort_idx ON "+dis+" (sort_value)",
			"CREATE TABLE IF NOT EXISTS "+dmap+" ("+d.AutoPK+
				", item_id TEXT NOT NULL, distinct_id BIGINT NOT NULL"+
				", UNIQUE (item_id, distinct_id))",
			"CREATE INDEX IF NOT EXISTS "+dmap+"_item_idx ON "+dmap+" (item_id)",
			"CREATE INDEX IF NOT EXISTS "+dmap+"_dis_idx ON "+dmap+" (distinct_id)",
		)
	}

	stmts = append(stmts,
		"CREATE TABLE IF NOT EXISTS "+types.Collection2ItemTable+" ("+d.AutoPK+
			", collection_id TEXT NOT NULL, item_id TEXT NOT NULL"+
			", UNIQUE (collection_id, item_id))",
		"CREATE INDEX IF NOT EXISTS "+types.Collection2ItemTable+"_item_idx ON "+
			types.Collection2ItemTable+" (item_id)",
		"CREATE TABLE IF NOT EXISTS "+types.Communities2ItemTable+" ("+d.AutoPK+
			", community_id TEXT NOT NULL, item_id TEXT NOT NULL"+
			", UNIQUE (community_id, item_id))",
		"CREATE INDEX IF NOT EXISTS "+types.Communities2ItemTable+"_item_idx ON "+
			types.Communities2ItemTable+" (item_id)",
		"CREATE TABLE IF NOT EXISTS bi_meta (key TEXT PRIMARY KEY, value BIGINT NOT NULL)",
	)
	return stmts
}

// bumpGeneration advances the index generation inside a write transaction.
// Cached browse pages from earlier generations become stale.
func bumpGeneration(tx *sql.Tx, d Dialect) error {
	s := newSQLBuilder(d)
	s.write("UPDATE bi_meta SET value = value + 1 WHERE key = ")
	s.bind("generation")
	stmt, args := s.done()
	if _, err := tx.Exec(stmt, args...); err != nil {
		return fmt.Errorf("bumping generation: %w", err)
	}
	return nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
