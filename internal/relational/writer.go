package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openshelf/browsedex/internal/metrics"
	"github.com/openshelf/browsedex/internal/schema"
	"github.com/openshelf/browsedex/internal/sortkey"
	"github.com/openshelf/browsedex/pkg/types"
)

// Writer maintains the index tables from the primary catalog. Every write is
// one transaction: the item row, its containment rows, and its distinct
// mappings commit together, so a crash never leaves a half-indexed item.
// Writes are idempotent; reindexing an unchanged item is a no-op apart from
// the generation bump.
type Writer struct {
	backend *Backend
	source  types.MetadataSource
	format  sortkey.Formatter
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewWriter returns a writer over the backend, reading item state and
// metadata from source.
func NewWriter(b *Backend, source types.MetadataSource, format sortkey.Formatter, m *metrics.Metrics, log zerolog.Logger) *Writer {
	return &Writer{
		backend: b,
		source:  source,
		format:  format,
		metrics: m,
		log:     log.With().Str("component", "writer").Logger(),
	}
}

// ReindexStats summarizes one batch reindex run.
type ReindexStats struct {
	Indexed int
	Removed int
	Failed  int
	Pruned  int64
}

// IndexItem brings the index to the item's current catalog state: exactly
// one item-table row matching its lifecycle state, current containment rows,
// and current distinct mappings. Items that are neither archived nor
// withdrawn are removed from the index entirely.
func (w *Writer) IndexItem(ctx context.Context, itemID uuid.UUID) error {
	prune := w.backend.Config().EffectivePruning() == types.PruneImmediate
	return w.indexItem(ctx, itemID, prune)
}

func (w *Writer) indexItem(ctx context.Context, itemID uuid.UUID, pruneNow bool) error {
	table, err := w.targetTable(ctx, itemID)
	if err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "resolving item state", Err: err}
	}
	if table == "" {
		return w.removeItem(ctx, itemID, pruneNow)
	}

	keys, err := w.sortKeys(ctx, itemID)
	if err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "computing sort keys", Err: err}
	}

	db, err := w.backend.handle()
	if err != nil {
		return err
	}
	cfg := w.backend.Config()
	d := w.backend.Dialect()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "beginning transaction", Err: err}
	}
	defer tx.Rollback()

	// Exactly one item table holds the item: clear the other two first.
	for _, t := range schema.ItemTables() {
		if t == table {
			continue
		}
		if err := w.deleteItemRow(ctx, tx, t, itemID); err != nil {
			return &types.IndexingError{ItemID: itemID, Op: "clearing stale state", Err: err}
		}
	}
	if err := w.upsertItemRow(ctx, tx, table, itemID, keys); err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "writing item row", Err: err}
	}

	if table == types.ItemTable {
		if err := w.replaceContainment(ctx, tx, itemID); err != nil {
			return &types.IndexingError{ItemID: itemID, Op: "writing containment", Err: err}
		}
	} else {
		if err := w.deleteContainment(ctx, tx, itemID); err != nil {
			return &types.IndexingError{ItemID: itemID, Op: "clearing containment", Err: err}
		}
	}

	ds := distinctStore{d: d, lookup: cfg.EffectiveDistinctLookup()}
	for _, def := range schema.MetadataIndexes(cfg) {
		var removed []int64
		if table == types.ItemTable {
			want, err := w.distinctWants(ctx, tx, ds, def, itemID)
			if err != nil {
				return &types.IndexingError{ItemID: itemID, Index: def.Name, Op: "resolving distinct values", Err: err}
			}
			removed, err = ds.reconcile(ctx, tx, def, itemID, want)
			if err != nil {
				return &types.IndexingError{ItemID: itemID, Index: def.Name, Op: "reconciling mappings", Err: err}
			}
		} else {
			// Only archived, discoverable items participate in value browses.
			removed, err = ds.removeAll(ctx, tx, def, itemID)
			if err != nil {
				return &types.IndexingError{ItemID: itemID, Index: def.Name, Op: "removing mappings", Err: err}
			}
		}
		if pruneNow && len(removed) > 0 {
			n, err := ds.pruneOrphans(ctx, tx, def, removed)
			if err != nil {
				return &types.IndexingError{ItemID: itemID, Index: def.Name, Op: "pruning orphans", Err: err}
			}
			w.metrics.DistinctPruned.Add(float64(n))
		}
	}

	if err := bumpGeneration(tx, d); err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "bumping generation", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "committing", Err: err}
	}

	w.metrics.ItemsIndexed.Inc()
	w.log.Debug().Str("item", itemID.String()).Str("table", table).Msg("indexed item")
	return nil
}

// RemoveItem deletes every trace of the item from the index: its item-table
// row, containment rows, and distinct mappings. Removing an absent item is a
// no-op.
func (w *Writer) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	prune := w.backend.Config().EffectivePruning() == types.PruneImmediate
	return w.removeItem(ctx, itemID, prune)
}

func (w *Writer) removeItem(ctx context.Context, itemID uuid.UUID, pruneNow bool) error {
	db, err := w.backend.handle()
	if err != nil {
		return err
	}
	cfg := w.backend.Config()
	d := w.backend.Dialect()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "beginning transaction", Err: err}
	}
	defer tx.Rollback()

	for _, t := range schema.ItemTables() {
		if err := w.deleteItemRow(ctx, tx, t, itemID); err != nil {
			return &types.IndexingError{ItemID: itemID, Op: "deleting item row", Err: err}
		}
	}
	if err := w.deleteContainment(ctx, tx, itemID); err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "clearing containment", Err: err}
	}

	ds := distinctStore{d: d, lookup: cfg.EffectiveDistinctLookup()}
	for _, def := range schema.MetadataIndexes(cfg) {
		removed, err := ds.removeAll(ctx, tx, def, itemID)
		if err != nil {
			return &types.IndexingError{ItemID: itemID, Index: def.Name, Op: "removing mappings", Err: err}
		}
		if pruneNow && len(removed) > 0 {
			n, err := ds.pruneOrphans(ctx, tx, def, removed)
			if err != nil {
				return &types.IndexingError{ItemID: itemID, Index: def.Name, Op: "pruning orphans", Err: err}
			}
			w.metrics.DistinctPruned.Add(float64(n))
		}
	}

	if err := bumpGeneration(tx, d); err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "bumping generation", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &types.IndexingError{ItemID: itemID, Op: "committing", Err: err}
	}

	w.metrics.ItemsRemoved.Inc()
	w.log.Debug().Str("item", itemID.String()).Msg("removed item")
	return nil
}

// ReindexAll reindexes every catalog item, sweeps index rows whose items no
// longer exist, and finishes with a full orphan prune. Per-item failures are
// logged and counted; the batch continues past them.
func (w *Writer) ReindexAll(ctx context.Context) (ReindexStats, error) {
	var stats ReindexStats

	items, err := w.source.AllItems(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing catalog items: %w", err)
	}
	for _, id := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		// Pruning waits for the final sweep; mid-batch orphans are harmless.
		if err := w.indexItem(ctx, id, false); err != nil {
			w.log.Warn().Err(err).Str("item", id.String()).Msg("reindex failed for item")
			w.metrics.IndexFailures.Inc()
			stats.Failed++
			continue
		}
		stats.Indexed++
	}

	indexed, err := w.indexedItemIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing indexed items: %w", err)
	}
	for _, id := range indexed {
		exists, err := w.source.Exists(ctx, id)
		if err != nil {
			return stats, fmt.Errorf("checking item %s: %w", id, err)
		}
		if exists {
			continue
		}
		if err := w.removeItem(ctx, id, false); err != nil {
			w.log.Warn().Err(err).Str("item", id.String()).Msg("sweep failed for item")
			stats.Failed++
			continue
		}
		stats.Removed++
	}

	pruned, err := w.PruneAll(ctx)
	if err != nil {
		return stats, err
	}
	stats.Pruned = pruned

	w.log.Info().Int("indexed", stats.Indexed).Int("removed", stats.Removed).
		Int("failed", stats.Failed).Int64("pruned", stats.Pruned).Msg("reindex complete")
	return stats, nil
}

// PruneAll sweeps every distinct dictionary for values no item maps to.
func (w *Writer) PruneAll(ctx context.Context) (int64, error) {
	db, err := w.backend.handle()
	if err != nil {
		return 0, err
	}
	cfg := w.backend.Config()
	d := w.backend.Dialect()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune transaction: %w", err)
	}
	defer tx.Rollback()

	ds := distinctStore{d: d, lookup: cfg.EffectiveDistinctLookup()}
	var total int64
	for _, def := range schema.MetadataIndexes(cfg) {
		n, err := ds.pruneOrphans(ctx, tx, def, nil)
		if err != nil {
			return 0, fmt.Errorf("pruning %s: %w", def.Name, err)
		}
		total += n
	}
	if total > 0 {
		if err := bumpGeneration(tx, d); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	w.metrics.DistinctPruned.Add(float64(total))
	return total, nil
}

// targetTable maps the item's catalog state to its item table, or "" when
// the item does not belong in the index at all.
func (w *Writer) targetTable(ctx context.Context, itemID uuid.UUID) (string, error) {
	withdrawn, err := w.source.IsWithdrawn(ctx, itemID)
	if err != nil {
		return "", err
	}
	if withdrawn {
		return types.WithdrawnTable, nil
	}
	archived, err := w.source.IsArchived(ctx, itemID)
	if err != nil {
		return "", err
	}
	if !archived {
		return "", nil
	}
	discoverable, err := w.source.IsDiscoverable(ctx, itemID)
	if err != nil {
		return "", err
	}
	if !discoverable {
		return types.PrivateTable, nil
	}
	return types.ItemTable, nil
}

// sortKeys computes the item's key for every configured sort option, using
// the first metadata value of the option's field. Options with no value map
// to nil and are stored as NULL.
func (w *Writer) sortKeys(ctx context.Context, itemID uuid.UUID) (map[string]*string, error) {
	cfg := w.backend.Config()
	keys := make(map[string]*string, len(cfg.SortOptions))
	for _, so := range cfg.SortOptions {
		field, err := so.ParsedField()
		if err != nil {
			return nil, err
		}
		values, err := w.source.Values(ctx, itemID, field)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 || strings.TrimSpace(values[0].Value) == "" {
			keys[so.Column()] = nil
			continue
		}
		key := w.format.Make(values[0].Value, values[0].Language, so.Type)
		keys[so.Column()] = &key
	}
	return keys, nil
}

// distinctWants resolves the distinct ids the item should be mapped to in
// the index, creating missing dictionary rows. Authority-bearing indexes
// record the authority key only at sufficient confidence, and additionally
// index the authority's display variants.
func (w *Writer) distinctWants(ctx context.Context, tx *sql.Tx, ds distinctStore, def types.BrowseIndexDefinition, itemID uuid.UUID) ([]int64, error) {
	cfg := w.backend.Config()
	fields, err := def.ParsedFields()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var want []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			want = append(want, id)
		}
	}

	for _, field := range fields {
		values, err := w.source.Values(ctx, itemID, field)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			if strings.TrimSpace(v.Value) == "" {
				continue
			}
			authority := ""
			if def.Authority && v.Authority != "" && v.Confidence >= cfg.MinConfidence {
				authority = v.Authority
			}
			id, err := ds.getOrCreate(ctx, tx, def, v.Value,
				w.format.Make(v.Value, v.Language, def.Type), authority)
			if err != nil {
				return nil, err
			}
			add(id)

			if authority == "" {
				continue
			}
			variants, err := w.source.AuthorityVariants(ctx, field, authority)
			if err != nil {
				return nil, err
			}
			for _, variant := range variants {
				if variant == v.Value {
					continue
				}
				id, err := ds.getOrCreate(ctx, tx, def, variant,
					w.format.Make(variant, v.Language, def.Type), authority)
				if err != nil {
					return nil, err
				}
				add(id)
			}
		}
	}
	return want, nil
}

// upsertItemRow writes the item's sort keys into the table, updating the
// existing row or inserting a new one. Absent keys are written as explicit
// NULLs so stale keys never survive an update.
func (w *Writer) upsertItemRow(ctx context.Context, tx *sql.Tx, table string, itemID uuid.UUID, keys map[string]*string) error {
	cols := schema.SortColumns(w.backend.Config())
	d := w.backend.Dialect()

	s := newSQLBuilder(d)
	s.write("UPDATE " + table + " SET ")
	for i, c := range cols {
		if i > 0 {
			s.write(", ")
		}
		s.write(c + " = ")
		s.bind(nullable(keys[c]))
	}
	s.write(" WHERE item_id = ")
	s.bind(itemID.String())
	stmt, args := s.done()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	s = newSQLBuilder(d)
	s.write("INSERT INTO " + table + " (item_id")
	for _, c := range cols {
		s.write(", " + c)
	}
	s.write(") VALUES (")
	s.bind(itemID.String())
	for _, c := range cols {
		s.write(", ")
		s.bind(nullable(keys[c]))
	}
	s.write(")")
	stmt, args = s.done()

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

func (w *Writer) deleteItemRow(ctx context.Context, tx *sql.Tx, table string, itemID uuid.UUID) error {
	s := newSQLBuilder(w.backend.Dialect())
	s.write("DELETE FROM " + table + " WHERE item_id = ")
	s.bind(itemID.String())
	stmt, args := s.done()
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

// replaceContainment rewrites the item's collection and community rows from
// the catalog: owning collections directly, communities as the union of
// every owning collection's ancestors.
func (w *Writer) replaceContainment(ctx context.Context, tx *sql.Tx, itemID uuid.UUID) error {
	collections, err := w.source.OwningCollections(ctx, itemID)
	if err != nil {
		return err
	}
	communities := make(map[uuid.UUID]bool)
	for _, coll := range collections {
		ancestors, err := w.source.AncestorCommunities(ctx, coll)
		if err != nil {
			return err
		}
		for _, comm := range ancestors {
			communities[comm] = true
		}
	}

	if err := w.deleteContainment(ctx, tx, itemID); err != nil {
		return err
	}
	d := w.backend.Dialect()
	for _, coll := range collections {
		s := newSQLBuilder(d)
		s.write("INSERT INTO " + types.Collection2ItemTable + " (collection_id, item_id) VALUES (")
		s.bind(coll.String())
		s.write(", ")
		s.bind(itemID.String())
		s.write(")")
		stmt, args := s.done()
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("inserting collection mapping: %w", err)
		}
	}
	for comm := range communities {
		s := newSQLBuilder(d)
		s.write("INSERT INTO " + types.Communities2ItemTable + " (community_id, item_id) VALUES (")
		s.bind(comm.String())
		s.write(", ")
		s.bind(itemID.String())
		s.write(")")
		stmt, args := s.done()
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("inserting community mapping: %w", err)
		}
	}
	return nil
}

func (w *Writer) deleteContainment(ctx context.Context, tx *sql.Tx, itemID uuid.UUID) error {
	d := w.backend.Dialect()
	for _, table := range []string{types.Collection2ItemTable, types.Communities2ItemTable} {
		s := newSQLBuilder(d)
		s.write("DELETE FROM " + table + " WHERE item_id = ")
		s.bind(itemID.String())
		stmt, args := s.done()
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("deleting from %s: %w", table, err)
		}
	}
	return nil
}

// indexedItemIDs returns every item id present in any item table.
func (w *Writer) indexedItemIDs(ctx context.Context) ([]uuid.UUID, error) {
	db, err := w.backend.handle()
	if err != nil {
		return nil, err
	}
	query := "SELECT item_id FROM " + types.ItemTable +
		" UNION SELECT item_id FROM " + types.WithdrawnTable +
		" UNION SELECT item_id FROM " + types.PrivateTable

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying indexed items: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning indexed item: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing item id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating indexed items: %w", err)
	}
	return ids, nil
}

// nullable converts an optional sort key to a driver argument.
func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
