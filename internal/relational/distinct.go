package relational

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openshelf/browsedex/pkg/types"
)

// distinctStore manages the per-index distinct-value dictionary and the
// item-to-value mapping table. All operations run inside the caller's
// transaction so a single item write commits atomically.
type distinctStore struct {
	d Dialect
	// lookup is the configured value comparison mode: exact or fold.
	lookup string
}

// getOrCreate returns the id of the dictionary row for (value, authority),
// inserting it when absent. Concurrent inserts of the same value are
// resolved through ON CONFLICT DO NOTHING: the loser's insert affects no
// rows and it reads the winner's row back. An error-and-requery scheme
// would not survive Postgres, which aborts the whole transaction on a
// constraint violation.
func (ds distinctStore) getOrCreate(ctx context.Context, tx *sql.Tx, def types.BrowseIndexDefinition, value, sortValue, authority string) (int64, error) {
	id, found, err := ds.lookupID(ctx, tx, def, value, authority)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	s := newSQLBuilder(ds.d)
	s.write("INSERT INTO " + def.DistinctTableName() + " (value, sort_value, authority) VALUES (")
	s.bind(value)
	s.write(", ")
	s.bind(sortValue)
	s.write(", ")
	s.bind(authority)
	s.write(") ON CONFLICT (value, authority) DO NOTHING")
	stmt, args := s.done()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting distinct value: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Lost the insert race; use the winner's id.
		id, found, err = ds.lookupID(ctx, tx, def, value, authority)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("distinct value %q absent after conflicting insert", value)
		}
		return id, nil
	}
	id, err = res.LastInsertId()
	if err != nil {
		// Postgres does not report LastInsertId; read the row back.
		id, _, err = ds.lookupID(ctx, tx, def, value, authority)
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}

// lookupID finds an existing dictionary row by value and authority, using
// the configured comparison mode.
func (ds distinctStore) lookupID(ctx context.Context, tx *sql.Tx, def types.BrowseIndexDefinition, value, authority string) (int64, bool, error) {
	s := newSQLBuilder(ds.d)
	s.write("SELECT id FROM " + def.DistinctTableName() + " WHERE ")
	if ds.lookup == types.LookupFold {
		s.write(ds.d.Fold("value") + " = ")
		s.bindFolded(value)
	} else {
		s.write("value = ")
		s.bind(value)
	}
	s.write(" AND authority = ")
	s.bind(authority)
	stmt, args := s.done()

	var id int64
	err := tx.QueryRowContext(ctx, stmt, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up distinct value: %w", err)
	}
	return id, true, nil
}

// mappedIDs returns the distinct ids currently mapped to the item.
func (ds distinctStore) mappedIDs(ctx context.Context, tx *sql.Tx, def types.BrowseIndexDefinition, itemID uuid.UUID) ([]int64, error) {
	s := newSQLBuilder(ds.d)
	s.write("SELECT distinct_id FROM " + def.MapTableName() + " WHERE item_id = ")
	s.bind(itemID.String())
	stmt, args := s.done()

	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mappings: %w", err)
	}
	return ids, nil
}

// reconcile brings the item's mappings to exactly the wanted distinct ids.
// Existing wanted mappings are kept untouched, missing ones are inserted,
// and mappings to unwanted ids are deleted. Returns the ids whose mappings
// were removed; they are the prune candidates.
func (ds distinctStore) reconcile(ctx context.Context, tx *sql.Tx, def types.BrowseIndexDefinition, itemID uuid.UUID, want []int64) ([]int64, error) {
	have, err := ds.mappedIDs(ctx, tx, def, itemID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int64]bool, len(want))
	for _, id := range want {
		wanted[id] = true
	}
	existing := make(map[int64]bool, len(have))
	for _, id := range have {
		existing[id] = true
	}

	var removed []int64
	for _, id := range have {
		if wanted[id] {
			continue
		}
		s := newSQLBuilder(ds.d)
		s.write("DELETE FROM " + def.MapTableName() + " WHERE item_id = ")
		s.bind(itemID.String())
		s.write(" AND distinct_id = ")
		s.bind(id)
		stmt, args := s.done()
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("removing mapping: %w", err)
		}
		removed = append(removed, id)
	}

	for _, id := range want {
		if existing[id] {
			continue
		}
		existing[id] = true
		s := newSQLBuilder(ds.d)
		s.write("INSERT INTO " + def.MapTableName() + " (item_id, distinct_id) VALUES (")
		s.bind(itemID.String())
		s.write(", ")
		s.bind(id)
		s.write(") ON CONFLICT (item_id, distinct_id) DO NOTHING")
		stmt, args := s.done()
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("adding mapping: %w", err)
		}
	}
	return removed, nil
}

// removeAll deletes every mapping the item holds in the index and returns
// the distinct ids it was mapped to.
func (ds distinctStore) removeAll(ctx context.Context, tx *sql.Tx, def types.BrowseIndexDefinition, itemID uuid.UUID) ([]int64, error) {
	have, err := ds.mappedIDs(ctx, tx, def, itemID)
	if err != nil {
		return nil, err
	}
	if len(have) == 0 {
		return nil, nil
	}
	s := newSQLBuilder(ds.d)
	s.write("DELETE FROM " + def.MapTableName() + " WHERE item_id = ")
	s.bind(itemID.String())
	stmt, args := s.done()
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("removing mappings: %w", err)
	}
	return have, nil
}

// pruneOrphans deletes dictionary rows no mapping references. A non-empty
// candidates slice restricts the scan to those ids; empty means a full
// sweep. Returns the number of rows deleted.
func (ds distinctStore) pruneOrphans(ctx context.Context, tx *sql.Tx, def types.BrowseIndexDefinition, candidates []int64) (int64, error) {
	s := newSQLBuilder(ds.d)
	s.write("DELETE FROM " + def.DistinctTableName() + " WHERE NOT EXISTS (SELECT 1 FROM " +
		def.MapTableName() + " WHERE " + def.MapTableName() + ".distinct_id = " +
		def.DistinctTableName() + ".id)")
	if len(candidates) > 0 {
		s.write(" AND id IN (")
		for i, id := range candidates {
			if i > 0 {
				s.write(", ")
			}
			s.bind(id)
		}
		s.write(")")
	}
	stmt, args := s.done()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning distinct values: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned values: %w", err)
	}
	return n, nil
}
