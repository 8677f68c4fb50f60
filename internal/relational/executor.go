package relational

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openshelf/browsedex/pkg/types"
)

// Executor runs read-only query specs against the attached backend. It is
// the capability the browse engine consumes; the engine never sees SQL.
type Executor struct {
	backend *Backend
}

// NewExecutor returns an executor over the backend.
func NewExecutor(b *Backend) *Executor {
	return &Executor{backend: b}
}

// ItemQuery returns the page of item ids the spec selects.
func (e *Executor) ItemQuery(ctx context.Context, spec QuerySpec) ([]uuid.UUID, error) {
	db, err := e.backend.handle()
	if err != nil {
		return nil, err
	}
	stmt, args := spec.ItemSQL(e.backend.Dialect())

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing item id %q: %w", raw, err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item rows: %w", err)
	}
	return items, nil
}

// ValueQuery returns the page of distinct values the spec selects,
// with frequencies when the spec requests them.
func (e *Executor) ValueQuery(ctx context.Context, spec QuerySpec) ([]types.ValueRow, error) {
	db, err := e.backend.handle()
	if err != nil {
		return nil, err
	}
	stmt, args := spec.ValueSQL(e.backend.Dialect())

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying values: %w", err)
	}
	defer rows.Close()

	var values []types.ValueRow
	for rows.Next() {
		var id int64
		var row types.ValueRow
		if spec.Frequencies {
			err = rows.Scan(&id, &row.Value, &row.Authority, &row.Frequency)
		} else {
			err = rows.Scan(&id, &row.Value, &row.Authority)
		}
		if err != nil {
			return nil, fmt.Errorf("scanning value row: %w", err)
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating value rows: %w", err)
	}
	return values, nil
}

// CountQuery returns the total size of the spec's scoped result set.
func (e *Executor) CountQuery(ctx context.Context, spec QuerySpec) (int, error) {
	db, err := e.backend.handle()
	if err != nil {
		return 0, err
	}
	stmt, args := spec.CountSQL(e.backend.Dialect())

	var n int
	if err := db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}
	return n, nil
}

// OffsetQuery returns the number of rows preceding the focus key within the
// spec's scope and direction.
func (e *Executor) OffsetQuery(ctx context.Context, spec QuerySpec, key FocusKey) (int, error) {
	db, err := e.backend.handle()
	if err != nil {
		return 0, err
	}
	stmt, args := spec.OffsetSQL(e.backend.Dialect(), key)

	var n int
	if err := db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting offset: %w", err)
	}
	return n, nil
}

// MaxValueQuery returns the sort key the item carries in the given column of
// the given table. The second return is false when the item has no row or a
// NULL key there.
func (e *Executor) MaxValueQuery(ctx context.Context, table, column string, itemID uuid.UUID) (string, bool, error) {
	db, err := e.backend.handle()
	if err != nil {
		return "", false, err
	}
	stmt, args := MaxValueSQL(e.backend.Dialect(), table, column, itemID)

	var v sql.NullString
	if err := db.QueryRowContext(ctx, stmt, args...).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("querying max value: %w", err)
	}
	return v.String, v.Valid, nil
}

// Generation returns the current index generation. Every committed index
// write advances it.
func (e *Executor) Generation(ctx context.Context) (int64, error) {
	db, err := e.backend.handle()
	if err != nil {
		return 0, err
	}
	s := newSQLBuilder(e.backend.Dialect())
	s.write("SELECT value FROM bi_meta WHERE key = ")
	s.bind("generation")
	stmt, args := s.done()

	var gen int64
	if err := db.QueryRowContext(ctx, stmt, args...).Scan(&gen); err != nil {
		return 0, fmt.Errorf("reading generation: %w", err)
	}
	return gen, nil
}
