package relational

import (
	"github.com/google/uuid"
)

// highSentinel sorts after every real sort key sharing its prefix. Appended
// to the focus value when counting the offset of a descending browse, so the
// comparison lands after all keys equal to the focus value.
const highSentinel = "￿"

// ContainerClause restricts a query to items mapped into one community or
// collection.
type ContainerClause struct {
	// Table is the container mapping table.
	Table string
	// Column is the container id column in that table.
	Column string
	ID     uuid.UUID
}

// FocusKey positions an offset count at a sort key. Item, when set, is the
// focused item's id: rows sharing the focus key are tie-broken on item id,
// matching the page order, so the focused item heads its page even among
// identical keys.
type FocusKey struct {
	Value string
	Item  uuid.UUID
}

// FilterClause restricts an item query to items carrying one distinct value,
// matched by normalized value, by authority key, or by substring.
type FilterClause struct {
	MapTable      string
	DistinctTable string
	// Value is the normalized sort key to match. Ignored when Authority is
	// set.
	Value     string
	Authority string
	// Partial switches the value match from equality to case-folded
	// substring.
	Partial bool
}

// QuerySpec is the immutable description of one read against the index
// tables. Construct it fully, then hand it to the executor; nothing mutates
// it afterwards, so specs are safe to share and to use as building blocks
// for the companion count and offset statements.
type QuerySpec struct {
	// Table is an item table for item queries, the distinct table for
	// value queries.
	Table string
	// MapTable is the item-to-distinct mapping table, set on value queries
	// only.
	MapTable string

	// OrderColumn is a sort_<n> column for item queries, sort_value for
	// value queries.
	OrderColumn string
	Ascending   bool

	Container *ContainerClause
	Filter    *FilterClause

	// Limit caps the row count; zero or negative means unbounded.
	Limit int
	// Offset skips rows; zero means none.
	Offset int

	// Frequencies adds per-value item counts to value queries.
	Frequencies bool
}

// IsValueQuery reports whether the spec reads the distinct dictionary.
func (q QuerySpec) IsValueQuery() bool { return q.MapTable != "" }

// ItemSQL renders the item page query: item ids in sort order, paged per the
// spec. Positioning happens beforehand, through OffsetSQL.
func (q QuerySpec) ItemSQL(d Dialect) (string, []any) {
	s := newSQLBuilder(d)
	s.write("SELECT item_id FROM " + q.Table)
	q.writeItemWhere(s)
	s.write(" ORDER BY " + q.OrderColumn + q.direction() + ", item_id ASC")
	q.writePaging(s)
	return s.done()
}

// ValueSQL renders the distinct-value page query. With Frequencies the
// dictionary is joined to the mapping table and grouped so each row carries
// its item count; without, a membership subselect keeps the plan cheap.
func (q QuerySpec) ValueSQL(d Dialect) (string, []any) {
	s := newSQLBuilder(d)
	if q.Frequencies {
		s.write("SELECT dis.id, dis.value, dis.authority, COUNT(map.item_id) AS freq")
		s.write(" FROM " + q.Table + " dis")
		s.write(" JOIN " + q.MapTable + " map ON map.distinct_id = dis.id")
		s.write(" WHERE 1=1")
		if q.Container != nil {
			s.write(" AND map.item_id IN (SELECT item_id FROM " + q.Container.Table +
				" WHERE " + q.Container.Column + " = ")
			s.bind(q.Container.ID.String())
			s.write(")")
		}
		s.write(" GROUP BY dis.id, dis.value, dis.authority, dis.sort_value")
		s.write(" ORDER BY dis.sort_value" + q.direction())
	} else {
		s.write("SELECT id, value, authority FROM " + q.Table)
		s.write(" WHERE id IN (" + q.mappedDistinctIDs(s) + ")")
		s.write(" ORDER BY sort_value" + q.direction())
	}
	q.writePaging(s)
	return s.done()
}

// CountSQL renders the total count for the spec's scope, ignoring paging:
// a focus positions within the result set, it does not shrink it.
func (q QuerySpec) CountSQL(d Dialect) (string, []any) {
	s := newSQLBuilder(d)
	s.write("SELECT COUNT(*) FROM " + q.Table)
	if q.IsValueQuery() {
		s.write(" WHERE id IN (" + q.mappedDistinctIDs(s) + ")")
		return s.done()
	}
	q.writeItemWhere(s)
	return s.done()
}

// OffsetSQL renders the query that counts how many rows of the scoped result
// set precede the focus key, turning a focus into a page offset. Ascending
// browses count keys strictly below the focus; descending browses count keys
// strictly above every key equal to it. With a focus item, rows sharing the
// key count when their item id orders before the focused item's, matching
// the page query's item-id tie-break.
func (q QuerySpec) OffsetSQL(d Dialect, key FocusKey) (string, []any) {
	s := newSQLBuilder(d)
	s.write("SELECT COUNT(*) FROM " + q.Table)
	if q.IsValueQuery() {
		s.write(" WHERE id IN (" + q.mappedDistinctIDs(s) + ")")
	} else {
		q.writeItemWhere(s)
	}

	col := q.OrderColumn
	cmp := "<"
	if !q.Ascending {
		cmp = ">"
	}
	if key.Item != uuid.Nil {
		s.write(" AND (" + col + " " + cmp + " ")
		s.bind(key.Value)
		s.write(" OR (" + col + " = ")
		s.bind(key.Value)
		s.write(" AND item_id < ")
		s.bind(key.Item.String())
		s.write("))")
		return s.done()
	}
	if q.Ascending {
		s.write(" AND " + col + " < ")
		s.bind(key.Value)
	} else {
		s.write(" AND " + col + " > ")
		s.bind(key.Value + highSentinel)
	}
	return s.done()
}

// MaxValueSQL renders the lookup of an item's sort key in the given column,
// used to resolve an item focus into a value focus. The result is NULL when
// the item has no key for the column.
func MaxValueSQL(d Dialect, table, column string, itemID uuid.UUID) (string, []any) {
	s := newSQLBuilder(d)
	s.write("SELECT max(" + column + ") FROM " + table + " WHERE item_id = ")
	s.bind(itemID.String())
	return s.done()
}

// writeItemWhere appends the shared WHERE clauses of item queries: container
// scope and distinct-value filter.
func (q QuerySpec) writeItemWhere(s *sqlBuilder) {
	s.write(" WHERE 1=1")
	if q.Container != nil {
		s.write(" AND item_id IN (SELECT item_id FROM " + q.Container.Table +
			" WHERE " + q.Container.Column + " = ")
		s.bind(q.Container.ID.String())
		s.write(")")
	}
	if f := q.Filter; f != nil {
		s.write(" AND item_id IN (SELECT item_id FROM " + f.MapTable +
			" WHERE distinct_id IN (SELECT id FROM " + f.DistinctTable + " WHERE ")
		switch {
		case f.Authority != "":
			s.write("authority = ")
			s.bind(f.Authority)
		case f.Partial:
			s.write(s.d.Fold("value") + " LIKE ")
			s.bind("%" + f.Value + "%")
		default:
			s.write("sort_value = ")
			s.bind(f.Value)
		}
		s.write("))")
	}
}

// mappedDistinctIDs renders the subselect of distinct ids that have at least
// one mapped item within the container scope, binding into s, and returns
// the fragment.
func (q QuerySpec) mappedDistinctIDs(s *sqlBuilder) string {
	frag := "SELECT distinct_id FROM " + q.MapTable
	if q.Container != nil {
		// Bind order matters: the container id placeholder is emitted here.
		frag += " WHERE item_id IN (SELECT item_id FROM " + q.Container.Table +
			" WHERE " + q.Container.Column + " = "
		s.args = append(s.args, q.Container.ID.String())
		frag += s.d.Placeholder(len(s.args)) + ")"
	}
	return frag
}

func (q QuerySpec) direction() string {
	if q.Ascending {
		return " ASC"
	}
	return " DESC"
}

func (q QuerySpec) writePaging(s *sqlBuilder) {
	if q.Limit > 0 {
		s.write(" LIMIT ")
		s.bind(q.Limit)
	}
	if q.Offset > 0 {
		s.write(" OFFSET ")
		s.bind(q.Offset)
	}
}
