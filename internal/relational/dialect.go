// Package relational implements the browse index store on a relational
// backend. One dialect-parameterized implementation serves both SQLite and
// Postgres; the dialect carries the few spots where their SQL differs.
package relational

import (
	"fmt"
	"strings"

	"github.com/openshelf/browsedex/pkg/types"
)

// Dialect captures the backend-specific corners of the SQL the engine emits.
// Everything else is shared.
type Dialect struct {
	// Name is the backend name used in configuration.
	Name string
	// Driver is the database/sql driver name to open.
	Driver string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// AutoPK is the DDL fragment for an auto-incrementing integer primary
	// key column named id.
	AutoPK string
	// Fold wraps a column expression for case-insensitive comparison.
	Fold func(expr string) string
}

// dialects is the registry of known backends, keyed by configuration name.
var dialects = map[string]Dialect{
	types.BackendSQLite: {
		Name:        types.BackendSQLite,
		Driver:      "sqlite",
		Placeholder: func(int) string { return "?" },
		AutoPK:      "id INTEGER PRIMARY KEY AUTOINCREMENT",
		Fold:        func(expr string) string { return "lower(" + expr + ")" },
	},
	types.BackendPostgres: {
		Name:        types.BackendPostgres,
		Driver:      "postgres",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		AutoPK:      "id BIGSERIAL PRIMARY KEY",
		Fold:        func(expr string) string { return "lower(" + expr + ")" },
	},
}

// DialectFor returns the dialect registered for the backend name.
// Returns types.ErrBackendUnknown for unregistered names.
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, fmt.Errorf("%w: %q", types.ErrBackendUnknown, name)
	}
	return d, nil
}

// sqlBuilder accumulates a SQL statement and its bind arguments, rendering
// placeholders in the dialect's style.
type sqlBuilder struct {
	d    Dialect
	b    strings.Builder
	args []any
}

func newSQLBuilder(d Dialect) *sqlBuilder {
	return &sqlBuilder{d: d}
}

// write appends literal SQL text.
func (s *sqlBuilder) write(text string) {
	s.b.WriteString(text)
}

// bind records a bind argument and appends its placeholder.
func (s *sqlBuilder) bind(v any) {
	s.args = append(s.args, v)
	s.b.WriteString(s.d.Placeholder(len(s.args)))
}

// bindFolded binds an argument wrapped in the dialect's case fold.
func (s *sqlBuilder) bindFolded(v any) {
	s.args = append(s.args, v)
	s.b.WriteString(s.d.Fold(s.d.Placeholder(len(s.args))))
}

// done returns the assembled statement and arguments.
func (s *sqlBuilder) done() (string, []any) {
	return s.b.String(), s.args
}
