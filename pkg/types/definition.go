package types

import (
	"errors"
	"fmt"
	"strings"
)

// DataType describes how raw metadata values are normalized into sort keys.
type DataType string

const (
	DataTypeText  DataType = "text"
	DataTypeDate  DataType = "date"
	DataTypeTitle DataType = "title"
)

// DisplayType distinguishes single-value (distinct) indexes from full-item
// indexes.
type DisplayType string

const (
	// DisplayMetadata is a distinct-value browse (e.g. all authors).
	DisplayMetadata DisplayType = "metadata"
	// DisplayItem is a full-item browse (e.g. items by date).
	DisplayItem DisplayType = "item"
)

// Definition errors.
var (
	ErrUnknownIndex       = errors.New("unknown browse index")
	ErrUnknownSortOption  = errors.New("unknown sort option")
	ErrInvalidFieldSpec   = errors.New("invalid metadata field spec")
	ErrInvalidDataType    = errors.New("invalid index data type")
	ErrInvalidDisplayType = errors.New("invalid index display type")
)

// FieldSpec identifies a metadata field as schema.element[.qualifier].
// A "*" qualifier matches any qualifier; an empty qualifier matches the
// unqualified field only.
type FieldSpec struct {
	Schema    string
	Element   string
	Qualifier string
}

// ParseFieldSpec parses "schema.element", "schema.element.qualifier" or
// "schema.element.*" into a FieldSpec.
func ParseFieldSpec(s string) (FieldSpec, error) {
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return FieldSpec{}, fmt.Errorf("%w: %q", ErrInvalidFieldSpec, s)
		}
		return FieldSpec{Schema: parts[0], Element: parts[1]}, nil
	case 3:
		if parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return FieldSpec{}, fmt.Errorf("%w: %q", ErrInvalidFieldSpec, s)
		}
		return FieldSpec{Schema: parts[0], Element: parts[1], Qualifier: parts[2]}, nil
	default:
		return FieldSpec{}, fmt.Errorf("%w: %q", ErrInvalidFieldSpec, s)
	}
}

// String renders the spec back to its dotted form.
func (f FieldSpec) String() string {
	if f.Qualifier == "" {
		return f.Schema + "." + f.Element
	}
	return f.Schema + "." + f.Element + "." + f.Qualifier
}

// WildcardQualifier reports whether the spec matches any qualifier.
func (f FieldSpec) WildcardQualifier() bool {
	return f.Qualifier == "*"
}

// SortOption is one configured sort column available to full-item browses.
// Number drives the physical column name (sort_<number>) in the item tables.
type SortOption struct {
	Number int      `mapstructure:"number"`
	Name   string   `mapstructure:"name"`
	Field  string   `mapstructure:"field"`
	Type   DataType `mapstructure:"type"`
}

// Column returns the physical sort column name for this option.
func (so SortOption) Column() string {
	return fmt.Sprintf("sort_%d", so.Number)
}

// ParsedField returns the option's metadata field spec.
func (so SortOption) ParsedField() (FieldSpec, error) {
	return ParseFieldSpec(so.Field)
}

// Validate checks the sort option is well-formed.
func (so SortOption) Validate() error {
	if so.Number <= 0 {
		return fmt.Errorf("sort option %q: number must be positive", so.Name)
	}
	if so.Name == "" {
		return fmt.Errorf("sort option %d: name must not be empty", so.Number)
	}
	if _, err := ParseFieldSpec(so.Field); err != nil {
		return fmt.Errorf("sort option %q: %w", so.Name, err)
	}
	switch so.Type {
	case DataTypeText, DataTypeDate, DataTypeTitle:
		return nil
	default:
		return fmt.Errorf("sort option %q: %w: %q", so.Name, ErrInvalidDataType, so.Type)
	}
}

// BrowseIndexDefinition is the immutable configuration of one browse index.
// Loaded once at startup; referenced by name or number thereafter. Number
// derives the physical table names for metadata (distinct) indexes.
type BrowseIndexDefinition struct {
	Name      string      `mapstructure:"name"`
	Number    int         `mapstructure:"number"`
	Fields    []string    `mapstructure:"fields"`
	Type      DataType    `mapstructure:"type"`
	Display   DisplayType `mapstructure:"display"`
	Ascending bool        `mapstructure:"ascending"`
	// SortOption is the default numeric sort option for item-display
	// indexes. Zero means "the first configured option".
	SortOption int `mapstructure:"sort_option"`
	// Authority marks the index as authority-bearing: values whose
	// authority confidence falls below the configured minimum are skipped,
	// and display variants of accepted authorities are indexed as well.
	Authority bool `mapstructure:"authority"`
}

// IsMetadataIndex reports whether this is a distinct-value browse index.
func (d BrowseIndexDefinition) IsMetadataIndex() bool {
	return d.Display == DisplayMetadata
}

// IsDate reports whether the index sorts date-typed keys.
func (d BrowseIndexDefinition) IsDate() bool {
	return d.Type == DataTypeDate
}

// DistinctTableName returns the dictionary table for a metadata index.
func (d BrowseIndexDefinition) DistinctTableName() string {
	return fmt.Sprintf("bi_%d_dis", d.Number)
}

// MapTableName returns the item-to-distinct mapping table for a metadata
// index.
func (d BrowseIndexDefinition) MapTableName() string {
	return fmt.Sprintf("bi_%d_dmap", d.Number)
}

// ParsedFields returns the parsed metadata field specs feeding the index.
func (d BrowseIndexDefinition) ParsedFields() ([]FieldSpec, error) {
	specs := make([]FieldSpec, 0, len(d.Fields))
	for _, f := range d.Fields {
		fs, err := ParseFieldSpec(f)
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", d.Name, err)
		}
		specs = append(specs, fs)
	}
	return specs, nil
}

// Validate checks the definition is well-formed. Definition problems are
// fatal at load time; the engine must not start on a malformed definition.
func (d BrowseIndexDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("index name must not be empty")
	}
	if d.Number <= 0 {
		return fmt.Errorf("index %q: number must be positive", d.Name)
	}
	switch d.Type {
	case DataTypeText, DataTypeDate, DataTypeTitle:
	default:
		return fmt.Errorf("index %q: %w: %q", d.Name, ErrInvalidDataType, d.Type)
	}
	switch d.Display {
	case DisplayMetadata, DisplayItem:
	default:
		return fmt.Errorf("index %q: %w: %q", d.Name, ErrInvalidDisplayType, d.Display)
	}
	if d.IsMetadataIndex() && len(d.Fields) == 0 {
		return fmt.Errorf("index %q: metadata index needs at least one field", d.Name)
	}
	if _, err := d.ParsedFields(); err != nil {
		return err
	}
	return nil
}

// Physical full-item table names, one per item lifecycle state. Exactly one
// of the three holds a row for a given item at any time.
const (
	ItemTable      = "bi_item"
	WithdrawnTable = "bi_withdrawn"
	PrivateTable   = "bi_private"
)

// Container mapping table names used for scoped browses.
const (
	Collection2ItemTable  = "bi_collection2item"
	Communities2ItemTable = "bi_communities2item"
)
