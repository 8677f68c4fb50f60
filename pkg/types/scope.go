package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Scope errors.
var (
	// ErrInvalidScope marks a scope that requests an operation not valid
	// for the target index's display type. Rejected before any query runs.
	ErrInvalidScope = errors.New("invalid browse scope")
	// ErrNoSuchFocus marks a focus item id that does not exist in the
	// index being browsed.
	ErrNoSuchFocus = errors.New("focus item not in index")
)

// ContainerKind distinguishes community from collection scoping.
type ContainerKind string

const (
	ContainerCommunity  ContainerKind = "community"
	ContainerCollection ContainerKind = "collection"
)

// Container constrains a browse to one community or collection.
type Container struct {
	Kind ContainerKind
	ID   uuid.UUID
}

// BrowseScope describes one browse request: target index, container
// constraint, sort, paging, and optional focus/filter. Constructed by the
// caller, immutable once passed to the engine.
type BrowseScope struct {
	// Index names the browse index definition to query.
	Index string

	// Container optionally restricts results to a community or collection.
	Container *Container

	// SortBy selects a numeric sort option for item browses. Zero uses the
	// index default.
	SortBy int
	// Ascending gives the sort direction.
	Ascending bool

	// Limit is the page size. Zero or negative means no limit.
	Limit int
	// Offset is the caller-supplied page offset, used only when no focus
	// is present.
	Offset int

	// FocusItem jumps to the page containing the given item.
	FocusItem uuid.UUID
	// FocusValue jumps to the page starting at the given literal value.
	FocusValue string
	// FocusLang is the language tag used to normalize FocusValue.
	FocusLang string
	// StartsWith jumps to the first value with the given prefix.
	StartsWith string

	// FilterValue restricts a second-level item browse to one distinct
	// value (e.g. items by one author).
	FilterValue string
	// FilterLang is the language tag used to normalize FilterValue.
	FilterLang string
	// FilterAuthority restricts the filter to one authority key instead of
	// a literal value.
	FilterAuthority string
	// FilterPartial switches the value filter from equality to substring
	// match.
	FilterPartial bool
	// SecondLevel marks an item browse drilled into a single value of a
	// metadata index.
	SecondLevel bool

	// Frequencies requests per-value item counts on value browses.
	Frequencies bool
}

// HasFocusItem reports whether the scope focuses on a specific item.
func (s BrowseScope) HasFocusItem() bool { return s.FocusItem != uuid.Nil }

// HasFocusValue reports whether the scope focuses on a literal value.
func (s BrowseScope) HasFocusValue() bool { return s.FocusValue != "" }

// HasStartsWith reports whether the scope focuses on a value prefix.
func (s BrowseScope) HasStartsWith() bool { return s.StartsWith != "" }

// HasFocus reports whether any focus is present. Focus always wins over the
// caller-supplied Offset.
func (s BrowseScope) HasFocus() bool {
	return s.HasFocusItem() || s.HasFocusValue() || s.HasStartsWith()
}

// HasFilter reports whether a value or authority filter is present.
func (s BrowseScope) HasFilter() bool {
	return s.FilterValue != "" || s.FilterAuthority != ""
}

// InCommunity reports whether the scope is constrained to a community.
func (s BrowseScope) InCommunity() bool {
	return s.Container != nil && s.Container.Kind == ContainerCommunity
}

// InCollection reports whether the scope is constrained to a collection.
func (s BrowseScope) InCollection() bool {
	return s.Container != nil && s.Container.Kind == ContainerCollection
}

// Fingerprint returns a normalized cache key for the scope. Two scopes that
// would produce the same page share a fingerprint.
func (s BrowseScope) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ix=%s", s.Index)
	if s.Container != nil {
		fmt.Fprintf(&b, "|ct=%s:%s", s.Container.Kind, s.Container.ID)
	}
	fmt.Fprintf(&b, "|so=%d|asc=%t|lim=%d|off=%d", s.SortBy, s.Ascending, s.Limit, s.Offset)
	if s.HasFocusItem() {
		fmt.Fprintf(&b, "|fi=%s", s.FocusItem)
	}
	if s.HasFocusValue() {
		fmt.Fprintf(&b, "|fv=%s:%s", s.FocusLang, s.FocusValue)
	}
	if s.HasStartsWith() {
		fmt.Fprintf(&b, "|sw=%s", s.StartsWith)
	}
	if s.SecondLevel {
		fmt.Fprintf(&b, "|2l|flt=%s:%s:%s:%t", s.FilterLang, s.FilterValue, s.FilterAuthority, s.FilterPartial)
	}
	if s.Frequencies {
		b.WriteString("|freq")
	}
	return b.String()
}
