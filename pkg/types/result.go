package types

import "github.com/google/uuid"

// NoOffset marks an absent next/previous page offset.
const NoOffset = -1

// ValueRow is one row of a distinct-value browse: the display value, its
// authority key (empty when none), and the number of items mapped to it
// (zero unless frequencies were requested).
type ValueRow struct {
	Value     string
	Authority string
	Frequency int64
}

// BrowseResultPage is the assembled answer to one browse request. Exactly
// one of Items or Values is populated, depending on the browse level.
// Never mutated after construction except to mark a cache hit.
type BrowseResultPage struct {
	// Items holds the page of item references for item-level browses.
	Items []uuid.UUID
	// Values holds the page of distinct values for value-level browses.
	Values []ValueRow

	// Total is the number of results in the whole index for this scope,
	// ignoring paging and focus.
	Total int
	// Position is the zero-based overall position of the first returned
	// row within the full result set.
	Position int
	// NextOffset is the offset of the next page, or NoOffset when this is
	// the last page.
	NextOffset int
	// PrevOffset is the offset of the previous page, or NoOffset when
	// this is the first page.
	PrevOffset int

	// Echo of the request for caller convenience.
	Index     string
	SortBy    int
	Ascending bool
	Container *Container

	// Cached is set when the page was served from the result cache.
	Cached bool
}

// HasNext reports whether a following page exists.
func (p *BrowseResultPage) HasNext() bool { return p.NextOffset != NoOffset }

// HasPrev reports whether a preceding page exists.
func (p *BrowseResultPage) HasPrev() bool { return p.PrevOffset != NoOffset }
