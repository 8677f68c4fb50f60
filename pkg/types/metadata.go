package types

import (
	"context"

	"github.com/google/uuid"
)

// Authority confidence levels, highest first. An authority-bearing index
// only records values whose confidence meets the configured minimum.
const (
	ConfidenceAccepted  = 600
	ConfidenceUncertain = 500
	ConfidenceAmbiguous = 400
	ConfidenceNotFound  = 300
	ConfidenceFailed    = 200
	ConfidenceRejected  = 100
	ConfidenceNoValue   = 0
	ConfidenceUnset     = -1
)

// MetadataValue is one metadata field value as served by the primary
// catalog.
type MetadataValue struct {
	Value      string
	Language   string
	Authority  string
	Confidence int
}

// MetadataSource is the read-only view of the primary item catalog that the
// index writer consumes. Implementations are external; the engine never
// writes through this interface.
type MetadataSource interface {
	// Values returns the ordered metadata values of the item for the given
	// field spec. A wildcard qualifier matches all qualifiers of the
	// element. Missing items and missing fields both return an empty
	// slice.
	Values(ctx context.Context, itemID uuid.UUID, field FieldSpec) ([]MetadataValue, error)

	// IsArchived reports whether the item is in the archive.
	IsArchived(ctx context.Context, itemID uuid.UUID) (bool, error)
	// IsWithdrawn reports whether the item has been withdrawn.
	IsWithdrawn(ctx context.Context, itemID uuid.UUID) (bool, error)
	// IsDiscoverable reports whether the item is publicly discoverable.
	IsDiscoverable(ctx context.Context, itemID uuid.UUID) (bool, error)

	// OwningCollections returns the collections the item belongs to.
	OwningCollections(ctx context.Context, itemID uuid.UUID) ([]uuid.UUID, error)
	// AncestorCommunities returns the direct and transitive parent
	// communities of the collection.
	AncestorCommunities(ctx context.Context, collectionID uuid.UUID) ([]uuid.UUID, error)

	// AuthorityVariants returns the configured display variants for an
	// authority key on the given field, or nil when there are none.
	AuthorityVariants(ctx context.Context, field FieldSpec, authority string) ([]string, error)

	// AllItems returns every item id in the catalog, including withdrawn
	// and non-discoverable items. Used by batch reindexing.
	AllItems(ctx context.Context) ([]uuid.UUID, error)
	// Exists reports whether the item is still present in the catalog.
	// Used by the post-batch sweep to drop dangling index rows.
	Exists(ctx context.Context, itemID uuid.UUID) (bool, error)
}
