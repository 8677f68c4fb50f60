// Package catalog provides a JSONL-backed implementation of the metadata
// source the index writer reads from. Items, the container hierarchy, and
// authority variants load from line-delimited JSON files into memory; the
// catalog is read-only afterwards.
package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/openshelf/browsedex/pkg/types"
)

// Catalog file names within the catalog directory.
const (
	itemsFile       = "items.jsonl"
	collectionsFile = "collections.jsonl"
	communitiesFile = "communities.jsonl"
	authoritiesFile = "authorities.jsonl"
)

// ErrCollectionUnknown marks an ancestor lookup for a collection the
// catalog does not contain.
var ErrCollectionUnknown = errors.New("unknown collection")

// metadataRecord is one metadata value line inside an item record.
type metadataRecord struct {
	Field      string `json:"field"`
	Value      string `json:"value"`
	Language   string `json:"language"`
	Authority  string `json:"authority"`
	Confidence int    `json:"confidence"`
}

// itemRecord is one line of items.jsonl.
type itemRecord struct {
	ItemID       string           `json:"item_id"`
	Archived     bool             `json:"archived"`
	Withdrawn    bool             `json:"withdrawn"`
	Discoverable bool             `json:"discoverable"`
	Collections  []string         `json:"collections"`
	Metadata     []metadataRecord `json:"metadata"`
}

// collectionRecord is one line of collections.jsonl: a collection and its
// owning community.
type collectionRecord struct {
	CollectionID string `json:"collection_id"`
	CommunityID  string `json:"community_id"`
}

// communityRecord is one line of communities.jsonl: a community and its
// parent, empty for top-level communities.
type communityRecord struct {
	CommunityID string `json:"community_id"`
	ParentID    string `json:"parent_id"`
}

// authorityRecord is one line of authorities.jsonl: the display variants of
// one authority key on one field.
type authorityRecord struct {
	Field     string   `json:"field"`
	Authority string   `json:"authority"`
	Variants  []string `json:"variants"`
}

type item struct {
	archived     bool
	withdrawn    bool
	discoverable bool
	collections  []uuid.UUID
	metadata     []struct {
		field types.FieldSpec
		value types.MetadataValue
	}
}

// Catalog is the in-memory view of the JSONL files. Immutable after Open;
// safe for concurrent readers.
type Catalog struct {
	items           map[uuid.UUID]*item
	order           []uuid.UUID
	collectionOwner map[uuid.UUID]uuid.UUID
	communityParent map[uuid.UUID]uuid.UUID
	variants        map[string][]string
}

// Compile-time check: the catalog serves the writer's source interface.
var _ types.MetadataSource = (*Catalog)(nil)

// Open loads the catalog files from dir. Missing files are treated as
// empty; malformed lines are skipped.
func Open(dir string) (*Catalog, error) {
	c := &Catalog{
		items:           make(map[uuid.UUID]*item),
		collectionOwner: make(map[uuid.UUID]uuid.UUID),
		communityParent: make(map[uuid.UUID]uuid.UUID),
		variants:        make(map[string][]string),
	}
	if err := c.loadItems(filepath.Join(dir, itemsFile)); err != nil {
		return nil, err
	}
	if err := c.loadCollections(filepath.Join(dir, collectionsFile)); err != nil {
		return nil, err
	}
	if err := c.loadCommunities(filepath.Join(dir, communitiesFile)); err != nil {
		return nil, err
	}
	if err := c.loadAuthorities(filepath.Join(dir, authoritiesFile)); err != nil {
		return nil, err
	}
	return c, nil
}

// Values implements types.MetadataSource.
func (c *Catalog) Values(_ context.Context, itemID uuid.UUID, field types.FieldSpec) ([]types.MetadataValue, error) {
	it, ok := c.items[itemID]
	if !ok {
		return nil, nil
	}
	var values []types.MetadataValue
	for _, m := range it.metadata {
		if fieldMatches(field, m.field) {
			values = append(values, m.value)
		}
	}
	return values, nil
}

// IsArchived implements types.MetadataSource.
func (c *Catalog) IsArchived(_ context.Context, itemID uuid.UUID) (bool, error) {
	it, ok := c.items[itemID]
	return ok && it.archived, nil
}

// IsWithdrawn implements types.MetadataSource.
func (c *Catalog) IsWithdrawn(_ context.Context, itemID uuid.UUID) (bool, error) {
	it, ok := c.items[itemID]
	return ok && it.withdrawn, nil
}

// IsDiscoverable implements types.MetadataSource.
func (c *Catalog) IsDiscoverable(_ context.Context, itemID uuid.UUID) (bool, error) {
	it, ok := c.items[itemID]
	return ok && it.discoverable, nil
}

// OwningCollections implements types.MetadataSource.
func (c *Catalog) OwningCollections(_ context.Context, itemID uuid.UUID) ([]uuid.UUID, error) {
	it, ok := c.items[itemID]
	if !ok {
		return nil, nil
	}
	return it.collections, nil
}

// AncestorCommunities walks from the collection's owning community up the
// community tree and returns every community on the path.
func (c *Catalog) AncestorCommunities(_ context.Context, collectionID uuid.UUID) ([]uuid.UUID, error) {
	owner, ok := c.collectionOwner[collectionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionUnknown, collectionID)
	}
	var ancestors []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for current := owner; current != uuid.Nil && !seen[current]; {
		seen[current] = true
		ancestors = append(ancestors, current)
		current = c.communityParent[current]
	}
	return ancestors, nil
}

// AuthorityVariants implements types.MetadataSource.
func (c *Catalog) AuthorityVariants(_ context.Context, field types.FieldSpec, authority string) ([]string, error) {
	return c.variants[variantKey(field.String(), authority)], nil
}

// AllItems implements types.MetadataSource.
func (c *Catalog) AllItems(_ context.Context) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(c.order))
	copy(out, c.order)
	return out, nil
}

// Exists implements types.MetadataSource.
func (c *Catalog) Exists(_ context.Context, itemID uuid.UUID) (bool, error) {
	_, ok := c.items[itemID]
	return ok, nil
}

// fieldMatches reports whether a stored field satisfies the query spec. A
// wildcard qualifier in the spec matches any qualifier; an empty qualifier
// matches the unqualified field only.
func fieldMatches(spec, field types.FieldSpec) bool {
	if spec.Schema != field.Schema || spec.Element != field.Element {
		return false
	}
	if spec.WildcardQualifier() {
		return true
	}
	return spec.Qualifier == field.Qualifier
}

func variantKey(field, authority string) string {
	return field + "\x00" + authority
}

func (c *Catalog) loadItems(path string) error {
	return eachLine(path, func(line []byte) {
		var rec itemRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return
		}
		id, err := uuid.Parse(rec.ItemID)
		if err != nil {
			return
		}
		it := &item{
			archived:     rec.Archived,
			withdrawn:    rec.Withdrawn,
			discoverable: rec.Discoverable,
		}
		for _, raw := range rec.Collections {
			if coll, err := uuid.Parse(raw); err == nil {
				it.collections = append(it.collections, coll)
			}
		}
		for _, m := range rec.Metadata {
			spec, err := types.ParseFieldSpec(m.Field)
			if err != nil {
				continue
			}
			it.metadata = append(it.metadata, struct {
				field types.FieldSpec
				value types.MetadataValue
			}{spec, types.MetadataValue{
				Value:      m.Value,
				Language:   m.Language,
				Authority:  m.Authority,
				Confidence: m.Confidence,
			}})
		}
		if _, dup := c.items[id]; !dup {
			c.order = append(c.order, id)
		}
		c.items[id] = it
	})
}

func (c *Catalog) loadCollections(path string) error {
	return eachLine(path, func(line []byte) {
		var rec collectionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return
		}
		coll, err := uuid.Parse(rec.CollectionID)
		if err != nil {
			return
		}
		comm, err := uuid.Parse(rec.CommunityID)
		if err != nil {
			return
		}
		c.collectionOwner[coll] = comm
	})
}

func (c *Catalog) loadCommunities(path string) error {
	return eachLine(path, func(line []byte) {
		var rec communityRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return
		}
		comm, err := uuid.Parse(rec.CommunityID)
		if err != nil {
			return
		}
		if rec.ParentID == "" {
			c.communityParent[comm] = uuid.Nil
			return
		}
		parent, err := uuid.Parse(rec.ParentID)
		if err != nil {
			return
		}
		c.communityParent[comm] = parent
	})
}

func (c *Catalog) loadAuthorities(path string) error {
	return eachLine(path, func(line []byte) {
		var rec authorityRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return
		}
		if rec.Field == "" || rec.Authority == "" {
			return
		}
		c.variants[variantKey(rec.Field, rec.Authority)] = rec.Variants
	})
}

// eachLine feeds every non-empty, valid JSON line of the file to fn. A
// missing file is an empty catalog section, not an error.
func eachLine(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	return nil
}
