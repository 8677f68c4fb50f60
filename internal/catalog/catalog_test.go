package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/openshelf/browsedex/pkg/types"
)

var (
	itemA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	itemB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	collX = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	commY = uuid.MustParse("44444444-4444-4444-4444-444444444444")
	commZ = uuid.MustParse("55555555-5555-5555-5555-555555555555")
)

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	lineA := fmt.Sprintf(`{"item_id":%q,"archived":true,"discoverable":true,"collections":[%q],"metadata":[`+
		`{"field":"dc.title","value":"The First Item","language":"en"},`+
		`{"field":"dc.contributor.author","value":"Smith, John","authority":"auth-1","confidence":600},`+
		`{"field":"dc.contributor.editor","value":"Jones, Ann"}]}`, itemA, collX)
	lineB := fmt.Sprintf(`{"item_id":%q,"withdrawn":true,"metadata":[{"field":"dc.title","value":"Gone"}]}`, itemB)
	items := lineA + "\n" + "not json\n" + lineB + "\n"
	if err := os.WriteFile(filepath.Join(dir, "items.jsonl"), []byte(items), 0o644); err != nil {
		t.Fatal(err)
	}

	collections := fmt.Sprintf(`{"collection_id":%q,"community_id":%q}`+"\n", collX, commY)
	if err := os.WriteFile(filepath.Join(dir, "collections.jsonl"), []byte(collections), 0o644); err != nil {
		t.Fatal(err)
	}

	communities := fmt.Sprintf(`{"community_id":%q,"parent_id":%q}`+"\n"+
		`{"community_id":%q}`+"\n", commY, commZ, commZ)
	if err := os.WriteFile(filepath.Join(dir, "communities.jsonl"), []byte(communities), 0o644); err != nil {
		t.Fatal(err)
	}

	authorities := `{"field":"dc.contributor.author","authority":"auth-1","variants":["Smith, J.","J. Smith"]}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "authorities.jsonl"), []byte(authorities), 0o644); err != nil {
		t.Fatal(err)
	}

	return dir
}

func TestOpen_MissingFiles(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	items, err := c.AllItems(context.Background())
	if err != nil || len(items) != 0 {
		t.Errorf("AllItems() = %v, %v", items, err)
	}
}

func TestValues(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()

	field, _ := types.ParseFieldSpec("dc.title")
	values, err := c.Values(ctx, itemA, field)
	if err != nil {
		t.Fatalf("Values failed: %v", err)
	}
	if len(values) != 1 || values[0].Value != "The First Item" || values[0].Language != "en" {
		t.Errorf("Values() = %+v", values)
	}

	// Wildcard qualifier collects author and editor.
	field, _ = types.ParseFieldSpec("dc.contributor.*")
	values, err = c.Values(ctx, itemA, field)
	if err != nil {
		t.Fatalf("Values failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("Values() = %+v", values)
	}
	if values[0].Authority != "auth-1" || values[0].Confidence != 600 {
		t.Errorf("authority not carried: %+v", values[0])
	}

	// Exact qualifier matches only the author.
	field, _ = types.ParseFieldSpec("dc.contributor.author")
	values, _ = c.Values(ctx, itemA, field)
	if len(values) != 1 || values[0].Value != "Smith, John" {
		t.Errorf("Values() = %+v", values)
	}

	// Unknown items yield no values and no error.
	values, err = c.Values(ctx, uuid.New(), field)
	if err != nil || values != nil {
		t.Errorf("Values() = %v, %v", values, err)
	}
}

func TestItemState(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()

	if a, _ := c.IsArchived(ctx, itemA); !a {
		t.Error("itemA should be archived")
	}
	if d, _ := c.IsDiscoverable(ctx, itemA); !d {
		t.Error("itemA should be discoverable")
	}
	if w, _ := c.IsWithdrawn(ctx, itemA); w {
		t.Error("itemA should not be withdrawn")
	}
	if w, _ := c.IsWithdrawn(ctx, itemB); !w {
		t.Error("itemB should be withdrawn")
	}
	if ok, _ := c.Exists(ctx, itemA); !ok {
		t.Error("itemA should exist")
	}
	if ok, _ := c.Exists(ctx, uuid.New()); ok {
		t.Error("random item must not exist")
	}
}

func TestContainment(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()

	colls, err := c.OwningCollections(ctx, itemA)
	if err != nil || len(colls) != 1 || colls[0] != collX {
		t.Errorf("OwningCollections() = %v, %v", colls, err)
	}

	ancestors, err := c.AncestorCommunities(ctx, collX)
	if err != nil {
		t.Fatalf("AncestorCommunities failed: %v", err)
	}
	if len(ancestors) != 2 || ancestors[0] != commY || ancestors[1] != commZ {
		t.Errorf("AncestorCommunities() = %v", ancestors)
	}

	if _, err := c.AncestorCommunities(ctx, uuid.New()); !errors.Is(err, ErrCollectionUnknown) {
		t.Errorf("expected ErrCollectionUnknown, got %v", err)
	}
}

func TestAuthorityVariants(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	field, _ := types.ParseFieldSpec("dc.contributor.author")

	variants, err := c.AuthorityVariants(context.Background(), field, "auth-1")
	if err != nil || len(variants) != 2 {
		t.Errorf("AuthorityVariants() = %v, %v", variants, err)
	}
	variants, _ = c.AuthorityVariants(context.Background(), field, "nope")
	if variants != nil {
		t.Errorf("AuthorityVariants() = %v", variants)
	}
}

func TestAllItems_SkipsMalformed(t *testing.T) {
	c, err := Open(writeCatalog(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	items, err := c.AllItems(context.Background())
	if err != nil {
		t.Fatalf("AllItems failed: %v", err)
	}
	// The malformed line between the two items is skipped.
	if len(items) != 2 || items[0] != itemA || items[1] != itemB {
		t.Errorf("AllItems() = %v", items)
	}
}
