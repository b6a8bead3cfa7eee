package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ammar0144/rel4go/pkg/graph"
	"github.com/ammar0144/rel4go/pkg/memstore"
	"github.com/ammar0144/rel4go/pkg/query"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// world builds a graph and store around an ad-hoc catalog for the cascade
// shapes the blog fixture does not cover
type world struct {
	graph *graph.Graph
	store *memstore.Store
	clock *testClock
}

func newWorld(t *testing.T, entities ...*schema.EntityType) *world {
	t.Helper()

	catalog, err := schema.NewCatalog(entities...)
	if err != nil {
		t.Fatalf("catalog build failed: %v", err)
	}
	g := graph.NewGraph(graph.Options{}, nil)
	if err := g.Initialize(catalog); err != nil {
		t.Fatalf("graph initialization failed: %v", err)
	}
	return &world{
		graph: g,
		store: memstore.New(catalog),
		clock: &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
}

func (w *world) engine(t *testing.T, entity string) *Engine {
	t.Helper()
	e, err := NewEngine(w.graph, entity, Options{}, nil)
	if err != nil {
		t.Fatalf("NewEngine(%s) failed: %v", entity, err)
	}
	e.now = w.clock.Now
	return e
}

func (w *world) begin(t *testing.T) storage.Tx {
	t.Helper()
	tx, err := w.store.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return tx
}

func tableCount(t *testing.T, sess storage.Session, table string) int {
	t.Helper()
	rows, err := sess.SelectRecords(context.Background(), query.NewBuilder(table).Build())
	if err != nil {
		t.Fatalf("select %s failed: %v", table, err)
	}
	return len(rows)
}

func TestDeleteWithCascadeHard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.begin(t)
	defer sess.Rollback()

	user, err := f.users.CreateWithRelations(ctx, sess, map[string]interface{}{
		"username": "alice",
		"posts": []interface{}{
			map[string]interface{}{
				"title": "intro",
				"comments": []interface{}{
					map[string]interface{}{"body": "first"},
					map[string]interface{}{"body": "second"},
				},
				"tags": []interface{}{
					map[string]interface{}{"name": "go"},
					map[string]interface{}{"name": "databases"},
				},
			},
			map[string]interface{}{"title": "followup"},
		},
		"profile": map[string]interface{}{"bio": "hi"},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := f.users.DeleteWithCascade(ctx, sess, user["id"], true); err != nil {
		t.Fatalf("DeleteWithCascade failed: %v", err)
	}

	for table, want := range map[string]int{
		"users":     0,
		"posts":     0,
		"comments":  0,
		"profiles":  0,
		"post_tags": 0,
		"tags":      2,
	} {
		if got := tableCount(t, sess, table); got != want {
			t.Errorf("%s rows = %d, want %d", table, got, want)
		}
	}
}

func TestDeleteWithCascadeMissing(t *testing.T) {
	f := newFixture(t)
	sess := f.begin(t)
	defer sess.Rollback()

	err := f.users.DeleteWithCascade(context.Background(), sess, int64(42), true)
	if !IsNotFound(err) {
		t.Errorf("error = %v, want NotFoundError", err)
	}
}

func TestDeleteWithCascadeHardKeepsNonCascadingDependents(t *testing.T) {
	w := newWorld(t,
		&schema.EntityType{
			Name:   "Author",
			Fields: []schema.Field{{Name: "name", Type: schema.TypeString}},
			Relationships: []schema.RelationshipDescriptor{
				{Name: "books", Target: "Book", Direction: schema.TowardMany},
			},
		},
		&schema.EntityType{
			Name:   "Book",
			Fields: []schema.Field{{Name: "title", Type: schema.TypeString}},
		},
	)
	authors := w.engine(t, "Author")
	books := w.engine(t, "Book")
	ctx := context.Background()
	sess := w.begin(t)
	defer sess.Rollback()

	author, err := authors.CreateWithRelations(ctx, sess, map[string]interface{}{
		"name": "ann",
		"books": []interface{}{
			map[string]interface{}{"title": "left behind"},
		},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	bookID := author["books"].([]storage.Record)[0]["id"]

	w.clock.Advance(5 * time.Minute)
	if err := authors.DeleteWithCascade(ctx, sess, author["id"], true); err != nil {
		t.Fatalf("DeleteWithCascade failed: %v", err)
	}

	book, err := books.GetByID(ctx, sess, bookID, false)
	if err != nil {
		t.Fatalf("survivor lookup failed: %v", err)
	}
	if book["author_id"] != nil {
		t.Errorf("author_id = %v, want nil after the parent's removal", book["author_id"])
	}
	if got, _ := book.Time(storage.ColumnUpdatedAt); !got.Equal(w.clock.Now()) {
		t.Errorf("updated_at = %v, want %v", got, w.clock.Now())
	}
	if got := tableCount(t, sess, "authors"); got != 0 {
		t.Errorf("authors rows = %d, want 0", got)
	}
}

func TestDeleteWithCascadeSoft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.begin(t)
	defer sess.Rollback()

	user, err := f.users.CreateWithRelations(ctx, sess, map[string]interface{}{
		"username": "alice",
		"posts": []interface{}{
			map[string]interface{}{
				"title": "intro",
				"comments": []interface{}{
					map[string]interface{}{"body": "first"},
				},
				"tags": []interface{}{
					map[string]interface{}{"name": "go"},
				},
			},
		},
		"profile": map[string]interface{}{"bio": "hi"},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := f.users.DeleteWithCascade(ctx, sess, user["id"], false); err != nil {
		t.Fatalf("DeleteWithCascade failed: %v", err)
	}

	t.Run("tree is stamped, not removed", func(t *testing.T) {
		for table, want := range map[string]int{
			"users": 1, "posts": 1, "comments": 1, "profiles": 1, "post_tags": 1,
		} {
			if got := tableCount(t, sess, table); got != want {
				t.Errorf("%s rows = %d, want %d", table, got, want)
			}
		}

		if _, err := f.users.GetByID(ctx, sess, user["id"], false); !IsNotFound(err) {
			t.Errorf("active lookup after soft delete = %v, want NotFoundError", err)
		}
		got, err := f.users.GetByID(ctx, sess, user["id"], true)
		if err != nil || !got.IsDeleted() {
			t.Errorf("deleted lookup = %v, %v", got, err)
		}

		for entity, eng := range map[string]*Engine{"Post": f.posts, "Comment": f.comments, "Profile": f.profiles} {
			rows, err := eng.ListDeleted(ctx, sess, ListParams{})
			if err != nil || len(rows) != 1 {
				t.Errorf("%s soft-deleted rows = %d (%v), want 1", entity, len(rows), err)
			}
		}
	})

	t.Run("junction targets stay active", func(t *testing.T) {
		n, err := f.tags.Count(ctx, sess, nil, false)
		if err != nil || n != 1 {
			t.Errorf("active tags = %d (%v), want 1", n, err)
		}
	})

	t.Run("restore is single record", func(t *testing.T) {
		restored, err := f.users.Restore(ctx, sess, user["id"])
		if err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if restored.IsDeleted() {
			t.Errorf("record still deleted after restore")
		}
		trashed, err := f.posts.ListDeleted(ctx, sess, ListParams{})
		if err != nil || len(trashed) != 1 {
			t.Errorf("posts after parent restore = %d deleted (%v), want 1", len(trashed), err)
		}
	})
}

func TestDeleteWithCascadeSoftHonorsEdgeFlag(t *testing.T) {
	noSoftCascade := false
	w := newWorld(t,
		&schema.EntityType{
			Name:   "Org",
			Fields: []schema.Field{{Name: "name", Type: schema.TypeString}},
			Relationships: []schema.RelationshipDescriptor{
				{Name: "teams", Target: "Team", Direction: schema.TowardMany, CascadeSoftDelete: &noSoftCascade},
			},
		},
		&schema.EntityType{
			Name:   "Team",
			Fields: []schema.Field{{Name: "name", Type: schema.TypeString}},
		},
	)
	orgs := w.engine(t, "Org")
	teams := w.engine(t, "Team")
	ctx := context.Background()
	sess := w.begin(t)
	defer sess.Rollback()

	org, err := orgs.CreateWithRelations(ctx, sess, map[string]interface{}{
		"name": "acme",
		"teams": []interface{}{
			map[string]interface{}{"name": "core"},
		},
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := orgs.DeleteWithCascade(ctx, sess, org["id"], false); err != nil {
		t.Fatalf("DeleteWithCascade failed: %v", err)
	}

	if _, err := orgs.GetByID(ctx, sess, org["id"], false); !IsNotFound(err) {
		t.Errorf("org still active: %v", err)
	}
	n, err := teams.Count(ctx, sess, nil, false)
	if err != nil || n != 1 {
		t.Errorf("active teams = %d (%v), want 1", n, err)
	}
}

func TestDeleteWithCascadeCycle(t *testing.T) {
	w := newWorld(t,
		&schema.EntityType{
			Name:   "Category",
			Table:  "categories",
			Fields: []schema.Field{{Name: "name", Type: schema.TypeString}},
			Relationships: []schema.RelationshipDescriptor{
				{Name: "children", Target: "Category", Direction: schema.TowardMany, CascadeDelete: true},
			},
		},
	)
	categories := w.engine(t, "Category")
	ctx := context.Background()
	sess := w.begin(t)
	defer sess.Rollback()

	c1, err := categories.Create(ctx, sess, map[string]interface{}{"name": "one"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	c2, err := categories.Create(ctx, sess, map[string]interface{}{"name": "two", "category_id": c1["id"]})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// close the loop: each category is the other's parent
	if _, err := sess.UpdateRecords(ctx, "categories",
		[]query.Condition{{Field: "id", Operator: query.Equal, Value: c1["id"]}},
		storage.Record{"category_id": c2["id"]}); err != nil {
		t.Fatalf("cycle setup failed: %v", err)
	}

	if err := categories.DeleteWithCascade(ctx, sess, c1["id"], true); err != nil {
		t.Fatalf("DeleteWithCascade failed: %v", err)
	}
	if got := tableCount(t, sess, "categories"); got != 0 {
		t.Errorf("category rows = %d, want 0", got)
	}
}
