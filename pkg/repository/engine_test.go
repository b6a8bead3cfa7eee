package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ammar0144/rel4go/pkg/graph"
	"github.com/ammar0144/rel4go/pkg/memstore"
	"github.com/ammar0144/rel4go/pkg/schema"
	"github.com/ammar0144/rel4go/pkg/storage"
)

// testClock is a manually advanced clock injected into every fixture engine
// so timestamp assertions are exact
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	graph    *graph.Graph
	store    *memstore.Store
	clock    *testClock
	users    *Engine
	posts    *Engine
	tags     *Engine
	comments *Engine
	profiles *Engine
}

// newFixture wires the blog-shaped catalog used across the engine tests:
// User owns posts (cascading) and a profile, Post belongs to a user, owns
// comments, and links tags through the post_tags junction.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog, err := schema.NewCatalog(
		&schema.EntityType{
			Name: "User",
			Fields: []schema.Field{
				{Name: "username", Type: schema.TypeString},
				{Name: "email", Type: schema.TypeString},
				{Name: "age", Type: schema.TypeInt, Nullable: true},
			},
			Relationships: []schema.RelationshipDescriptor{
				{Name: "posts", Target: "Post", Direction: schema.TowardMany, Inverse: "user", CascadeDelete: true},
				{Name: "profile", Target: "Profile", Direction: schema.TowardOne, OwnerSingle: true, CascadeDelete: true},
			},
		},
		&schema.EntityType{
			Name: "Post",
			Fields: []schema.Field{
				{Name: "title", Type: schema.TypeString},
				{Name: "body", Type: schema.TypeString, Nullable: true},
			},
			Relationships: []schema.RelationshipDescriptor{
				{Name: "user", Target: "User", Direction: schema.TowardOne, Inverse: "posts"},
				{Name: "comments", Target: "Comment", Direction: schema.TowardMany, CascadeDelete: true},
				{Name: "tags", Target: "Tag", Direction: schema.TowardMany, Junction: "post_tags"},
			},
		},
		&schema.EntityType{
			Name:   "Comment",
			Fields: []schema.Field{{Name: "body", Type: schema.TypeString}},
		},
		&schema.EntityType{
			Name:   "Tag",
			Fields: []schema.Field{{Name: "name", Type: schema.TypeString}},
		},
		&schema.EntityType{
			Name:   "Profile",
			Fields: []schema.Field{{Name: "bio", Type: schema.TypeString}},
		},
	)
	if err != nil {
		t.Fatalf("catalog build failed: %v", err)
	}

	g := graph.NewGraph(graph.Options{}, nil)
	if err := g.Initialize(catalog); err != nil {
		t.Fatalf("graph initialization failed: %v", err)
	}

	f := &fixture{
		graph: g,
		store: memstore.New(catalog),
		clock: &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.users = f.newEngine(t, "User", Options{})
	f.posts = f.newEngine(t, "Post", Options{})
	f.tags = f.newEngine(t, "Tag", Options{})
	f.comments = f.newEngine(t, "Comment", Options{})
	f.profiles = f.newEngine(t, "Profile", Options{})
	return f
}

func (f *fixture) newEngine(t *testing.T, entity string, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(f.graph, entity, opts, nil)
	if err != nil {
		t.Fatalf("NewEngine(%s) failed: %v", entity, err)
	}
	e.now = f.clock.Now
	return e
}

func (f *fixture) begin(t *testing.T) storage.Tx {
	t.Helper()
	tx, err := f.store.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return tx
}

func TestNewEngine(t *testing.T) {
	f := newFixture(t)

	if _, err := NewEngine(nil, "User", Options{}, nil); err == nil {
		t.Errorf("NewEngine accepted a nil graph")
	}
	if _, err := NewEngine(f.graph, "Nope", Options{}, nil); err == nil {
		t.Errorf("NewEngine accepted an unregistered entity")
	}

	unbuilt := graph.NewGraph(graph.Options{}, nil)
	if _, err := NewEngine(unbuilt, "User", Options{}, nil); !errors.Is(err, ErrGraphNotInitialized) {
		t.Errorf("error = %v, want ErrGraphNotInitialized", err)
	}
}

func TestCreateAndGetByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.begin(t)
	defer sess.Rollback()

	created, err := f.users.Create(ctx, sess, map[string]interface{}{
		"username": "alice",
		"email":    "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created["id"] != int64(1) {
		t.Errorf("assigned id = %v", created["id"])
	}
	if created["username"] != "alice" {
		t.Errorf("username = %v", created["username"])
	}
	createdAt, ok := created.Time(storage.ColumnCreatedAt)
	if !ok || !createdAt.Equal(f.clock.now) {
		t.Errorf("created_at = %v, want clock time", created[storage.ColumnCreatedAt])
	}
	if created.IsDeleted() {
		t.Errorf("fresh record reads as deleted")
	}

	got, err := f.users.GetByID(ctx, sess, created["id"], false)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got["username"] != "alice" {
		t.Errorf("round-trip username = %v", got["username"])
	}

	_, err = f.users.GetByID(ctx, sess, int64(999), false)
	if !IsNotFound(err) {
		t.Errorf("missing record error = %v, want NotFoundError", err)
	}
}

func TestCreateDropsUnknownAndServerFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.begin(t)
	defer sess.Rollback()

	created, err := f.users.Create(ctx, sess, map[string]interface{}{
		"username":   "alice",
		"ghost":      "nope",
		"created_at": "1999-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, ok := created["ghost"]; ok {
		t.Errorf("unknown field persisted")
	}
	createdAt, _ := created.Time(storage.ColumnCreatedAt)
	if createdAt.Year() == 1999 {
		t.Errorf("client overrode the server-assigned created_at")
	}
}

func TestCreateNestedHandling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := map[string]interface{}{
		"username": "alice",
		"posts": []interface{}{
			map[string]interface{}{"title": "dropped"},
		},
	}

	t.Run("permissive default drops nested data", func(t *testing.T) {
		sess := f.begin(t)
		defer sess.Rollback()

		created, err := f.users.Create(ctx, sess, payload)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if created["username"] != "alice" {
			t.Errorf("main fields not persisted: %v", created)
		}
		n, _ := f.posts.Count(ctx, sess, nil, false)
		if n != 0 {
			t.Errorf("nested post was persisted by plain Create")
		}
	})

	t.Run("strict mode rejects nested data", func(t *testing.T) {
		strict := f.newEngine(t, "User", Options{StrictCreate: true})
		sess := f.begin(t)
		defer sess.Rollback()

		_, err := strict.Create(ctx, sess, payload)
		if !IsInvalidRelationshipPayload(err) {
			t.Errorf("error = %v, want InvalidRelationshipPayloadError", err)
		}
	})
}

func TestListFilterSortPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.begin(t)
	defer sess.Rollback()

	seed := []map[string]interface{}{
		{"username": "carol", "email": "c@example.com", "age": 35},
		{"username": "alice", "email": "a@example.com", "age": 30},
		{"username": "bob", "email": "b@example.com", "age": 30},
	}
	for _, u := range seed {
		if _, err := f.users.Create(ctx, sess, u); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	t.Run("exact filter", func(t *testing.T) {
		rows, err := f.users.List(ctx, sess, ListParams{Filters: map[string]interface{}{"age": 30}})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("filtered rows = %d, want 2", len(rows))
		}
	})

	t.Run("unknown filter field is ignored", func(t *testing.T) {
		rows, err := f.users.List(ctx, sess, ListParams{Filters: map[string]interface{}{"ghost": 1}})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 3 {
			t.Errorf("rows = %d, want all 3", len(rows))
		}
	})

	t.Run("null filter matches null column", func(t *testing.T) {
		if _, err := f.users.Create(ctx, sess, map[string]interface{}{"username": "dave", "age": nil}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		rows, err := f.users.List(ctx, sess, ListParams{Filters: map[string]interface{}{"age": nil}})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 1 || rows[0]["username"] != "dave" {
			t.Errorf("rows = %v, want only dave", rows)
		}
	})

	t.Run("descending sort with prefix", func(t *testing.T) {
		rows, err := f.users.List(ctx, sess, ListParams{OrderBy: []string{"-age", "username"}})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if rows[0]["username"] != "carol" {
			t.Errorf("first row = %v, want carol", rows[0]["username"])
		}
	})

	t.Run("unknown sort field errors", func(t *testing.T) {
		if _, err := f.users.List(ctx, sess, ListParams{OrderBy: []string{"ghost"}}); err == nil {
			t.Errorf("unknown sort field accepted")
		}
		if _, err := f.users.List(ctx, sess, ListParams{OrderBy: []string{"-"}}); err == nil {
			t.Errorf("bare descending prefix accepted")
		}
	})

	t.Run("pagination", func(t *testing.T) {
		rows, err := f.users.List(ctx, sess, ListParams{OrderBy: []string{"username"}, Offset: 1, Limit: 2})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 2 || rows[0]["username"] != "bob" {
			t.Errorf("page = %v", rows)
		}
	})

	t.Run("count ignores paging", func(t *testing.T) {
		n, err := f.users.Count(ctx, sess, nil, false)
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 4 {
			t.Errorf("count = %d, want 4", n)
		}
	})
}

func TestSoftDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.begin(t)
	defer sess.Rollback()

	created, err := f.users.Create(ctx, sess, map[string]interface{}{"username": "alice"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id := created["id"]

	if err := f.users.SoftDelete(ctx, sess, id); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	if _, err := f.users.GetByID(ctx, sess, id, false); !IsNotFound(err) {
		t.Errorf("soft-deleted record visible to active read: %v", err)
	}

	trashed, err := f.users.GetByID(ctx, sess, id, true)
	if err != nil {
		t.Fatalf("GetByID includeDeleted failed: %v", err)
	}
	if !trashed.IsDeleted() {
		t.Errorf("record missing deleted_at marker: %v", trashed)
	}

	deleted, err := f.users.ListDeleted(ctx, sess, ListParams{})
	if err != nil {
		t.Fatalf("ListDeleted failed: %v", err)
	}
	if len(deleted) != 1 {
		t.Errorf("ListDeleted rows = %d, want 1", len(deleted))
	}

	restored, err := f.users.Restore(ctx, sess, id)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.IsDeleted() {
		t.Errorf("restored record still marked deleted")
	}
	if _, err := f.users.GetByID(ctx, sess, id, false); err != nil {
		t.Errorf("restored record not visible: %v", err)
	}

	if err := f.users.SoftDelete(ctx, sess, int64(999)); !IsNotFound(err) {
		t.Errorf("SoftDelete on missing id = %v, want NotFoundError", err)
	}
	if _, err := f.users.Restore(ctx, sess, int64(999)); !IsNotFound(err) {
		t.Errorf("Restore on missing id = %v, want NotFoundError", err)
	}
}

func TestUpdateWithOptimisticLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := func(t *testing.T) (storage.Tx, storage.Record) {
		t.Helper()
		sess := f.begin(t)
		created, err := f.users.Create(ctx, sess, map[string]interface{}{"username": "alice", "age": 30})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return sess, created
	}

	t.Run("matching lock updates", func(t *testing.T) {
		sess, created := setup(t)
		defer sess.Rollback()
		f.clock.Advance(5 * time.Second)

		updated, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 31}, created[storage.ColumnUpdatedAt])
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if updated["age"] != 31 {
			t.Errorf("age = %v, want 31", updated["age"])
		}
		newStamp, _ := updated.Time(storage.ColumnUpdatedAt)
		oldStamp, _ := created.Time(storage.ColumnUpdatedAt)
		if !newStamp.After(oldStamp) {
			t.Errorf("updated_at not bumped: %s -> %s", oldStamp, newStamp)
		}
	})

	t.Run("stale lock conflicts", func(t *testing.T) {
		sess, created := setup(t)
		defer sess.Rollback()
		stale := created[storage.ColumnUpdatedAt]

		f.clock.Advance(5 * time.Second)
		if _, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 31}, stale); err != nil {
			t.Fatalf("first update failed: %v", err)
		}

		_, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 32}, stale)
		if !IsConflict(err) {
			t.Fatalf("stale update error = %v, want conflict", err)
		}
	})

	t.Run("truncated timestamp within tolerance", func(t *testing.T) {
		f.clock.now = time.Date(2024, 5, 1, 10, 0, 0, 400_000_000, time.UTC)
		sess, created := setup(t)
		defer sess.Rollback()

		// a client echoing the timestamp through a second-resolution.
		// serializer loses the fractional part
		truncated := created[storage.ColumnUpdatedAt].(time.Time).Truncate(time.Second).Format("2006-01-02T15:04:05")
		f.clock.Advance(5 * time.Second)

		updated, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 31}, truncated)
		if err != nil {
			t.Fatalf("tolerant update failed: %v", err)
		}
		if updated["age"] != 31 {
			t.Errorf("age = %v, want 31", updated["age"])
		}
	})

	t.Run("no expected value skips the condition", func(t *testing.T) {
		sess, created := setup(t)
		defer sess.Rollback()
		f.clock.Advance(5 * time.Second)

		updated, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 40}, nil)
		if err != nil {
			t.Fatalf("unconditional update failed: %v", err)
		}
		if updated["age"] != 40 {
			t.Errorf("age = %v, want 40", updated["age"])
		}
	})

	t.Run("missing record reads as not found, not conflict", func(t *testing.T) {
		sess := f.begin(t)
		defer sess.Rollback()

		_, err := f.users.UpdateWithOptimisticLock(ctx, sess, int64(999),
			map[string]interface{}{"age": 1}, f.clock.Now())
		if !IsNotFound(err) {
			t.Errorf("error = %v, want NotFoundError", err)
		}
	})

	t.Run("soft-deleted record reads as not found", func(t *testing.T) {
		sess, created := setup(t)
		defer sess.Rollback()
		if err := f.users.SoftDelete(ctx, sess, created["id"]); err != nil {
			t.Fatalf("SoftDelete failed: %v", err)
		}

		_, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 1}, created[storage.ColumnUpdatedAt])
		if !IsNotFound(err) {
			t.Errorf("error = %v, want NotFoundError", err)
		}
	})

	t.Run("unparseable expected value", func(t *testing.T) {
		sess, created := setup(t)
		defer sess.Rollback()

		_, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 1}, "not a timestamp")
		if !IsInvalidTimestamp(err) {
			t.Errorf("error = %v, want InvalidTimestampFormatError", err)
		}
	})

	t.Run("payload updated_at is stripped", func(t *testing.T) {
		sess, created := setup(t)
		defer sess.Rollback()
		f.clock.Advance(5 * time.Second)

		updated, err := f.users.UpdateWithOptimisticLock(ctx, sess, created["id"],
			map[string]interface{}{"age": 31, "updated_at": "1999-01-01T00:00:00Z"},
			created[storage.ColumnUpdatedAt])
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		stamp, _ := updated.Time(storage.ColumnUpdatedAt)
		if stamp.Year() == 1999 {
			t.Errorf("client overrode the server-assigned updated_at")
		}
	})
}
