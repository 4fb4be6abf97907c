package host

import (
	"path/filepath"
	"testing"
)

func openTestAdapter(t *testing.T) *DBAdapter {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	a, err := OpenDBAdapter(dsn)
	if err != nil {
		t.Fatalf("OpenDBAdapter: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestDBAdapterCreateAssignsID(t *testing.T) {
	a := openTestAdapter(t)

	result, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"name": "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Status != 201 {
		t.Errorf("status = %d, want 201", result.Status)
	}
	id, ok := result.Record["id"].(string)
	if !ok || id == "" {
		t.Errorf("expected a generated id, got %v", result.Record["id"])
	}
}

func TestDBAdapterCreateKeepsSuppliedID(t *testing.T) {
	a := openTestAdapter(t)

	result, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"id": "fixed-1", "name": "bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Record["id"] != "fixed-1" {
		t.Errorf("id = %v, want fixed-1", result.Record["id"])
	}
}

func TestDBAdapterFindMatchesPredicate(t *testing.T) {
	a := openTestAdapter(t)

	if _, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"name": "carol", "age": 30}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"name": "dave", "age": 40}); err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := a.Exec(byte(dbOpFind), "users", map[string]any{"name": "carol"}, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if result.Status != 200 {
		t.Fatalf("status = %d, want 200", result.Status)
	}
	if result.Record["name"] != "carol" {
		t.Errorf("record = %v, want name carol", result.Record)
	}
}

func TestDBAdapterFindNotFound(t *testing.T) {
	a := openTestAdapter(t)

	result, err := a.Exec(byte(dbOpFind), "users", map[string]any{"name": "nobody"}, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if result.Status != 404 {
		t.Errorf("status = %d, want 404", result.Status)
	}
}

func TestDBAdapterFindAllReturnsEveryMatch(t *testing.T) {
	a := openTestAdapter(t)

	for _, name := range []string{"erin", "frank", "erin"} {
		if _, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"name": name}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	result, err := a.Exec(byte(dbOpFindAll), "users", map[string]any{"name": "erin"}, nil)
	if err != nil {
		t.Fatalf("findAll: %v", err)
	}
	if len(result.Records) != 2 {
		t.Errorf("got %d records, want 2", len(result.Records))
	}
}

func TestDBAdapterUpdateMergesFields(t *testing.T) {
	a := openTestAdapter(t)

	created, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"name": "gus", "age": 20})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Record["id"]

	result, err := a.Exec(byte(dbOpUpdate), "users", map[string]any{"id": id}, map[string]any{"age": 21})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Status != 200 {
		t.Fatalf("status = %d, want 200", result.Status)
	}
	if result.Record["name"] != "gus" {
		t.Errorf("name = %v, want unchanged gus", result.Record["name"])
	}

	found, err := a.Exec(byte(dbOpFind), "users", map[string]any{"id": id}, nil)
	if err != nil {
		t.Fatalf("find after update: %v", err)
	}
	if toText(found.Record["age"]) != "21" {
		t.Errorf("age after update = %v, want 21", found.Record["age"])
	}
}

func TestDBAdapterUpdateNoMatchIs404(t *testing.T) {
	a := openTestAdapter(t)

	result, err := a.Exec(byte(dbOpUpdate), "users", map[string]any{"id": "missing"}, map[string]any{"age": 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Status != 404 {
		t.Errorf("status = %d, want 404", result.Status)
	}
}

func TestDBAdapterDeleteRemovesMatches(t *testing.T) {
	a := openTestAdapter(t)

	created, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"name": "hank"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Record["id"]

	if _, err := a.Exec(byte(dbOpDelete), "users", map[string]any{"id": id}, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}

	result, err := a.Exec(byte(dbOpFind), "users", map[string]any{"id": id}, nil)
	if err != nil {
		t.Fatalf("find after delete: %v", err)
	}
	if result.Status != 404 {
		t.Errorf("status = %d after delete, want 404", result.Status)
	}
}

func TestDBAdapterSeparateEntitiesDoNotCollide(t *testing.T) {
	a := openTestAdapter(t)

	if _, err := a.Exec(byte(dbOpCreate), "users", nil, map[string]any{"id": "1", "kind": "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := a.Exec(byte(dbOpCreate), "orders", nil, map[string]any{"id": "1", "kind": "order"}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	result, err := a.Exec(byte(dbOpFind), "orders", map[string]any{"id": "1"}, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if result.Record["kind"] != "order" {
		t.Errorf("record = %v, want the orders-table row", result.Record)
	}
}
