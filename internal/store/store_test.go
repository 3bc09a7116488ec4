package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/flashd/internal/session"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if _, ok, err := db.Load(ctx, "missing"); err != nil || ok {
		t.Fatalf("Load(missing) = ok %v, err %v", ok, err)
	}

	if err := db.Save(ctx, "s1", session.Data{"flash": []byte{1, 2, 3}, "user": []byte("alice")}); err != nil {
		t.Fatal(err)
	}
	data, ok, err := db.Load(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("Load(s1) = ok %v, err %v", ok, err)
	}
	if string(data["user"]) != "alice" || len(data["flash"]) != 3 {
		t.Errorf("data = %v", data)
	}

	// Save replaces the whole mapping.
	if err := db.Save(ctx, "s1", session.Data{"user": []byte("bob")}); err != nil {
		t.Fatal(err)
	}
	data, _, _ = db.Load(ctx, "s1")
	if _, ok := data["flash"]; ok {
		t.Error("stale key survived Save")
	}
	if string(data["user"]) != "bob" {
		t.Errorf("user = %q, want bob", data["user"])
	}
}

func TestEmptySessionExists(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if err := db.Save(ctx, "empty", nil); err != nil {
		t.Fatal(err)
	}
	data, ok, err := db.Load(ctx, "empty")
	if err != nil || !ok {
		t.Fatalf("Load(empty) = ok %v, err %v", ok, err)
	}
	if len(data) != 0 {
		t.Errorf("len(data) = %d, want 0", len(data))
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if err := db.Save(ctx, "s1", session.Data{"k": []byte("v")}); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Load(ctx, "s1"); ok {
		t.Error("session survived Delete")
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM session_values`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d orphan values after Delete", n)
	}
	if err := db.Delete(ctx, "s1"); err != nil {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	db.now = func() time.Time { return base }
	_ = db.Save(ctx, "old", session.Data{"k": []byte("v")})
	db.now = func() time.Time { return base.Add(2 * time.Hour) }
	_ = db.Save(ctx, "new", session.Data{})

	n, err := db.Expire(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expire() = %d, want 1", n)
	}
	count, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

// TestConcurrentSavesLastWriteWins checks that concurrent saves of one
// session never interleave values from different writers.
func TestConcurrentSavesLastWriteWins(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := []byte{byte(i)}
			if err := db.Save(ctx, "shared", session.Data{"a": v, "b": v}); err != nil {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	wg.Wait()

	data, ok, err := db.Load(ctx, "shared")
	if err != nil || !ok {
		t.Fatalf("Load = ok %v, err %v", ok, err)
	}
	if len(data) != 2 || data["a"][0] != data["b"][0] {
		t.Errorf("interleaved writes: %v", data)
	}
}
