package paired

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the shard_keys table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	// Create shard_keys table matching the schema
	schema := `
		CREATE TABLE shard_keys (
			id              TEXT PRIMARY KEY,
			distribution_id TEXT NOT NULL,
			global_id       TEXT NOT NULL,
			device_name     TEXT NOT NULL DEFAULT '',
			platform        TEXT NOT NULL DEFAULT '',
			shard           BLOB NOT NULL,
			threshold       INTEGER NOT NULL DEFAULT 0,
			parties         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			UNIQUE (global_id)
		) STRICT;
		CREATE INDEX idx_shard_keys_distribution ON shard_keys(distribution_id);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testShardKey creates a shard key for testing.
func testShardKey(distributionID, globalID string) ShardKey {
	return ShardKey{
		DistributionID: distributionID,
		Device:         DeviceInfo{GlobalID: globalID, Name: globalID + "-name", Platform: "android"},
		Shard:          []byte("share-" + globalID),
		Threshold:      2,
		Parties:        3,
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	key := testShardKey("dist-1", "phone-1")
	if err := repo.Create(ctx, &key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if key.ID == "" {
		t.Error("Create() did not assign an ID")
	}
	if key.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}

	keys, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("List() returned %d keys, want 1", len(keys))
	}

	got := keys[0]
	if got.ID != key.ID {
		t.Errorf("ID = %q, want %q", got.ID, key.ID)
	}
	if got.DistributionID != "dist-1" {
		t.Errorf("DistributionID = %q, want dist-1", got.DistributionID)
	}
	if got.Device != key.Device {
		t.Errorf("Device = %+v, want %+v", got.Device, key.Device)
	}
	if !bytes.Equal(got.Shard, key.Shard) {
		t.Errorf("Shard = %q, want %q", got.Shard, key.Shard)
	}
	if got.Threshold != 2 || got.Parties != 3 {
		t.Errorf("Threshold/Parties = %d/%d, want 2/3", got.Threshold, got.Parties)
	}
	if !got.CreatedAt.Equal(key.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, key.CreatedAt)
	}
}

func TestSQLiteRepository_Create_KeepsGivenID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	key := testShardKey("dist-1", "phone-1")
	key.ID = "fixed-id"
	if err := repo.Create(context.Background(), &key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if key.ID != "fixed-id" {
		t.Errorf("ID = %q, want fixed-id", key.ID)
	}
}

func TestSQLiteRepository_Create_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	first := testShardKey("dist-1", "phone-1")
	if err := repo.Create(ctx, &first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Same device identity in another distribution is still a duplicate.
	second := testShardKey("dist-2", "phone-1")
	err := repo.Create(ctx, &second)
	if !errors.Is(err, ErrShardKeyExists) {
		t.Errorf("Create() duplicate error = %v, want ErrShardKeyExists", err)
	}
}

func TestSQLiteRepository_Create_Invalid(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	tests := []struct {
		name   string
		mutate func(k *ShardKey)
	}{
		{"missing distribution", func(k *ShardKey) { k.DistributionID = "" }},
		{"missing identity", func(k *ShardKey) { k.Device.GlobalID = "" }},
		{"empty shard", func(k *ShardKey) { k.Shard = nil }},
		{"negative threshold", func(k *ShardKey) { k.Threshold = -1 }},
		{"threshold above parties", func(k *ShardKey) { k.Threshold = 4 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := testShardKey("dist-1", "phone-1")
			tt.mutate(&key)
			err := repo.Create(context.Background(), &key)
			if !errors.Is(err, ErrInvalidShardKey) {
				t.Errorf("Create() error = %v, want ErrInvalidShardKey", err)
			}
		})
	}
}

func TestSQLiteRepository_List_Order(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Inserted out of order; the 900ms record must sort after the 100ms one.
	for i, offset := range []time.Duration{900 * time.Millisecond, 100 * time.Millisecond, 2 * time.Second} {
		key := testShardKey("dist-1", []string{"c", "a", "d"}[i])
		key.CreatedAt = base.Add(offset)
		if err := repo.Create(ctx, &key); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	keys, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	var order []string
	for _, k := range keys {
		order = append(order, k.Device.GlobalID)
	}
	want := []string{"a", "c", "d"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("List() order = %v, want %v", order, want)
		}
	}
}

func TestSQLiteRepository_List_Empty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	keys, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List() returned %d keys, want 0", len(keys))
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	key := testShardKey("dist-1", "phone-1")
	if err := repo.Create(ctx, &key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(ctx, key.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	keys, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List() after Delete returned %d keys, want 0", len(keys))
	}

	if err := repo.Delete(ctx, key.ID); !errors.Is(err, ErrShardKeyNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrShardKeyNotFound", err)
	}
}

func TestSQLiteRepository_ClosedDB(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	db.Close()

	if _, err := repo.List(context.Background()); err == nil {
		t.Error("List() on closed db returned nil error")
	}
	key := testShardKey("dist-1", "phone-1")
	if err := repo.Create(context.Background(), &key); err == nil {
		t.Error("Create() on closed db returned nil error")
	}
}
