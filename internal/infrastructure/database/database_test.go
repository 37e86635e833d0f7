package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestOpen verifies the key store is created where config.yaml points.
func TestOpen(t *testing.T) {
	t.Run("creates nested state directory owner-only", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "var", "shardlink", "shardlink.db")

		db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		info, err := os.Stat(filepath.Dir(dbPath))
		if err != nil {
			t.Fatalf("state directory: %v", err)
		}
		if perm := info.Mode().Perm(); perm != dirPermissions {
			t.Errorf("directory mode = %o, want %o", perm, dirPermissions)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("reopens existing key store", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "shardlink.db")

		first, err := Open(context.Background(), Config{Path: dbPath, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if _, err := first.Exec(`CREATE TABLE held (global_id TEXT PRIMARY KEY, shard BLOB)`); err != nil {
			t.Fatal(err)
		}
		if _, err := first.Exec(`INSERT INTO held VALUES ('phone-1', x'0102')`); err != nil {
			t.Fatal(err)
		}
		first.Close() //nolint:errcheck // Test cleanup

		second, err := Open(context.Background(), Config{Path: dbPath, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("reopen error = %v", err)
		}
		defer second.Close() //nolint:errcheck // Test cleanup

		var shard []byte
		if err := second.QueryRow(`SELECT shard FROM held WHERE global_id = 'phone-1'`).Scan(&shard); err != nil {
			t.Fatalf("shard lost across reopen: %v", err)
		}
		if len(shard) != 2 || shard[0] != 1 || shard[1] != 2 {
			t.Errorf("shard = %x", shard)
		}
	})
}

// TestFilePermissions verifies shard material is never world-readable,
// including when an older install left the file with a looser mode.
func TestFilePermissions(t *testing.T) {
	tests := []struct {
		name     string
		existing os.FileMode
	}{
		{"fresh file", 0},
		{"loose existing file", 0o644},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), "shardlink.db")
			if tt.existing != 0 {
				if err := os.WriteFile(dbPath, nil, tt.existing); err != nil {
					t.Fatal(err)
				}
			}

			db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			info, err := os.Stat(dbPath)
			if err != nil {
				t.Fatalf("Stat() error = %v", err)
			}
			if perm := info.Mode().Perm(); perm != filePermissions {
				t.Errorf("file mode = %o, want %o", perm, filePermissions)
			}
		})
	}
}

// TestConnectionPragmas verifies the DSN options from Config reach SQLite.
func TestConnectionPragmas(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantJournal string
		wantBusy    int
	}{
		{"wal", Config{WALMode: true, BusyTimeout: 5}, "wal", 5000},
		{"rollback journal", Config{WALMode: false, BusyTimeout: 2}, "delete", 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Path = filepath.Join(t.TempDir(), "shardlink.db")
			db, err := Open(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			var journal string
			if err := db.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
				t.Fatal(err)
			}
			if !strings.EqualFold(journal, tt.wantJournal) {
				t.Errorf("journal_mode = %q, want %q", journal, tt.wantJournal)
			}

			var busy int
			if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
				t.Fatal(err)
			}
			if busy != tt.wantBusy {
				t.Errorf("busy_timeout = %d, want %d", busy, tt.wantBusy)
			}

			var fk int
			if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
				t.Fatal(err)
			}
			if fk != 1 {
				t.Error("foreign keys not enabled")
			}
		})
	}
}

// TestHealthCheck verifies the check used by the ops API readiness route.
func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close error = nil")
	}
}

// TestClose verifies shutdown tolerates a store that never opened.
func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

// TestOpenCancelledContext verifies startup aborts when shutdown already began.
func TestOpenCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	db, err := Open(ctx, Config{
		Path:        filepath.Join(t.TempDir(), "shardlink.db"),
		BusyTimeout: 5,
	})
	if err == nil {
		db.Close() //nolint:errcheck // Test cleanup
		t.Fatal("Open() with cancelled context error = nil, want error")
	}
}

// TestSingleConnection verifies the pool is pinned to one writer.
func TestSingleConnection(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if n := db.Stats().MaxOpenConnections; n != 1 {
		t.Errorf("MaxOpenConnections = %v, want 1 (SQLite single writer)", n)
	}
}

// openTestDB creates a temporary key store for testing.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "shardlink.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}
