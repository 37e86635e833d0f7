package paired

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository defines the interface for shard key persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// List retrieves every stored shard key, oldest first.
	List(ctx context.Context) ([]ShardKey, error)

	// Create inserts key, assigning ID and CreatedAt when empty.
	// Returns ErrShardKeyExists if the device identity is already stored.
	Create(ctx context.Context, key *ShardKey) error

	// Delete removes a shard key by ID.
	// Returns ErrShardKeyNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using the shard_keys table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves every stored shard key.
func (r *SQLiteRepository) List(ctx context.Context) ([]ShardKey, error) {
	query := `
		SELECT id, distribution_id, global_id, device_name, platform,
			shard, threshold, parties, created_at
		FROM shard_keys
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying shard keys: %w", err)
	}
	defer rows.Close()

	var keys []ShardKey
	for rows.Next() {
		key, err := scanShardKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning shard key: %w", err)
		}
		keys = append(keys, *key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shard keys: %w", err)
	}

	return keys, nil
}

// Create inserts a new shard key.
func (r *SQLiteRepository) Create(ctx context.Context, key *ShardKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO shard_keys (
			id, distribution_id, global_id, device_name, platform,
			shard, threshold, parties, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		key.ID,
		key.DistributionID,
		key.Device.GlobalID,
		key.Device.Name,
		key.Device.Platform,
		key.Shard,
		key.Threshold,
		key.Parties,
		key.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrShardKeyExists
		}
		return fmt.Errorf("inserting shard key: %w", err)
	}

	return nil
}

// Delete removes a shard key by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM shard_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting shard key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrShardKeyNotFound
	}

	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanShardKey(scanner rowScanner) (*ShardKey, error) {
	var k ShardKey
	var createdAt string

	err := scanner.Scan(
		&k.ID,
		&k.DistributionID,
		&k.Device.GlobalID,
		&k.Device.Name,
		&k.Device.Platform,
		&k.Shard,
		&k.Threshold,
		&k.Parties,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	k.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}

	return &k, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
