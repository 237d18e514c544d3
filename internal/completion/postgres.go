package completion

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Archivist/internal/database"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgresStore is a Store backed by the 'completions' table. The conditional
// insert relies on the table's primary key, so the uniqueness check happens
// inside of PostgreSQL rather than in this process.
type PostgresStore struct {
	db database.Queryable
}

func NewPostgresStore(db database.Queryable) *PostgresStore {
	return &PostgresStore{db: db}
}

func (store *PostgresStore) AlreadyCompleted(ctx context.Context, id string) (bool, error) {
	query, args, err := psql.
		Select("1").
		Prefix("SELECT EXISTS(").
		From("completions").
		Where(squirrel.Eq{"id": id}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to construct completion lookup query: %w", err)
	}

	var exists bool
	if err := store.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("failed to look up completion for %s: %w", id, err)
	}

	return exists, nil
}

func (store *PostgresStore) RecordCompletion(ctx context.Context, record Record) error {
	query, args, err := psql.
		Insert("completions").
		Columns("id", "title", "storage_location", "storage_container", "completed_at").
		Values(record.ID, record.Title, record.StorageLocation, record.StorageContainer, record.CompletedAt.UTC()).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct record completion query: %w", err)
	}

	result, err := store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record completion for %s: %w", record.ID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm completion for %s: %w", record.ID, err)
	}
	if inserted == 0 {
		log.Debugf("Completion for %s already exists\n", record.ID)
		return ErrAlreadyRecorded
	}

	return nil
}

// Get returns the completion record for the ID provided.
func (store *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query, args, err := psql.Select("*").From("completions").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select completion query: %w", err)
	}

	var record Record
	if err := store.db.GetContext(ctx, &record, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find completion for %s: %w", id, err)
	}

	return &record, nil
}
