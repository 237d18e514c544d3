// Package completion records which items have been archived. The existence of
// a Record for an ID is the only source of truth for whether that item has
// already been processed.
//
// Recording is a two-phase contract. AlreadyCompleted is a cheap, non-authoritative
// read used to skip obvious duplicates; it does not guarantee anything. RecordCompletion
// is a conditional insert which is arbitrated by the backing store itself, and is the
// real idempotency boundary: when two workers race on the same ID exactly one insert
// succeeds and the other receives ErrAlreadyRecorded.
package completion

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyRecorded is returned by RecordCompletion when a record for
// the ID already exists. Callers should treat this as success.
var ErrAlreadyRecorded = errors.New("completion already recorded")

type (
	Record struct {
		ID               string    `db:"id"`
		Title            string    `db:"title"`
		StorageLocation  string    `db:"storage_location"`
		StorageContainer string    `db:"storage_container"`
		CompletedAt      time.Time `db:"completed_at"`
	}

	Store interface {
		AlreadyCompleted(ctx context.Context, id string) (bool, error)
		RecordCompletion(ctx context.Context, record Record) error
	}
)
