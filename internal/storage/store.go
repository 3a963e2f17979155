package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Totals() TotalsStore
	Checkpoints() CheckpointStore
	Events() EventLog
}

// SessionStore manages session documents and the set of known lineage ids.
// The sub-path mutators (SetEnd, AppendInterval, ...) assume the single-writer
// model: exactly one consumer mutates a given document at a time.
type SessionStore interface {
	// Register adds a lineage id to the known set. Idempotent.
	Register(ctx context.Context, id string) error
	// Known returns all registered lineage ids, in no particular order.
	Known(ctx context.Context) ([]string, error)

	Get(ctx context.Context, id string) (*Session, error)
	// GetMany loads the documents for the given ids, silently skipping ids
	// that have no document.
	GetMany(ctx context.Context, ids []string) ([]Session, error)
	Put(ctx context.Context, session Session) error

	SetEnd(ctx context.Context, id string, end float64) error
	SetDuration(ctx context.Context, id string, seconds int64) error
	AppendInterval(ctx context.Context, id string, interval AppInterval) error
	// CloseInterval sets end and duration on the interval at idx, in place.
	CloseInterval(ctx context.Context, id string, idx int, end float64) error
	SetIntervalDuration(ctx context.Context, id string, idx int, seconds int64) error
}

// TotalsStore manages the per-day aggregate counters. Totals are fully
// rebuilt each cycle: Reset clears every key, the Add methods re-accumulate.
type TotalsStore interface {
	Reset(ctx context.Context) error
	AddClassification(ctx context.Context, label string, seconds int64) error
	AddApp(ctx context.Context, name string, seconds int64) error
	ByClassification(ctx context.Context) (map[string]int64, error)
	ByApp(ctx context.Context) (map[string]int64, error)
	// Today returns both rebuilt totals for the current day in one read.
	Today(ctx context.Context) (*DayTotals, error)
}

// CheckpointStore tracks the consumption cursor and the last written lineage.
type CheckpointStore interface {
	// Get returns the current checkpoint, or one positioned at the log
	// origin when none has been written yet.
	Get(ctx context.Context) (*Checkpoint, error)
	// Advance acknowledges the entry at cursor. A non-empty lineage also
	// updates LastLineage; events that touched no document pass "".
	Advance(ctx context.Context, cursor, lineage string) error
}

// EventLog is the append-only ordered log of activity events.
type EventLog interface {
	// Append adds an event to the log and returns its assigned entry id.
	Append(ctx context.Context, event ActivityEvent) (string, error)
	// ReadAfter returns up to count entries strictly after cursor, in log
	// order. An empty result means the log has no new entries.
	ReadAfter(ctx context.Context, cursor string, count int64) ([]LogEntry, error)
}
