package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventStore defines the interface for the append-only audit log.
type EventStore interface {
	// Append writes one event row.
	Append(ctx context.Context, ev *SyncEvent) error
	// AppendTx is Append inside a caller-owned transaction.
	AppendTx(ctx context.Context, tx *sql.Tx, ev *SyncEvent) error
	// ListByRun returns a run's events in append order.
	ListByRun(ctx context.Context, syncRunID string) ([]SyncEvent, error)
}

// EventRepo provides sync event operations backed by SQLite.
// It implements the EventStore interface.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a new EventRepo.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

const insertEventSQL = `INSERT INTO sync_events
	(sync_run_id, event_type, status, message, created_at)
	VALUES (?, ?, ?, ?, ?)`

func insertEvent(ctx context.Context, ex execer, ev *SyncEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, insertEventSQL,
		ev.SyncRunID, ev.EventType, ev.Status, ev.Message, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append sync event: %w", err)
	}
	return nil
}

// Append writes one event row.
func (r *EventRepo) Append(ctx context.Context, ev *SyncEvent) error {
	return insertEvent(ctx, r.db, ev)
}

// AppendTx is Append inside a caller-owned transaction, used by the batched
// commit so file updates and their audit rows land atomically.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, ev *SyncEvent) error {
	return insertEvent(ctx, tx, ev)
}

// ListByRun returns a run's events in append order.
func (r *EventRepo) ListByRun(ctx context.Context, syncRunID string) ([]SyncEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sync_run_id, event_type, status, message, created_at
		 FROM sync_events WHERE sync_run_id = ? ORDER BY id`,
		syncRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []SyncEvent
	for rows.Next() {
		var ev SyncEvent
		if err := rows.Scan(&ev.ID, &ev.SyncRunID, &ev.EventType, &ev.Status, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
