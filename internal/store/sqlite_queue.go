package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/inspecta/internal/types"
)

// Enqueue inserts a pending write, or replaces the payload of the entry
// already queued under the same (instance_key, item_key, kind). A replaced
// entry keeps its id and created_at (its FIFO slot), gets the new payload,
// bumps its revision, and resets its attempt counter. The idempotency key
// changes only with the payload, so re-queueing the same write retries it
// under its original key.
func (s *SQLiteStore) Enqueue(ctx context.Context, w types.PendingWrite) (*types.PendingWrite, error) {
	if w.InstanceKey == "" {
		return nil, ErrMissingLocalKey
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	var payload sql.NullString
	if len(w.Payload) > 0 {
		payload = sql.NullString{String: string(w.Payload), Valid: true}
	}

	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sync_queue (kind, instance_key, item_key, payload, idempotency_key, revision, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, 1, ?, 0)
		ON CONFLICT(instance_key, item_key, kind) DO UPDATE SET
			payload = excluded.payload,
			idempotency_key = CASE
				WHEN sync_queue.payload IS excluded.payload THEN sync_queue.idempotency_key
				ELSE excluded.idempotency_key
			END,
			revision = sync_queue.revision + 1,
			attempts = 0,
			last_error = NULL
		RETURNING id, idempotency_key, revision, created_at
	`, string(w.Kind), w.InstanceKey, w.ItemKey, payload, w.IdempotencyKey, formatTime(w.CreatedAt)).
		Scan(&w.ID, &w.IdempotencyKey, &w.Revision, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", w.Kind, err)
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		w.CreatedAt = t
	}
	w.Attempts = 0
	w.LastError = ""
	return &w, nil
}

// ListPending returns every queued write in FIFO order by created_at.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]types.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, instance_key, item_key, payload, idempotency_key, revision, created_at, attempts, last_error
		FROM sync_queue
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	entries := make([]types.PendingWrite, 0)
	for rows.Next() {
		var w types.PendingWrite
		var kind, createdAt string
		var payload, lastError sql.NullString

		if err := rows.Scan(&w.ID, &kind, &w.InstanceKey, &w.ItemKey, &payload,
			&w.IdempotencyKey, &w.Revision, &createdAt, &w.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("scan sync queue entry: %w", err)
		}

		w.Kind = types.WriteKind(kind)
		if payload.Valid {
			w.Payload = []byte(payload.String)
		}
		w.LastError = lastError.String
		var parseErr error
		if w.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("sync_queue: failed to parse created_at", "value", createdAt, "error", parseErr)
		}

		entries = append(entries, w)
	}
	return entries, rows.Err()
}

// CountPending counts queued writes for one instance, or all writes when
// instanceKey is empty.
func (s *SQLiteStore) CountPending(ctx context.Context, instanceKey string) (int, error) {
	var n int
	var err error
	if instanceKey == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE instance_key = ?`, instanceKey).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return n, nil
}

// AckPending removes an entry after remote acknowledgement, but only when
// it still holds the acknowledged revision. Returns false when the entry was
// replaced in the meantime (the newer payload stays queued).
func (s *SQLiteStore) AckPending(ctx context.Context, id int64, revision int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ? AND revision = ?`, id, revision)
	if err != nil {
		return false, fmt.Errorf("ack sync queue entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ack sync queue entry: %w", err)
	}
	return n > 0, nil
}

// FailPending records a failed delivery attempt.
func (s *SQLiteStore) FailPending(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, nullString(reason), id)
	if err != nil {
		return fmt.Errorf("record sync failure: %w", err)
	}
	return nil
}

// DiscardPending drops an entry without delivering it.
func (s *SQLiteStore) DiscardPending(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("discard sync queue entry: %w", err)
	}
	return nil
}
