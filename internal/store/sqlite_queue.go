package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/cadence/internal/types"
)

const insertOperationSQL = `
	INSERT INTO sync_queue (id, kind, resource_type, resource_id, payload, retry_count, in_flight, created_at)
	VALUES (?, ?, ?, ?, ?, 0, 0, ?)`

// enqueueTx appends an operation inside the caller's transaction. The ULID id
// doubles as the idempotency key the remote deduplicates on, and its sort
// order is creation order.
func enqueueTx(ctx context.Context, tx *sql.Tx, kind types.OperationKind, resource types.ResourceType, resourceID string, payload json.RawMessage, now time.Time) error {
	id := ulid.Make().String()
	_, err := tx.ExecContext(ctx, insertOperationSQL,
		id, kind, resource, resourceID, nullablePayload(payload), fmtTime(now))
	if err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	return nil
}

const operationSelect = `
	SELECT id, kind, resource_type, resource_id, payload, retry_count, in_flight, created_at, last_attempt_at, last_error
	FROM sync_queue`

// PeekNext returns the oldest operation not currently in flight.
// Operations are drained one at a time in id (creation) order, which also
// yields per-resource FIFO.
func (s *SQLiteStore) PeekNext(ctx context.Context) (*types.Operation, error) {
	row := s.db.QueryRowContext(ctx, operationSelect+`
		WHERE in_flight = 0 ORDER BY id ASC LIMIT 1`)

	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek next operation: %w", err)
	}
	return op, nil
}

// MarkInFlight flags an operation as submitted to the remote. The flag is
// durable; on restart ResetInFlight clears it and the operation is
// redispatched under the same idempotency key.
func (s *SQLiteStore) MarkInFlight(ctx context.Context, id string) error {
	return s.setInFlight(ctx, id, 1)
}

// ClearInFlight removes the in-flight flag after the dispatch outcome has
// been processed.
func (s *SQLiteStore) ClearInFlight(ctx context.Context, id string) error {
	return s.setInFlight(ctx, id, 0)
}

func (s *SQLiteStore) setInFlight(ctx context.Context, id string, flag int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET in_flight = ? WHERE id = ?`, flag, id)
	if err != nil {
		return fmt.Errorf("set in-flight flag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove permanently deletes an operation from the queue.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove operation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry bumps the retry counter and records the attempt outcome.
func (s *SQLiteStore) IncrementRetry(ctx context.Context, id string, attemptAt time.Time, cause string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1, last_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, fmtTime(attemptAt), cause, id)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Depth returns the number of queued operations.
func (s *SQLiteStore) Depth(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return count, nil
}

// ResetInFlight clears every in-flight flag. Returns the number cleared.
func (s *SQLiteStore) ResetInFlight(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET in_flight = 0 WHERE in_flight = 1`)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight: %w", err)
	}
	return result.RowsAffected()
}

// PruneOrphans removes operations whose entity row is gone, e.g. a completion
// op whose habit was hard-deleted after a confirmed remote delete.
func (s *SQLiteStore) PruneOrphans(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE (resource_type = ? AND resource_id NOT IN (SELECT id FROM habits))
		   OR (resource_type = ? AND resource_id NOT IN (SELECT id FROM completions))
	`, types.ResourceHabit, types.ResourceCompletion)
	if err != nil {
		return 0, fmt.Errorf("prune orphans: %w", err)
	}
	return result.RowsAffected()
}

// MarkSynced reconciles a local shadow with server-confirmed state: the
// remote id and server timestamp are merged in and the status becomes
// synced. A confirmed habit delete hard-removes the row, completions
// included. A confirmed create on a soft-deleted habit only merges the
// remote id; the row stays until its own delete operation is confirmed.
func (s *SQLiteStore) MarkSynced(ctx context.Context, kind types.OperationKind, resource types.ResourceType, id, remoteID string, serverUpdatedAt *time.Time) error {
	switch resource {
	case types.ResourceHabit:
		if kind == types.OpDelete {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin transaction: %w", err)
			}
			defer tx.Rollback()
			if _, err := tx.ExecContext(ctx, `DELETE FROM completions WHERE habit_id = ?`, id); err != nil {
				return fmt.Errorf("delete completions: %w", err)
			}
			result, err := tx.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("delete habit: %w", err)
			}
			if n, err := result.RowsAffected(); err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			} else if n == 0 {
				return ErrNotFound
			}
			return tx.Commit()
		}

		q := `UPDATE habits SET sync_status = ?, sync_error = ''`
		args := []any{types.SyncSynced}
		if remoteID != "" {
			q += `, remote_id = ?`
			args = append(args, remoteID)
		}
		if serverUpdatedAt != nil {
			q += `, updated_at = ?`
			args = append(args, fmtTime(serverUpdatedAt.UTC()))
		}
		q += ` WHERE id = ?`
		args = append(args, id)

		result, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("mark habit synced: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil

	case types.ResourceCompletion:
		q := `UPDATE completions SET sync_status = ?, sync_error = ''`
		args := []any{types.SyncSynced}
		if remoteID != "" {
			q += `, remote_id = ?`
			args = append(args, remoteID)
		}
		q += ` WHERE id = ?`
		args = append(args, id)

		result, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("mark completion synced: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil

	default:
		return fmt.Errorf("unknown resource type %q", resource)
	}
}

// MarkSyncError records a permanent sync failure on the entity. The entity
// keeps its local value; resolution is user-initiated via ReEnqueue.
func (s *SQLiteStore) MarkSyncError(ctx context.Context, resource types.ResourceType, id, cause string) error {
	var q string
	switch resource {
	case types.ResourceHabit:
		q = `UPDATE habits SET sync_status = ?, sync_error = ? WHERE id = ?`
	case types.ResourceCompletion:
		q = `UPDATE completions SET sync_status = ?, sync_error = ? WHERE id = ?`
	default:
		return fmt.Errorf("unknown resource type %q", resource)
	}

	result, err := s.db.ExecContext(ctx, q, types.SyncError, cause, id)
	if err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoteID returns the server-assigned id for a local entity, or empty when
// the entity has not been created remotely yet. For completion operations the
// habit's remote id is what the dispatcher needs, so it is resolved through
// the parent habit.
func (s *SQLiteStore) RemoteID(ctx context.Context, resource types.ResourceType, id string) (string, error) {
	var q string
	switch resource {
	case types.ResourceHabit:
		q = `SELECT COALESCE(remote_id, '') FROM habits WHERE id = ?`
	case types.ResourceCompletion:
		q = `SELECT COALESCE(h.remote_id, '')
		     FROM completions c JOIN habits h ON h.id = c.habit_id
		     WHERE c.id = ?`
	default:
		return "", fmt.Errorf("unknown resource type %q", resource)
	}

	var remoteID string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve remote id: %w", err)
	}
	return remoteID, nil
}

func scanOperation(scanner rowScanner) (*types.Operation, error) {
	var op types.Operation
	var payload sql.NullString
	var inFlight int
	var createdAt string
	var lastAttemptAt sql.NullString

	err := scanner.Scan(&op.ID, &op.Kind, &op.ResourceType, &op.ResourceID,
		&payload, &op.RetryCount, &inFlight, &createdAt, &lastAttemptAt, &op.LastError)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		op.Payload = json.RawMessage(payload.String)
	}
	op.InFlight = inFlight != 0
	op.CreatedAt = parseTime(createdAt)
	if lastAttemptAt.Valid {
		t := parseTime(lastAttemptAt.String)
		op.LastAttemptAt = &t
	}
	return &op, nil
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty/null payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
