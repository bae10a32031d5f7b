package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/cadence/internal/types"
)

// SQLiteStore is the SQLite-backed local store. It holds the habit and
// completion shadows plus the durable sync queue in one database file, so a
// mutation and its queued operation commit atomically.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	deviceID string
}

// NewSQLiteStore opens (creating if needed) the local database.
// It enables WAL mode, runs migrations, and clears any in-flight flags left
// behind by a crash so stranded operations are redispatched.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}

	if s.deviceID, err = s.ensureDeviceID(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure device id: %w", err)
	}

	if _, err := s.ResetInFlight(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("reset in-flight flags: %w", err)
	}

	return s, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DeviceID returns the stable identifier for this install.
func (s *SQLiteStore) DeviceID() string {
	return s.deviceID
}

// Checkpoint flushes the WAL into the main database file so the file on disk
// is a complete snapshot suitable for backup.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// ensureDeviceID reads or creates the per-install identifier in sync_meta.
func (s *SQLiteStore) ensureDeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = 'device_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES ('device_id', ?)`, id); err != nil {
		return "", err
	}
	return id, nil
}

// CreateHabit inserts a habit shadow and queues its create operation in one
// transaction.
func (s *SQLiteStore) CreateHabit(ctx context.Context, name, cadence, notes string) (*types.Habit, error) {
	now := time.Now().UTC()
	h := &types.Habit{
		ID:         ulid.Make().String(),
		Name:       name,
		Cadence:    cadence,
		Notes:      notes,
		SyncStatus: types.SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	payload, err := json.Marshal(types.CreateHabitPayload{Name: name, Cadence: cadence, Notes: notes})
	if err != nil {
		return nil, fmt.Errorf("marshal create payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO habits (id, name, cadence, notes, archived, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`, h.ID, h.Name, h.Cadence, h.Notes, h.SyncStatus, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert habit: %w", err)
	}

	if err := enqueueTx(ctx, tx, types.OpCreate, types.ResourceHabit, h.ID, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return h, nil
}

// UpdateHabit applies a patch to the local shadow and queues the update.
func (s *SQLiteStore) UpdateHabit(ctx context.Context, id string, patch types.HabitPatch) (*types.Habit, error) {
	if patch.Empty() {
		return nil, ErrEmptyPatch
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	h, err := getHabitTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if patch.Name != nil {
		h.Name = *patch.Name
	}
	if patch.Cadence != nil {
		h.Cadence = *patch.Cadence
	}
	if patch.Notes != nil {
		h.Notes = *patch.Notes
	}
	if patch.Archived != nil {
		h.Archived = *patch.Archived
	}
	h.UpdatedAt = now
	h.SyncStatus = types.SyncPending
	h.SyncError = ""

	_, err = tx.ExecContext(ctx, `
		UPDATE habits
		SET name = ?, cadence = ?, notes = ?, archived = ?, sync_status = ?, sync_error = '', updated_at = ?
		WHERE id = ?
	`, h.Name, h.Cadence, h.Notes, boolInt(h.Archived), h.SyncStatus, fmtTime(now), id)
	if err != nil {
		return nil, fmt.Errorf("update habit: %w", err)
	}

	payload, err := json.Marshal(types.UpdateHabitPayload{Patch: patch, UpdatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("marshal update payload: %w", err)
	}
	if err := enqueueTx(ctx, tx, types.OpUpdate, types.ResourceHabit, id, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return h, nil
}

// DeleteHabit soft-deletes the local shadow and queues the delete. The row is
// removed for good once the sync engine confirms the remote delete.
func (s *SQLiteStore) DeleteHabit(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := getHabitTx(ctx, tx, id); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE habits SET deleted_at = ?, sync_status = ?, sync_error = '', updated_at = ?
		WHERE id = ?
	`, fmtTime(now), types.SyncPending, fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("delete habit: %w", err)
	}

	if err := enqueueTx(ctx, tx, types.OpDelete, types.ResourceHabit, id, nil, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CompleteHabit records a completion for one day and queues it. The domain
// allows at most one completion per habit per day.
func (s *SQLiteStore) CompleteHabit(ctx context.Context, habitID, day string) (*types.Completion, error) {
	if _, err := types.ParseDay(day); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := getHabitTx(ctx, tx, habitID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &types.Completion{
		ID:         ulid.Make().String(),
		HabitID:    habitID,
		Day:        day,
		SyncStatus: types.SyncPending,
		CreatedAt:  now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO completions (id, habit_id, day, sync_status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.HabitID, c.Day, c.SyncStatus, fmtTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyCompleted
		}
		return nil, fmt.Errorf("insert completion: %w", err)
	}

	payload, err := json.Marshal(types.CompleteHabitPayload{HabitID: habitID, Day: day})
	if err != nil {
		return nil, fmt.Errorf("marshal complete payload: %w", err)
	}
	if err := enqueueTx(ctx, tx, types.OpComplete, types.ResourceCompletion, c.ID, payload, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return c, nil
}

// ReEnqueue queues a fresh operation for an entity stuck in sync error state.
// Auto-retry stopped for it; this is the user-initiated restart.
func (s *SQLiteStore) ReEnqueue(ctx context.Context, resource types.ResourceType, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	switch resource {
	case types.ResourceHabit:
		h, err := getHabitTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if h.SyncStatus != types.SyncError {
			return ErrNotInError
		}

		kind := types.OpUpdate
		var payload []byte
		if h.RemoteID == "" {
			// Never made it to the server; replay as a create.
			kind = types.OpCreate
			payload, err = json.Marshal(types.CreateHabitPayload{Name: h.Name, Cadence: h.Cadence, Notes: h.Notes})
		} else {
			payload, err = json.Marshal(types.UpdateHabitPayload{
				Patch: types.HabitPatch{
					Name:     &h.Name,
					Cadence:  &h.Cadence,
					Notes:    &h.Notes,
					Archived: &h.Archived,
				},
				UpdatedAt: now,
			})
		}
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE habits SET sync_status = ?, sync_error = '' WHERE id = ?`,
			types.SyncPending, id); err != nil {
			return fmt.Errorf("reset habit status: %w", err)
		}
		if err := enqueueTx(ctx, tx, kind, types.ResourceHabit, id, payload, now); err != nil {
			return err
		}

	case types.ResourceCompletion:
		c, err := getCompletionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.SyncStatus != types.SyncError {
			return ErrNotInError
		}

		payload, err := json.Marshal(types.CompleteHabitPayload{HabitID: c.HabitID, Day: c.Day})
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE completions SET sync_status = ?, sync_error = '' WHERE id = ?`,
			types.SyncPending, id); err != nil {
			return fmt.Errorf("reset completion status: %w", err)
		}
		if err := enqueueTx(ctx, tx, types.OpComplete, types.ResourceCompletion, id, payload, now); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown resource type %q", resource)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetHabit retrieves a habit by local id, excluding soft-deleted rows.
func (s *SQLiteStore) GetHabit(ctx context.Context, id string) (*types.Habit, error) {
	row := s.db.QueryRowContext(ctx, habitSelect+` WHERE id = ? AND deleted_at IS NULL`, id)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

// ListHabits returns habits ordered by creation, excluding soft-deleted rows.
func (s *SQLiteStore) ListHabits(ctx context.Context, includeArchived bool) ([]types.Habit, error) {
	q := habitSelect + ` WHERE deleted_at IS NULL`
	if !includeArchived {
		q += ` AND archived = 0`
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query habits: %w", err)
	}
	defer rows.Close()

	var habits []types.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan habit: %w", err)
		}
		habits = append(habits, *h)
	}
	return habits, rows.Err()
}

// ListCompletions returns the most recent completions for a habit.
func (s *SQLiteStore) ListCompletions(ctx context.Context, habitID string, limit int) ([]types.Completion, error) {
	rows, err := s.db.QueryContext(ctx, completionSelect+`
		WHERE habit_id = ? ORDER BY day DESC LIMIT ?`, habitID, limit)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	var completions []types.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		completions = append(completions, *c)
	}
	return completions, rows.Err()
}

const habitSelect = `
	SELECT id, remote_id, name, cadence, notes, archived, sync_status, sync_error, created_at, updated_at
	FROM habits`

const completionSelect = `
	SELECT id, remote_id, habit_id, day, sync_status, sync_error, created_at
	FROM completions`

type rowScanner interface{ Scan(...any) error }

func scanHabit(scanner rowScanner) (*types.Habit, error) {
	var h types.Habit
	var remoteID sql.NullString
	var archived int
	var createdAt, updatedAt string

	err := scanner.Scan(&h.ID, &remoteID, &h.Name, &h.Cadence, &h.Notes,
		&archived, &h.SyncStatus, &h.SyncError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	h.RemoteID = remoteID.String
	h.Archived = archived != 0
	h.CreatedAt = parseTime(createdAt)
	h.UpdatedAt = parseTime(updatedAt)
	return &h, nil
}

func scanCompletion(scanner rowScanner) (*types.Completion, error) {
	var c types.Completion
	var remoteID sql.NullString
	var createdAt string

	err := scanner.Scan(&c.ID, &remoteID, &c.HabitID, &c.Day,
		&c.SyncStatus, &c.SyncError, &createdAt)
	if err != nil {
		return nil, err
	}

	c.RemoteID = remoteID.String
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func getHabitTx(ctx context.Context, tx *sql.Tx, id string) (*types.Habit, error) {
	row := tx.QueryRowContext(ctx, habitSelect+` WHERE id = ? AND deleted_at IS NULL`, id)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

func getCompletionTx(ctx context.Context, tx *sql.Tx, id string) (*types.Completion, error) {
	row := tx.QueryRowContext(ctx, completionSelect+` WHERE id = ?`, id)
	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func fmtTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
