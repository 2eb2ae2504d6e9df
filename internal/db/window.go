package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/models"
)

const windowColumns = "id, open_time, close_time, version"

// windowLockKey names the advisory lock that serializes window writes
const windowLockKey = 7301

func scanWindow(row pgx.Row, window *models.SubmissionWindow) error {
	return row.Scan(&window.ID, &window.OpenTime, &window.CloseTime, &window.Version)
}

// windowTx runs fn holding the window write lock and hands it the next
// version. The lock is held until commit, so versions are assigned in commit
// order.
func (db *DB) windowTx(ctx context.Context, fn func(tx pgx.Tx, version int64) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", windowLockKey); err != nil {
		return err
	}
	var version int64
	if err := tx.QueryRow(ctx, "SELECT nextval('submission_window_version')").Scan(&version); err != nil {
		return err
	}
	if err := fn(tx, version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertWindow creates the submission window or overwrites it in place.
// The single-statement upsert keeps readers from seeing a half-written record.
func (db *DB) UpsertWindow(ctx context.Context, openTime, closeTime time.Time) (*models.SubmissionWindow, error) {
	window := &models.SubmissionWindow{}
	err := db.windowTx(ctx, func(tx pgx.Tx, version int64) error {
		return scanWindow(tx.QueryRow(ctx,
			"INSERT INTO submission_window (id, open_time, close_time, version) VALUES ($1, $2, $3, $4) "+
				"ON CONFLICT (id) DO UPDATE SET open_time = EXCLUDED.open_time, close_time = EXCLUDED.close_time, version = EXCLUDED.version "+
				"RETURNING "+windowColumns,
			models.SubmissionWindowID, openTime, closeTime, version), window)
	})
	if err != nil {
		return nil, apperr.Upstream("failed to save submission window", err)
	}
	return utcWindow(window), nil
}

// GetWindow returns the current window, or nil if none has been set
func (db *DB) GetWindow(ctx context.Context) (*models.SubmissionWindow, error) {
	window := &models.SubmissionWindow{}
	err := scanWindow(db.Pool.QueryRow(ctx,
		"SELECT "+windowColumns+" FROM submission_window WHERE id = $1",
		models.SubmissionWindowID), window)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Upstream("failed to get submission window", err)
	}
	return utcWindow(window), nil
}

// ResetWindow collapses an existing window to now/now. It returns nil if no
// window exists.
func (db *DB) ResetWindow(ctx context.Context, now time.Time) (*models.SubmissionWindow, error) {
	window := &models.SubmissionWindow{}
	found := true
	err := db.windowTx(ctx, func(tx pgx.Tx, version int64) error {
		err := scanWindow(tx.QueryRow(ctx,
			"UPDATE submission_window SET open_time = $2, close_time = $2, version = $3 WHERE id = $1 RETURNING "+windowColumns,
			models.SubmissionWindowID, now, version), window)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, apperr.Upstream("failed to reset submission window", err)
	}
	if !found {
		return nil, nil
	}
	return utcWindow(window), nil
}

// DeleteWindow removes the window if present and returns the version of the
// deletion
func (db *DB) DeleteWindow(ctx context.Context) (int64, error) {
	var deleted int64
	err := db.windowTx(ctx, func(tx pgx.Tx, version int64) error {
		deleted = version
		_, err := tx.Exec(ctx, "DELETE FROM submission_window WHERE id = $1", models.SubmissionWindowID)
		return err
	})
	if err != nil {
		return 0, apperr.Upstream("failed to delete submission window", err)
	}
	return deleted, nil
}

func utcWindow(w *models.SubmissionWindow) *models.SubmissionWindow {
	w.OpenTime = w.OpenTime.UTC()
	w.CloseTime = w.CloseTime.UTC()
	return w
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
