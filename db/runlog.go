// ABOUTME: Sync run log database operations
// ABOUTME: Records one immutable audit row per sync invocation with counters and errors
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contactbridge/contactbridge/models"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// StartRun opens a run log row with status 'running' and returns its id.
// Run ids are ULIDs so the audit trail sorts chronologically.
func StartRun(db *sql.DB, linkID uuid.UUID, syncType, direction string) (string, error) {
	id := ulid.Make().String()

	_, err := db.Exec(`
		INSERT INTO sync_run_logs (id, link_id, sync_type, direction, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, linkID.String(), syncType, direction, models.RunStatusRunning, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to start run log: %w", err)
	}

	return id, nil
}

// CompleteRun closes a run with its final counters. Status becomes
// 'completed' when the error list is empty, 'completed_with_errors' otherwise.
func CompleteRun(db *sql.DB, runID string, created, updated, skipped int, errs []string) error {
	status := models.RunStatusCompleted
	if len(errs) > 0 {
		status = models.RunStatusCompletedWithErrors
	}

	errJSON, err := marshalErrors(errs)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		UPDATE sync_run_logs
		SET created = ?, updated = ?, skipped = ?, errors = ?, status = ?, completed_at = ?
		WHERE id = ?
	`, created, updated, skipped, errJSON, status, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to complete run log: %w", err)
	}

	return nil
}

// FailRun marks a run failed, keeping whatever counters were accumulated
// before the failure.
func FailRun(db *sql.DB, runID string, created, updated, skipped int, message string) error {
	errJSON, err := marshalErrors([]string{message})
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		UPDATE sync_run_logs
		SET created = ?, updated = ?, skipped = ?, errors = ?, status = ?, completed_at = ?
		WHERE id = ?
	`, created, updated, skipped, errJSON, models.RunStatusFailed, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}

	return nil
}

func GetRun(db *sql.DB, runID string) (*models.SyncRunLog, error) {
	row := db.QueryRow(`
		SELECT id, link_id, sync_type, direction, created, updated, skipped, errors, status, started_at, completed_at
		FROM sync_run_logs WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs for a link, newest first.
func ListRuns(db *sql.DB, linkID uuid.UUID, limit int) ([]models.SyncRunLog, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(`
		SELECT id, link_id, sync_type, direction, created, updated, skipped, errors, status, started_at, completed_at
		FROM sync_run_logs
		WHERE link_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, linkID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRunLog
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

func scanRun(row rowScanner) (*models.SyncRunLog, error) {
	run := &models.SyncRunLog{}
	var linkID string
	var errJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &linkID, &run.SyncType, &run.Direction,
		&run.Created, &run.Updated, &run.Skipped, &errJSON, &run.Status,
		&run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	run.LinkID, err = uuid.Parse(linkID)
	if err != nil {
		return nil, fmt.Errorf("invalid link id %q in run log: %w", linkID, err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	if errJSON.Valid && errJSON.String != "" {
		if err := json.Unmarshal([]byte(errJSON.String), &run.Errors); err != nil {
			return nil, fmt.Errorf("invalid error list in run log %s: %w", run.ID, err)
		}
	}

	return run, nil
}

func marshalErrors(errs []string) (string, error) {
	if len(errs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal error list: %w", err)
	}
	return string(data), nil
}
