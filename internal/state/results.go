package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// SaveResult archives one completed orchestration run and its per-task
// results in a single transaction.
func (db *DB) SaveResult(r *models.OrchestrationResult) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO orchestrations
			(id, total_tasks, successful_tasks, failed_tasks, sequential,
			 elapsed_ms, speedup, error_summary, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TotalTasks, r.SuccessfulTasks, r.FailedTasks, boolToInt(r.Sequential),
		r.Elapsed.Milliseconds(), r.SpeedupEstimate, r.ErrorSummary,
		formatTime(r.StartedAt), formatTime(r.CompletedAt))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert orchestration %s: %w", r.ID, err)
	}

	for _, tr := range r.TaskResults {
		_, err = tx.Exec(`
			INSERT INTO task_results
				(orchestration_id, task_id, success, error, output,
				 workspace_path, process_id, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, tr.TaskID, boolToInt(tr.Success), tr.Error, tr.Output,
			tr.WorkspacePath, tr.ProcessID, formatTime(tr.StartedAt), formatTime(tr.CompletedAt))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert task result %s/%s: %w", r.ID, tr.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit orchestration %s: %w", r.ID, err)
	}
	return nil
}

// GetResult loads one archived orchestration run with its task results.
func (db *DB) GetResult(id string) (*models.OrchestrationResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, total_tasks, successful_tasks, failed_tasks, sequential,
		       elapsed_ms, speedup, error_summary, started_at, completed_at
		FROM orchestrations WHERE id = ?
	`, id)

	r, err := scanOrchestration(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("orchestration %s not found", id)
		}
		return nil, err
	}

	rows, err := db.conn.Query(`
		SELECT task_id, success, error, output, workspace_path, process_id,
		       started_at, completed_at
		FROM task_results WHERE orchestration_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tr models.TaskResult
		var success int
		var started, completed string
		if err := rows.Scan(&tr.TaskID, &success, &tr.Error, &tr.Output,
			&tr.WorkspacePath, &tr.ProcessID, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		tr.Success = success != 0
		if tr.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse task started_at: %w", err)
		}
		if tr.CompletedAt, err = parseTime(completed); err != nil {
			return nil, fmt.Errorf("parse task completed_at: %w", err)
		}
		r.TaskResults = append(r.TaskResults, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task results: %w", err)
	}

	return r, nil
}

// ListResults returns the most recent archived runs, newest first,
// without their per-task detail.
func (db *DB) ListResults(limit int) ([]models.OrchestrationResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, total_tasks, successful_tasks, failed_tasks, sequential,
		       elapsed_ms, speedup, error_summary, started_at, completed_at
		FROM orchestrations ORDER BY completed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orchestrations: %w", err)
	}
	defer rows.Close()

	var results []models.OrchestrationResult
	for rows.Next() {
		r, err := scanOrchestration(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// ArchiveProcesses stores the final process record snapshots of a run.
func (db *DB) ArchiveProcesses(orchestrationID string, records []models.ProcessRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, rec := range records {
		blob, err := json.Marshal(rec)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal process record %s: %w", rec.ProcessID, err)
		}
		_, err = tx.Exec(`
			INSERT INTO process_archive (orchestration_id, process_id, task_id, record, archived_at)
			VALUES (?, ?, ?, ?, ?)
		`, orchestrationID, rec.ProcessID, rec.TaskID, string(blob), formatTime(time.Now()))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert process archive %s: %w", rec.ProcessID, err)
		}
	}
	return tx.Commit()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrchestration(s scanner) (*models.OrchestrationResult, error) {
	var r models.OrchestrationResult
	var sequential int
	var elapsedMS int64
	var started, completed string

	err := s.Scan(&r.ID, &r.TotalTasks, &r.SuccessfulTasks, &r.FailedTasks,
		&sequential, &elapsedMS, &r.SpeedupEstimate, &r.ErrorSummary,
		&started, &completed)
	if err != nil {
		return nil, err
	}
	r.Sequential = sequential != 0
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if r.CompletedAt, err = parseTime(completed); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
