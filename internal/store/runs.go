package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

// CreateRun appends a new phase run in its initial (running) state.
func (s *Store) CreateRun(run *types.PhaseRun) error {
	idsJSON, err := json.Marshal(run.ItemIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO phase_runs (id, phase, item_ids, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Phase, string(idsJSON), run.StartedAt, run.Status)
	return err
}

// FinalizeRun writes the terminal state of a run exactly once. A run that has
// already left the running state is never mutated again.
func (s *Store) FinalizeRun(run *types.PhaseRun) error {
	idsJSON, err := json.Marshal(run.ItemIDs)
	if err != nil {
		return err
	}
	failuresJSON, err := json.Marshal(run.Failures)
	if err != nil {
		return err
	}
	if run.Failures == nil {
		failuresJSON = []byte("[]")
	}

	res, err := s.db.Exec(`
		UPDATE phase_runs
		SET item_ids = ?, finished_at = ?, status = ?, processed = ?, skipped = ?, failed = ?, error = ?, failures = ?,
			reused_categories = ?, new_categories = ?
		WHERE id = ? AND status = ?
	`, string(idsJSON), run.FinishedAt, run.Status, run.Processed, run.Skipped, run.Failed,
		run.Error, string(failuresJSON), run.ReusedCategories, run.NewCategories, run.ID, types.RunRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("phase run %s already finalized", run.ID)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(id string) (*types.PhaseRun, error) {
	return s.scanRun(s.db.QueryRow(`
		SELECT id, phase, item_ids, started_at, finished_at, status,
			processed, skipped, failed, error, failures, reused_categories, new_categories
		FROM phase_runs WHERE id = ?
	`, id))
}

// LatestRun returns the most recent run for a phase identifier, or nil when
// the phase has never run.
func (s *Store) LatestRun(phase string) (*types.PhaseRun, error) {
	run, err := s.scanRun(s.db.QueryRow(`
		SELECT id, phase, item_ids, started_at, finished_at, status,
			processed, skipped, failed, error, failures, reused_categories, new_categories
		FROM phase_runs WHERE phase = ?
		ORDER BY started_at DESC LIMIT 1
	`, phase))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs across all phases.
func (s *Store) ListRuns(limit int) ([]types.PhaseRun, error) {
	rows, err := s.db.Query(`
		SELECT id, phase, item_ids, started_at, finished_at, status,
			processed, skipped, failed, error, failures, reused_categories, new_categories
		FROM phase_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []types.PhaseRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *Store) scanRun(row rowScanner) (*types.PhaseRun, error) {
	var run types.PhaseRun
	var idsJSON, failuresJSON string
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.Phase, &idsJSON, &run.StartedAt, &finished, &run.Status,
		&run.Processed, &run.Skipped, &run.Failed, &run.Error, &failuresJSON,
		&run.ReusedCategories, &run.NewCategories)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	if err := json.Unmarshal([]byte(idsJSON), &run.ItemIDs); err != nil {
		return nil, fmt.Errorf("decode item ids for run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(failuresJSON), &run.Failures); err != nil {
		return nil, fmt.Errorf("decode failures for run %s: %w", run.ID, err)
	}
	return &run, nil
}
