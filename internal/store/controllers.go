package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// ClaimRunnableController leases one controller row with next_run <= now
// and no current owner, identified by ownerID, implementing the
// scheduler's "at-most-one active instance per task id" guarantee (§5,
// §4.6). It returns nil, nil if nothing is runnable.
func (s *Store) ClaimRunnableController(ctx context.Context, ownerID string) (*models.ControllerStatus, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var liveSpecID int64
	var currentStatus string
	var nextRun sql.NullTime
	var lastError sql.NullString
	var failureCount int

	err = tx.QueryRowContext(ctx, `
		SELECT live_spec_id, current_status, next_run, last_error, failure_count
		FROM controllers
		WHERE next_run IS NOT NULL AND next_run <= CURRENT_TIMESTAMP AND owner IS NULL
		ORDER BY next_run ASC LIMIT 1`).Scan(&liveSpecID, &currentStatus, &nextRun, &lastError, &failureCount)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE controllers SET owner = ? WHERE live_spec_id = ?`, ownerID, liveSpecID); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	var cs = models.ControllerStatus{
		LiveSpecID:    liveSpecID,
		CurrentStatus: json.RawMessage(currentStatus),
		LastError:     lastError.String,
		FailureCount:  failureCount,
	}
	if nextRun.Valid {
		cs.NextRun = &nextRun.Time
	}
	return &cs, liveSpecID, nil
}

// ReleaseController persists the controller's new status and clears its
// owner lease, per-tick (§4.6 steps 1-4).
func (s *Store) ReleaseController(ctx context.Context, liveSpecID int64, status json.RawMessage, nextRun *time.Time, lastError string, failureCount int) error {
	var nr sql.NullTime
	if nextRun != nil {
		nr = sql.NullTime{Time: *nextRun, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE controllers SET current_status = ?, next_run = ?, last_error = ?, failure_count = ?, owner = NULL
		WHERE live_spec_id = ?`, string(status), nr, nullIfEmpty(lastError), failureCount, liveSpecID)
	return err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Dependents returns the catalog names of every live spec whose
// reads_from or writes_to includes name, for read-only use outside a
// publication transaction (the controller engine's dependency scans,
// §4.6).
func (s *Store) Dependents(ctx context.Context, name names.Catalog) ([]names.Catalog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT catalog_name, reads_from, writes_to FROM live_specs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []names.Catalog
	for rows.Next() {
		var n, readsFrom, writesTo string
		if err := rows.Scan(&n, &readsFrom, &writesTo); err != nil {
			return nil, err
		}
		var reads, writes []names.Catalog
		_ = json.Unmarshal([]byte(readsFrom), &reads)
		_ = json.Unmarshal([]byte(writesTo), &writes)
		for _, r := range append(reads, writes...) {
			if r == name {
				out = append(out, names.Catalog(n))
				break
			}
		}
	}
	return out, rows.Err()
}

// GetControllerStatus loads the current status document of a controller,
// for the GET /controllers/{name} endpoint (§7).
func (s *Store) GetControllerStatus(ctx context.Context, liveSpecID int64) (*models.ControllerStatus, error) {
	var cs = models.ControllerStatus{LiveSpecID: liveSpecID}
	var currentStatus string
	var nextRun sql.NullTime
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT current_status, next_run, last_error, failure_count FROM controllers WHERE live_spec_id = ?`,
		liveSpecID).Scan(&currentStatus, &nextRun, &lastError, &cs.FailureCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cs.CurrentStatus = json.RawMessage(currentStatus)
	cs.LastError = lastError.String
	if nextRun.Valid {
		cs.NextRun = &nextRun.Time
	}
	return &cs, nil
}
