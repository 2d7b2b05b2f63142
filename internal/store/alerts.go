package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// OpenAlert returns the open (unresolved) alert for (catalogName,
// alertType), enforcing §3's "at most one open alert per
// (catalog_name, alert_type)" invariant at the query layer.
func (s *Store) OpenAlert(ctx context.Context, catalogName names.Catalog, alertType string) (*models.AlertHistory, error) {
	var a models.AlertHistory
	var args string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, catalog_name, alert_type, fired_at, arguments FROM alert_history
		WHERE catalog_name = ? AND alert_type = ? AND resolved_at IS NULL`, catalogName, alertType).
		Scan(&a.ID, &a.CatalogName, &a.AlertType, &a.FiredAt, &args)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Arguments = json.RawMessage(args)
	return &a, nil
}

// InsertAlert fires a new alert row (§4.7 step 3).
func (s *Store) InsertAlert(ctx context.Context, catalogName names.Catalog, alertType string, arguments json.RawMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history(catalog_name, alert_type, fired_at, arguments) VALUES (?, ?, CURRENT_TIMESTAMP, ?)`,
		catalogName, alertType, string(arguments))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ResolveAlert marks an alert resolved (§4.7 "Resolving an alert").
func (s *Store) ResolveAlert(ctx context.Context, id int64, resolvedArguments json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_history SET resolved_at = CURRENT_TIMESTAMP, resolved_arguments = ? WHERE id = ?`,
		string(resolvedArguments), id)
	return err
}

// GetAlert loads an alert_history row by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.AlertHistory, error) {
	var a models.AlertHistory
	var args string
	var resolvedArgs sql.NullString
	var resolvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, catalog_name, alert_type, fired_at, resolved_at, arguments, resolved_arguments
		FROM alert_history WHERE id = ?`, id).
		Scan(&a.ID, &a.CatalogName, &a.AlertType, &a.FiredAt, &resolvedAt, &args, &resolvedArgs)
	if err != nil {
		return nil, err
	}
	a.Arguments = json.RawMessage(args)
	if resolvedArgs.Valid {
		a.ResolvedArguments = json.RawMessage(resolvedArgs.String)
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}

// EnsureNotifierTask creates (if absent) the notifier task row for an
// alert (§4.7 step 4: "Enqueue a notifier task of type
// ALERT_NOTIFICATIONS").
func (s *Store) EnsureNotifierTask(ctx context.Context, alertID int64) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO notifier_tasks(id, alert_id, wake_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET wake_at = CURRENT_TIMESTAMP`, alertID, alertID); err != nil {
		return 0, err
	}
	return alertID, nil
}

// NotifierTaskState is the persisted progress of a single notifier task
// (§4.7 "The notifier task").
type NotifierTaskState struct {
	MaxIdempotencyKey string `json:"maxIdempotencyKey"`
	Failures          int    `json:"failures"`
	LastError         string `json:"lastError,omitempty"`
	Done              bool   `json:"done"`
}

// ClaimRunnableNotifier leases one notifier task whose wake_at has
// elapsed, mirroring ClaimRunnableController's lease discipline (§5).
func (s *Store) ClaimRunnableNotifier(ctx context.Context, ownerID string) (taskID int64, alertID int64, state NotifierTaskState, found bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, state, false, err
	}
	defer tx.Rollback()

	var rawState string
	err = tx.QueryRowContext(ctx, `
		SELECT id, alert_id, state FROM notifier_tasks
		WHERE wake_at IS NOT NULL AND wake_at <= CURRENT_TIMESTAMP AND owner IS NULL
		ORDER BY wake_at ASC LIMIT 1`).Scan(&taskID, &alertID, &rawState)
	if err == sql.ErrNoRows {
		return 0, 0, state, false, nil
	}
	if err != nil {
		return 0, 0, state, false, err
	}
	if rawState != "" {
		_ = json.Unmarshal([]byte(rawState), &state)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE notifier_tasks SET owner = ? WHERE id = ?`, ownerID, taskID); err != nil {
		return 0, 0, state, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, state, false, err
	}
	return taskID, alertID, state, true, nil
}

// ReleaseNotifier persists a notifier task's new state and either
// suspends it (wakeAt nil and not done: awaits the next event) or
// schedules its next wake (§4.7 "Suspend/Done/Sleep").
func (s *Store) ReleaseNotifier(ctx context.Context, taskID int64, state NotifierTaskState, wakeAt *sql.NullTime) error {
	raw, _ := json.Marshal(state)
	var wa sql.NullTime
	if wakeAt != nil {
		wa = *wakeAt
	}
	_, err := s.db.ExecContext(ctx, `UPDATE notifier_tasks SET state = ?, wake_at = ?, owner = NULL WHERE id = ?`,
		string(raw), wa, taskID)
	return err
}
