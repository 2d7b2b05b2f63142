// Package alerts implements §4.7: firing and resolving alert_history
// rows, and a generic retrying notifier task that renders and sends the
// corresponding emails. Grounded on crates/agent/src/alerts/notifier.rs
// and crates/control-plane-api/src/alerts.rs.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/store"
)

// Fire records a new open alert for (catalogName, alertType) unless one
// is already open, and enqueues its notifier task (§4.7 "Firing an
// alert"). Firing an already-open alert is a no-op: §3's invariant is at
// most one open alert per (catalog_name, alert_type).
func Fire(ctx context.Context, st *store.Store, catalogName names.Catalog, alertType string, arguments json.RawMessage) error {
	existing, err := st.OpenAlert(ctx, catalogName, alertType)
	if err != nil {
		return fmt.Errorf("checking for open alert: %w", err)
	}
	if existing != nil {
		return nil
	}

	id, err := st.InsertAlert(ctx, catalogName, alertType, arguments)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	if _, err := st.EnsureNotifierTask(ctx, id); err != nil {
		return fmt.Errorf("enqueueing notifier task: %w", err)
	}
	return nil
}

// Resolve marks the open alert for (catalogName, alertType) resolved and
// re-wakes its notifier task so the resolution email goes out (§4.7
// "Resolving an alert"). Resolving an alert that is not open is a no-op.
func Resolve(ctx context.Context, st *store.Store, catalogName names.Catalog, alertType string, resolvedArguments json.RawMessage) error {
	existing, err := st.OpenAlert(ctx, catalogName, alertType)
	if err != nil {
		return fmt.Errorf("checking for open alert: %w", err)
	}
	if existing == nil {
		return nil
	}

	if err := st.ResolveAlert(ctx, existing.ID, resolvedArguments); err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}
	if _, err := st.EnsureNotifierTask(ctx, existing.ID); err != nil {
		return fmt.Errorf("waking notifier task: %w", err)
	}
	return nil
}
