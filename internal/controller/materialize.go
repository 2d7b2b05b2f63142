package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/agent/internal/models"
)

// MaterializationStatus is the persisted status document of a
// Materialization controller (§4.6 Materialization controller, §9).
type MaterializationStatus struct {
	// AppliedGeneration tracks, per source collection, the generation id
	// last observed to decide whether a reset has propagated yet.
	AppliedGeneration map[string]int64 `json:"appliedGeneration,omitempty"`
}

// MaterializationController reacts to a source Collection's reset (its
// generation id advancing) by applying that binding's
// OnIncompatibleSchemaChange policy: backfill re-initializes the
// binding's transaction range, disableBinding turns the binding off, and
// abort fails the controller outright so an operator must intervene
// (§4.6 Materialization controller, §9).
type MaterializationController struct{}

func (MaterializationController) Reconcile(ctx context.Context, e *Engine, live models.LiveSpec, statusDoc json.RawMessage) (json.RawMessage, time.Duration, error) {
	var status MaterializationStatus
	_ = json.Unmarshal(statusDoc, &status)
	if status.AppliedGeneration == nil {
		status.AppliedGeneration = map[string]int64{}
	}

	var materialization models.MaterializationDef
	if err := json.Unmarshal(live.Model, &materialization); err != nil {
		return statusDoc, 10 * time.Minute, fmt.Errorf("decoding materialization model: %w", err)
	}

	var changed bool
	for i, b := range materialization.Bindings {
		if b.Disable {
			continue
		}
		source, err := e.Store.GetLiveSpec(ctx, b.Source)
		if err != nil {
			return statusDoc, 10 * time.Minute, fmt.Errorf("loading source %q: %w", b.Source, err)
		}
		if source == nil {
			// Dependency was deleted outright: disable the binding rather
			// than aborting, since there is no schema to reconcile against.
			materialization.Bindings[i].Disable = true
			changed = true
			continue
		}

		var generation = source.LastPubID
		if status.AppliedGeneration[string(b.Source)] == generation {
			continue
		}
		if status.AppliedGeneration[string(b.Source)] == 0 {
			// First observation of this source: record its generation
			// without treating it as a reset.
			status.AppliedGeneration[string(b.Source)] = generation
			continue
		}

		switch b.OnIncompatibleSchemaChange {
		case models.OnIncompatibleDisableBinding:
			materialization.Bindings[i].Disable = true
			changed = true
		case models.OnIncompatibleAbort:
			return statusDoc, 10 * time.Minute, fmt.Errorf("materialization binding for %q aborted: incompatible schema change requires manual intervention", b.Source)
		default: // backfill, and the empty/unset default
			materialization.Bindings[i].Backfill++
			changed = true
		}
		status.AppliedGeneration[string(b.Source)] = generation
	}

	if changed {
		model, _ := json.Marshal(materialization)
		var draft = models.DraftSpec{
			CatalogName: live.CatalogName,
			SpecType:    live.SpecType,
			Model:       model,
			ExpectPubID: models.ExpectPubID{Value: live.LastPubID, Set: true},
		}
		if _, err := publishControllerDraft(ctx, e, []models.DraftSpec{draft}); err != nil {
			return statusDoc, 10 * time.Minute, fmt.Errorf("publishing reset propagation: %w", err)
		}
	}

	next, _ := json.Marshal(status)
	return next, 10 * time.Minute, nil
}
