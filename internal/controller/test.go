package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// TestStatus is the persisted status document of a Test controller,
// tracking the last publication id observed for each Collection the test
// exercises (§4.6 Test controller).
type TestStatus struct {
	DependencyPubIDs map[string]int64 `json:"dependencyPubIds,omitempty"`
}

// TestController republishes (as a no-op touch) whenever one of its
// ingest/verify Collections has published since the test last ran,
// so that a stale test spec doesn't silently diverge from its
// dependencies (§4.6 Test controller).
type TestController struct{}

func (TestController) Reconcile(ctx context.Context, e *Engine, live models.LiveSpec, statusDoc json.RawMessage) (json.RawMessage, time.Duration, error) {
	var status TestStatus
	_ = json.Unmarshal(statusDoc, &status)
	if status.DependencyPubIDs == nil {
		status.DependencyPubIDs = map[string]int64{}
	}

	var test models.TestDef
	if err := json.Unmarshal(live.Model, &test); err != nil {
		return statusDoc, 10 * time.Minute, fmt.Errorf("decoding test model: %w", err)
	}

	var stale bool
	for _, step := range test.Steps {
		var name string
		switch {
		case step.Ingest != nil:
			name = string(step.Ingest.Collection)
		case step.Verify != nil:
			name = string(step.Verify.Collection)
		default:
			continue
		}
		depSpec, lookupErr := e.Store.GetLiveSpec(ctx, names.Catalog(name))
		if lookupErr != nil {
			return statusDoc, 10 * time.Minute, fmt.Errorf("loading dependency %q: %w", name, lookupErr)
		}
		if depSpec == nil {
			continue
		}
		if status.DependencyPubIDs[name] != depSpec.LastPubID {
			stale = true
			status.DependencyPubIDs[name] = depSpec.LastPubID
		}
	}

	if stale {
		var draft = models.DraftSpec{
			CatalogName: live.CatalogName,
			SpecType:    live.SpecType,
			Model:       live.Model,
			IsTouch:     true,
			ExpectPubID: models.ExpectPubID{Value: live.LastPubID, Set: true},
		}
		if _, err := publishControllerDraft(ctx, e, []models.DraftSpec{draft}); err != nil {
			return statusDoc, 10 * time.Minute, fmt.Errorf("republishing stale test: %w", err)
		}
	}

	next, _ := json.Marshal(status)
	return next, 10 * time.Minute, nil
}
