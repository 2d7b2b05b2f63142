// Package controller implements §4.6: a polling engine that claims
// runnable controllers(next_run <= now) rows and dispatches by spec kind
// to one of four Controller implementations, grounded file-for-file on
// crates/agent/src/controllers/collection.rs (the only controller kept
// in the retrieval pack) generalized across the other three kinds.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/estuary/agent/internal/alerts"
	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/publication"
	"github.com/estuary/agent/internal/store"
)

// BackgroundPublicationFailedAlert is the alert type fired when a
// controller's failure count reaches FailureAlertThreshold (§4.6 Capture
// controller).
const BackgroundPublicationFailedAlert = "BackgroundPublicationFailed"

// FailureAlertThreshold is the number of consecutive controller failures
// at which the alert fires.
const FailureAlertThreshold = 3

// Controller implements the per-kind reconciliation step dispatched by
// Engine.Tick (§4.6's four bullet points).
type Controller interface {
	// Reconcile runs one tick against live, decoding and re-encoding its
	// own status document, and returns the duration until its next run.
	Reconcile(ctx context.Context, e *Engine, live models.LiveSpec, status json.RawMessage) (json.RawMessage, time.Duration, error)
}

// Engine polls for runnable controllers and dispatches them (§4.6 intro,
// §5 "at-most-one active instance per task id").
type Engine struct {
	Store      *store.Store
	Publish    *publication.Engine
	OwnerID    string
	Discovery  DiscoverySource
	Inferences InferredSchemaSource
}

// Tick claims and runs at most one runnable controller, returning false
// if nothing was runnable.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	status, liveSpecID, err := e.Store.ClaimRunnableController(ctx, e.OwnerID)
	if err != nil {
		return false, fmt.Errorf("claiming controller: %w", err)
	}
	if status == nil {
		return false, nil
	}

	live, err := e.Store.GetLiveSpecByID(ctx, liveSpecID)
	if err != nil || live == nil {
		return true, fmt.Errorf("loading live spec %d: %w", liveSpecID, err)
	}

	var impl = dispatch(live.SpecType)
	newStatus, delay, runErr := impl.Reconcile(ctx, e, *live, status.CurrentStatus)

	var failureCount = status.FailureCount
	var lastError string
	if runErr != nil {
		failureCount++
		lastError = runErr.Error()
		if failureCount == FailureAlertThreshold {
			args, _ := json.Marshal(map[string]string{"error": lastError})
			_ = alerts.Fire(ctx, e.Store, live.CatalogName, BackgroundPublicationFailedAlert, args)
		}
		delay = backoff(failureCount)
	} else {
		if failureCount > 0 {
			_ = alerts.Resolve(ctx, e.Store, live.CatalogName, BackgroundPublicationFailedAlert, json.RawMessage(`{}`))
		}
		failureCount = 0
	}

	var nextRun = time.Now().Add(delay)
	if err := e.Store.ReleaseController(ctx, liveSpecID, newStatus, &nextRun, lastError, failureCount); err != nil {
		return true, fmt.Errorf("releasing controller: %w", err)
	}
	return true, nil
}

func dispatch(specType names.SpecType) Controller {
	switch specType {
	case names.SpecTypeCapture:
		return CaptureController{}
	case names.SpecTypeCollection:
		return CollectionController{}
	case names.SpecTypeMaterialization:
		return MaterializationController{}
	default:
		return TestController{}
	}
}

// backoff computes `min(failure_count, 5) * 60s + random(1..backoff_secs) s`
// (§4.6 step 4, and the Materialization controller's identical formula),
// reused by every controller kind for simplicity and consistency.
func backoff(failureCount int) time.Duration {
	var capped = failureCount
	if capped < 1 {
		capped = 1
	} else if capped > 5 {
		capped = 5
	}
	var base = capped * 60
	var jitter = 1 + rand.Intn(base)
	return time.Duration(base+jitter) * time.Second
}

// jitterPercent scales d by a random factor within [1-pct, 1+pct],
// matching the Rust original's NextRun::with_jitter_percent (§4.6
// Collection controller).
func jitterPercent(d time.Duration, pct float64) time.Duration {
	var factor = 1 + (rand.Float64()*2-1)*pct
	return time.Duration(float64(d) * factor)
}

// publishControllerDraft runs drafts through the publication engine with
// controller attribution: verify_user_authz=false and a controller user
// id (§4.6 step 2).
func publishControllerDraft(ctx context.Context, e *Engine, drafts []models.DraftSpec) (publication.Outcome, error) {
	return e.Publish.Publish(ctx, drafts, publication.Opts{
		UserID:          "controller",
		VerifyUserAuthz: false,
	})
}
