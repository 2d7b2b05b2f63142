package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/agent/internal/models"
)

// DiscoverySource lets CaptureController invoke a connector's Discover
// operation without depending on the validator package's connector
// plumbing directly; the real implementation is the same
// validator.CaptureDriver used during publication (§4.6 "merges the
// spec.md capture-controller discovery with the existing capture
// connector protocol").
type DiscoverySource interface {
	Discover(ctx context.Context, endpoint models.EndpointDef) ([]models.CaptureBinding, error)
}

// CaptureStatus is the persisted status document of a Capture controller
// (§4.6 Capture controller).
type CaptureStatus struct {
	LastDiscover time.Time `json:"lastDiscover,omitempty"`
}

// CaptureController periodically invokes Discover to auto-augment
// bindings, escalating connector failures into backoff and, past
// threshold, a BackgroundPublicationFailed alert (§4.6 Capture
// controller).
type CaptureController struct{}

const discoverInterval = 30 * time.Minute

func (CaptureController) Reconcile(ctx context.Context, e *Engine, live models.LiveSpec, statusDoc json.RawMessage) (json.RawMessage, time.Duration, error) {
	var status CaptureStatus
	_ = json.Unmarshal(statusDoc, &status)

	var capture models.CaptureDef
	if err := json.Unmarshal(live.Model, &capture); err != nil {
		return statusDoc, discoverInterval, fmt.Errorf("decoding capture model: %w", err)
	}

	if capture.AutoDiscover == nil || !capture.AutoDiscover.AddNewBindings || e.Discovery == nil {
		next, _ := json.Marshal(status)
		return next, discoverInterval, nil
	}
	if !status.LastDiscover.IsZero() && time.Since(status.LastDiscover) < discoverInterval {
		next, _ := json.Marshal(status)
		return next, discoverInterval - time.Since(status.LastDiscover), nil
	}

	discovered, err := e.Discovery.Discover(ctx, capture.Endpoint)
	if err != nil {
		return statusDoc, discoverInterval, fmt.Errorf("discover: %w", err)
	}

	var existing = map[string]bool{}
	for _, b := range capture.Bindings {
		existing[string(b.Target)] = true
	}
	var added int
	for _, b := range discovered {
		if !existing[string(b.Target)] {
			capture.Bindings = append(capture.Bindings, b)
			added++
		}
	}

	status.LastDiscover = time.Now()
	if added > 0 {
		model, _ := json.Marshal(capture)
		var draft = models.DraftSpec{
			CatalogName: live.CatalogName,
			SpecType:    live.SpecType,
			Model:       model,
			ExpectPubID: models.ExpectPubID{Value: live.LastPubID, Set: true},
		}
		draft.DraftID = 0 // controller-originated drafts are not addressable via the drafts API

		if _, err := publishControllerDraft(ctx, e, []models.DraftSpec{draft}); err != nil {
			return statusDoc, discoverInterval, fmt.Errorf("publishing discovered bindings: %w", err)
		}
	}

	next, _ := json.Marshal(status)
	return next, discoverInterval, nil
}
