package controller

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/agent/internal/models"
)

// InferredSchemaSource fetches the current inferred-schema document for a
// Collection, grounded on crates/agent/src/controllers/collection.rs's
// `control_plane.get_inferred_schema`.
type InferredSchemaSource interface {
	GetInferredSchema(ctx context.Context, collection string) (schema json.RawMessage, md5sum string, found bool, err error)
}

// minSchemaUpdateBackoff mirrors MIN_SCHEMA_UPDATE_BACKOFF from the Rust
// original: collections don't republish for a freshly-observed inferred
// schema until this much time has passed since the last update.
const minSchemaUpdateBackoff = 5 * time.Minute

// CollectionStatus is the persisted status document of a Collection
// controller (§4.6 Collection controller).
type CollectionStatus struct {
	SchemaLastUpdated time.Time `json:"schemaLastUpdated,omitempty"`
	SchemaMD5         string    `json:"schemaMd5,omitempty"`
}

// CollectionController watches for inferred-schema updates and
// dependency deletions, drafting publications that merge the inferred
// shape into the read schema or disable transforms sourcing from a
// deleted dependency (§4.6 Collection controller).
type CollectionController struct{}

func (CollectionController) Reconcile(ctx context.Context, e *Engine, live models.LiveSpec, statusDoc json.RawMessage) (json.RawMessage, time.Duration, error) {
	var status CollectionStatus
	_ = json.Unmarshal(statusDoc, &status)

	var collection models.CollectionDef
	if err := json.Unmarshal(live.Model, &collection); err != nil {
		return statusDoc, 10 * time.Minute, fmt.Errorf("decoding collection model: %w", err)
	}

	if err := e.disableDeletedSourceTransforms(ctx, live, &collection); err != nil {
		return statusDoc, 10 * time.Minute, err
	}

	if !usesInferredSchema(collection) || e.Inferences == nil {
		status.SchemaMD5 = ""
		next, _ := json.Marshal(status)
		return next, 10 * time.Minute, nil
	}

	if !status.SchemaLastUpdated.IsZero() && time.Since(status.SchemaLastUpdated) < minSchemaUpdateBackoff {
		next, _ := json.Marshal(status)
		return next, minSchemaUpdateBackoff - time.Since(status.SchemaLastUpdated), nil
	}

	schema, sum, found, err := e.Inferences.GetInferredSchema(ctx, string(live.CatalogName))
	if err != nil {
		return statusDoc, 10 * time.Minute, fmt.Errorf("fetching inferred schema: %w", err)
	}
	if !found || sum == status.SchemaMD5 {
		next, _ := json.Marshal(status)
		return next, nextRunForSchema(status, time.Now()), nil
	}

	merged := mergeReadSchema(collection.ReadSchema, collection.WriteSchema, schema)
	collection.ReadSchema = merged
	model, _ := json.Marshal(collection)

	var draft = models.DraftSpec{
		CatalogName: live.CatalogName,
		SpecType:    live.SpecType,
		Model:       model,
		ExpectPubID: models.ExpectPubID{Value: live.LastPubID, Set: true},
		Detail:      "updating inferred schema",
	}
	if _, err := publishControllerDraft(ctx, e, []models.DraftSpec{draft}); err != nil {
		return statusDoc, 10 * time.Minute, fmt.Errorf("publishing inferred schema update: %w", err)
	}

	status.SchemaMD5 = sum
	status.SchemaLastUpdated = time.Now()
	next, _ := json.Marshal(status)
	return next, nextRunForSchema(status, time.Now()), nil
}

// disableDeletedSourceTransforms implements "when any dependency is
// deleted, drafts a publication that disables transforms sourcing from
// it" (§4.6 Collection controller).
func (e *Engine) disableDeletedSourceTransforms(ctx context.Context, live models.LiveSpec, collection *models.CollectionDef) error {
	if collection.Derive == nil {
		return nil
	}
	var changed bool
	for i, t := range collection.Derive.Transforms {
		if t.Disable {
			continue
		}
		existing, err := e.Store.GetLiveSpec(ctx, t.Source)
		if err != nil {
			return fmt.Errorf("checking source %q: %w", t.Source, err)
		}
		if existing == nil {
			collection.Derive.Transforms[i].Disable = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	model, _ := json.Marshal(collection)
	var draft = models.DraftSpec{
		CatalogName: live.CatalogName, SpecType: live.SpecType, Model: model,
		ExpectPubID: models.ExpectPubID{Value: live.LastPubID, Set: true},
	}
	_, err := publishControllerDraft(ctx, e, []models.DraftSpec{draft})
	return err
}

// nextRunForSchema implements the Collection controller's widening
// backoff: ~1 minute until the first successful inferred-schema
// publication, then ~10 minutes (capped at ~90), with 25% jitter (§4.6).
func nextRunForSchema(status CollectionStatus, now time.Time) time.Duration {
	var base = time.Minute
	if status.SchemaMD5 != "" {
		base = 10 * time.Minute
	}
	if !status.SchemaLastUpdated.IsZero() {
		var elapsed = now.Sub(status.SchemaLastUpdated)
		if elapsed > base {
			base = elapsed
		}
	}
	if base > 90*time.Minute {
		base = 90 * time.Minute
	}
	return jitterPercent(base, 0.25)
}

// inferredSchemaRef is the well-known URI a Collection's read schema
// references to opt into inferred-schema merging (§4.6 Collection
// controller, §3 GLOSSARY).
const inferredSchemaRef = "flow://inferred-schema"

func usesInferredSchema(c models.CollectionDef) bool {
	return bytes.Contains(c.ReadSchema, []byte(inferredSchemaRef))
}

// mergeReadSchema combines the write schema with the newly inferred
// shape, extending (not replacing) the declared read schema, mirroring
// models::Schema::extend_read_bundle. A full $ref-aware merge is out of
// scope here; this produces an allOf composition, which is
// JSON-Schema-valid and sufficient for the controller's purpose of
// carrying the inferred shape forward for the validator to compile.
func mergeReadSchema(readSchema, writeSchema, inferred json.RawMessage) json.RawMessage {
	var parts []json.RawMessage
	for _, p := range []json.RawMessage{readSchema, writeSchema, inferred} {
		if len(p) > 0 {
			parts = append(parts, p)
		}
	}
	merged, _ := json.Marshal(map[string]any{"allOf": parts})
	return merged
}

// schemaHash is a convenience for callers constructing a fake
// InferredSchemaSource in tests.
func schemaHash(schema json.RawMessage) string {
	var sum = md5.Sum(schema)
	return hex.EncodeToString(sum[:])
}
