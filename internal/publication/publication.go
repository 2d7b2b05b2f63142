// Package publication implements the publication engine of §4.5: the
// savepoint/resolve/authorize/build/persist/commit sequence that turns a
// draft into committed live specs, grounded on crates/agent/src/publications.rs
// and crates/agent/src/drafts.rs. Each attempt runs as a single
// database/sql transaction; SQLite's BEGIN IMMEDIATE plus row-level
// updates stand in for the original's row-level FOR UPDATE locks (§5).
package publication

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/estuary/agent/internal/apierrors"
	"github.com/estuary/agent/internal/authz"
	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/snapshot"
	"github.com/estuary/agent/internal/storagemapping"
	"github.com/estuary/agent/internal/store"
	"github.com/estuary/agent/internal/validator"
)

// Opts controls one publication attempt (§4.5 steps 3, 7, retry policy).
type Opts struct {
	UserID          string
	Claim           authz.Claim
	VerifyUserAuthz bool
	DryRun          bool
	// MaxAttempts bounds the retry-on-transient loop; zero defaults to 3.
	MaxAttempts int
}

// Status mirrors the publication_specs/publications "status" column
// values surfaced at GET /publications/{id} (§6).
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusDryRun  Status = "dryRunSuccess"
)

// Outcome is everything Publish reports back to its caller.
type Outcome struct {
	PubID  int64
	Status Status
	Errors []models.DraftError
	Built  []validator.BuiltSpec
}

// Engine runs publication attempts against a Store, consulting the
// authorization Snapshot and dispatching connector validation.
type Engine struct {
	Store   *store.Store
	Snaps   *snapshot.Cache
	Drivers validator.Drivers
	// Builds persists the built-catalog blob of each successful
	// publication (§4.5 step 5). A nil Builds skips persistence, which
	// NewEngine callers that don't care about the builds store (most
	// tests) may leave unset.
	Builds BuildsStore
}

// NewEngine constructs a publication Engine.
func NewEngine(st *store.Store, snaps *snapshot.Cache, drivers validator.Drivers) *Engine {
	return &Engine{Store: st, Snaps: snaps, Drivers: drivers}
}

// Publish runs drafts through the publication sequence, retrying from
// the top on a Transient failure up to opts.MaxAttempts times (§4.5
// "Re-try policy").
func (e *Engine) Publish(ctx context.Context, drafts []models.DraftSpec, opts Opts) (Outcome, error) {
	var maxAttempts = opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		outcome, err := e.attempt(ctx, drafts, opts)
		if err == nil {
			return outcome, nil
		}
		if !apierrors.IsKind(err, apierrors.KindTransient) {
			return outcome, err
		}
		lastErr = err
	}
	return Outcome{}, fmt.Errorf("publication exhausted %d attempts: %w", maxAttempts, lastErr)
}

// attempt runs one iteration of the savepoint/resolve/authz/build/
// persist/commit sequence (§4.5 steps 1-8).
func (e *Engine) attempt(ctx context.Context, drafts []models.DraftSpec, opts Opts) (Outcome, error) {
	// Storage mappings are read before the transaction begins: the store
	// has a single connection, which the open transaction occupies.
	mappings, err := e.Store.ListMappings(ctx)
	if err != nil {
		return Outcome{}, apierrors.Transient(err, "listing storage mappings")
	}

	tx, err := e.Store.BeginPublication(ctx)
	if err != nil {
		return Outcome{}, apierrors.Transient(err, "beginning publication transaction")
	}
	defer tx.Rollback()

	// Step 1: resolve. Lock every draft's current live row, plus every
	// row referenced by a draft spec, plus the expansion set of
	// dependents whose builds must be refreshed.
	var liveByName = map[names.Catalog]models.LiveSpec{}
	var refNames []names.Catalog
	for _, d := range drafts {
		refNames = append(refNames, d.CatalogName)
		var spec = models.Spec{Type: d.SpecType}
		wrapped, _ := json.Marshal(map[names.SpecType]json.RawMessage{d.SpecType: d.Model})
		_ = json.Unmarshal(wrapped, &spec)
		refNames = append(refNames, spec.ReadsFrom()...)
		refNames = append(refNames, spec.WritesTo()...)
	}
	resolved, err := tx.ResolveReferences(ctx, refNames)
	if err != nil {
		return Outcome{}, apierrors.Transient(err, "resolving draft references")
	}
	for n, ls := range resolved {
		liveByName[n] = ls
	}

	var expansion = map[names.Catalog]bool{}
	for _, d := range drafts {
		dependents, err := tx.Dependents(ctx, d.CatalogName)
		if err != nil {
			return Outcome{}, apierrors.Transient(err, "computing dependents of %q", d.CatalogName)
		}
		for _, dep := range dependents {
			expansion[dep] = true
			if _, ok := liveByName[dep]; !ok {
				ls, err := tx.LockLiveSpec(ctx, dep)
				if err != nil {
					return Outcome{}, apierrors.Transient(err, "locking dependent %q", dep)
				}
				if ls != nil {
					liveByName[dep] = *ls
				}
			}
		}
	}

	// Step 2: optimistic concurrency.
	for _, d := range drafts {
		if !d.ExpectPubID.Set {
			continue
		}
		live, exists := liveByName[d.CatalogName]
		if d.ExpectPubID.Value == 0 {
			if exists {
				_ = tx.Rollback()
				return e.reject(ctx, drafts, opts, apierrors.Conflict(
					names.Scope(d.CatalogName, ""), "expected %q to not exist, but it does", d.CatalogName))
			}
			continue
		}
		if !exists || live.LastPubID != d.ExpectPubID.Value {
			_ = tx.Rollback()
			return e.reject(ctx, drafts, opts, apierrors.Conflict(
				names.Scope(d.CatalogName, ""), "expect_pub_id mismatch for %q", d.CatalogName))
		}
	}

	// Step 3: authorization.
	if opts.VerifyUserAuthz {
		snap := e.Snaps.Current()
		for _, d := range drafts {
			if err := authz.Policy(snap, opts.Claim, d.CatalogName, authz.CapabilityAdmin); err != nil {
				_ = tx.Rollback()
				return e.reject(ctx, drafts, opts, apierrors.PermissionDenied(
					names.UnauthorizedScope(d.CatalogName), "user lacks admin on %q", d.CatalogName))
			}
			for _, src := range draftSpecSources(d) {
				if err := authz.Policy(snap, opts.Claim, src, authz.CapabilityRead); err != nil {
					_ = tx.Rollback()
					return e.reject(ctx, drafts, opts, apierrors.PermissionDenied(
						names.UnauthorizedScope(src), "user lacks read on %q", src))
				}
			}
		}
	}

	// Step 4: build. Hand the union of draft + live expansion to the
	// validator.
	var live = make([]models.LiveSpec, 0, len(liveByName))
	for _, ls := range liveByName {
		live = append(live, ls)
	}
	result := validator.Validate(ctx, validator.Input{
		Drafts:  drafts,
		Live:    live,
		Storage: storagemapping.NewTable(mappings),
	}, e.Drivers)

	if len(result.Errors) > 0 {
		_ = tx.Rollback()
		return e.reject(ctx, drafts, opts, nil, result.Errors...)
	}

	if opts.DryRun {
		// §4.5 "Dry-run": steps 5-6 are replaced with a rollback that
		// still returns the would-be diff.
		return Outcome{Status: StatusDryRun, Built: result.Built}, nil
	}

	// Step 4 (continued) + 5 + 6: stamp pub/build ids, persist artifacts,
	// commit.
	pubID, err := tx.NextPublicationID(ctx, string(StatusSuccess))
	if err != nil {
		return Outcome{}, apierrors.Transient(err, "allocating publication id")
	}

	var builtByName = map[names.Catalog]validator.BuiltSpec{}
	for _, b := range result.Built {
		builtByName[b.CatalogName] = b
	}

	if e.Builds != nil {
		blob, err := json.Marshal(result.Built)
		if err != nil {
			return Outcome{}, fmt.Errorf("serializing built catalog: %w", err)
		}
		if err := e.Builds.Put(ctx, pubID, blob); err != nil {
			return Outcome{}, apierrors.Transient(err, "persisting built catalog for publication %d", pubID)
		}
	}

	for _, d := range drafts {
		live := liveByName[d.CatalogName]
		if d.Delete {
			if live.ID != 0 {
				if err := tx.DeleteLiveSpec(ctx, live.ID); err != nil {
					return Outcome{}, apierrors.Transient(err, "deleting live spec %q", d.CatalogName)
				}
			}
			continue
		}

		built := builtByName[d.CatalogName]
		builtSpec, _ := json.Marshal(built)

		// The draft model is the bare definition of its kind; wrapping it
		// under its spec type decodes it into the matching Spec variant.
		var spec = models.Spec{Type: d.SpecType}
		wrapped, _ := json.Marshal(map[names.SpecType]json.RawMessage{d.SpecType: d.Model})
		_ = json.Unmarshal(wrapped, &spec)

		// §8 "Idempotence of touch": a touch publication leaves the
		// model unchanged, so it only advances last_build_id; last_pub_id
		// keeps pointing at the publication that last actually changed
		// the model.
		var lastPubID = pubID
		if d.IsTouch {
			lastPubID = live.LastPubID
		}

		id, err := tx.UpsertLiveSpec(ctx, models.LiveSpec{
			CatalogName: d.CatalogName,
			SpecType:    d.SpecType,
			Model:       d.Model,
			BuiltSpec:   builtSpec,
			ReadsFrom:   spec.ReadsFrom(),
			WritesTo:    spec.WritesTo(),
			LastPubID:   lastPubID,
			LastBuildID: pubID,
			DataPlaneID: live.DataPlaneID,
		})
		if err != nil {
			return Outcome{}, apierrors.Transient(err, "upserting live spec %q", d.CatalogName)
		}
		if err := tx.EnsureController(ctx, id); err != nil {
			return Outcome{}, apierrors.Transient(err, "ensuring controller row for %q", d.CatalogName)
		}
		if err := tx.AppendPublicationHistory(ctx, id, pubID, opts.UserID, builtSpec, publicationDetail(d)); err != nil {
			return Outcome{}, apierrors.Transient(err, "appending publication history for %q", d.CatalogName)
		}
	}

	// Step 8: post-commit notifications. Every spec in the expansion set
	// is woken so its controller re-runs against the newly committed
	// publication id. A published draft's own controller is armed here
	// only when EnsureController creates its row.
	for dep := range expansion {
		ls, err := tx.LockLiveSpec(ctx, dep)
		if err != nil {
			return Outcome{}, apierrors.Transient(err, "locking dependent %q for wakeup", dep)
		}
		if ls != nil {
			if err := tx.WakeController(ctx, ls.ID); err != nil {
				return Outcome{}, apierrors.Transient(err, "waking controller for %q", dep)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, apierrors.Transient(err, "committing publication")
	}

	return Outcome{PubID: pubID, Status: StatusSuccess, Built: result.Built}, nil
}

// reject implements §4.5 step 7 after the caller has rolled back the
// whole attempt (sqlite savepoints are not separately modeled): it
// persists only the draft-error rows. No publications row is written
// for a rejected attempt, so it has no recorded failed status.
func (e *Engine) reject(ctx context.Context, drafts []models.DraftSpec, opts Opts, failure *apierrors.Error, extra ...models.DraftError) (Outcome, error) {
	var errs = extra
	if failure != nil {
		errs = append(errs, models.DraftError{
			Scope: failure.Scope, Kind: string(failure.Kind), Detail: failure.Message,
		})
	}
	if len(drafts) > 0 {
		_ = e.Store.RecordDraftErrors(ctx, drafts[0].DraftID, errs)
	}
	var retErr error
	if failure != nil {
		retErr = failure
	} else {
		retErr = fmt.Errorf("publication failed validation with %d error(s)", len(errs))
	}
	return Outcome{Status: StatusFailed, Errors: errs}, retErr
}

// draftSpecSources decodes a draft's source/read references for the
// read-authorization check of §4.5 step 3, tolerating undecodable models
// (already flagged as a validator error).
func draftSpecSources(d models.DraftSpec) []names.Catalog {
	if d.Delete || len(d.Model) == 0 {
		return nil
	}
	var spec models.Spec
	spec.Type = d.SpecType
	switch d.SpecType {
	case names.SpecTypeCapture:
		spec.Capture = new(models.CaptureDef)
		if json.Unmarshal(d.Model, spec.Capture) != nil {
			return nil
		}
	case names.SpecTypeCollection:
		spec.Collection = new(models.CollectionDef)
		if json.Unmarshal(d.Model, spec.Collection) != nil {
			return nil
		}
	case names.SpecTypeMaterialization:
		spec.Materialization = new(models.MaterializationDef)
		if json.Unmarshal(d.Model, spec.Materialization) != nil {
			return nil
		}
	case names.SpecTypeTest:
		spec.Test = new(models.TestDef)
		if json.Unmarshal(d.Model, spec.Test) != nil {
			return nil
		}
	}
	return spec.ReadsFrom()
}

func publicationDetail(d models.DraftSpec) string {
	if d.Detail != "" {
		return d.Detail
	}
	if d.Delete {
		return "deleted"
	}
	if d.IsTouch {
		return "touch"
	}
	return "published"
}
