package publication

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/estuary/agent/internal/authz"
	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/snapshot"
	"github.com/estuary/agent/internal/store"
	"github.com/estuary/agent/internal/validator"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct{}

func (fakeCapture) ValidateCapture(ctx context.Context, req validator.ValidateRequest) (validator.ValidateResponse, error) {
	var resp validator.ValidateResponse
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, validator.BindingResponse{ResourcePath: []string{"table"}})
	}
	return resp, nil
}
func (fakeCapture) Discover(ctx context.Context, cfg models.EndpointDef) ([]models.CaptureBinding, error) {
	return nil, nil
}

type fakeMaterialize struct{}

func (fakeMaterialize) ValidateMaterialize(ctx context.Context, req validator.ValidateRequest) (validator.ValidateResponse, error) {
	var resp validator.ValidateResponse
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, validator.BindingResponse{ResourcePath: []string{"table"}})
	}
	return resp, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.PutMapping(context.Background(), models.StorageMapping{
		CatalogPrefix: "cats/", Stores: []models.StorageStore{{Provider: "s3", Bucket: "cats"}},
	}))

	var snap = snapshot.New(time.Now(), nil, nil, nil, nil)
	var cache = snapshot.NewCache(snap)

	return NewEngine(st, cache, validator.Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}}), st
}

func TestPublishHappyPath(t *testing.T) {
	var ctx = context.Background()
	var engine, st = newTestEngine(t)

	collection, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	capture, _ := json.Marshal(models.CaptureDef{Bindings: []models.CaptureBinding{
		{Target: "cats/noms", ResourceConfig: []byte(`{}`)},
	}})

	var drafts = []models.DraftSpec{
		{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection},
		{CatalogName: "cats/capture", SpecType: names.SpecTypeCapture, Model: capture},
	}

	outcome, err := engine.Publish(ctx, drafts, Opts{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, outcome.Status)
	require.NotZero(t, outcome.PubID)
	require.Len(t, outcome.Built, 2)

	live, err := st.GetLiveSpec(ctx, "cats/noms")
	require.NoError(t, err)
	require.Equal(t, outcome.PubID, live.LastPubID)
}

func TestPublishExpectPubIdMismatchIsRejected(t *testing.T) {
	var ctx = context.Background()
	var engine, _ = newTestEngine(t)

	collection, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var drafts = []models.DraftSpec{
		{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection,
			ExpectPubID: models.ExpectPubID{Value: 99, Set: true}},
	}

	outcome, err := engine.Publish(ctx, drafts, Opts{UserID: "alice"})
	require.Error(t, err)
	require.Equal(t, StatusFailed, outcome.Status)
	require.NotEmpty(t, outcome.Errors)
}

func TestPublishDryRunDoesNotMutateLiveSpecs(t *testing.T) {
	var ctx = context.Background()
	var engine, st = newTestEngine(t)

	collection, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var drafts = []models.DraftSpec{
		{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection},
	}

	outcome, err := engine.Publish(ctx, drafts, Opts{UserID: "alice", DryRun: true})
	require.NoError(t, err)
	require.Equal(t, StatusDryRun, outcome.Status)
	require.Len(t, outcome.Built, 1)

	live, err := st.GetLiveSpec(ctx, "cats/noms")
	require.NoError(t, err)
	require.Nil(t, live)
}

// TestTouchOnlyAdvancesLastBuildID reproduces §8 "Idempotence of touch":
// a touch publication leaves last_pub_id pointing at the publication
// that actually changed the model, advancing only last_build_id.
func TestTouchOnlyAdvancesLastBuildID(t *testing.T) {
	var ctx = context.Background()
	var engine, st = newTestEngine(t)

	collection, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var drafts = []models.DraftSpec{
		{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection},
	}
	first, err := engine.Publish(ctx, drafts, Opts{UserID: "alice"})
	require.NoError(t, err)

	var touch = []models.DraftSpec{
		{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection,
			ExpectPubID: models.ExpectPubID{Value: first.PubID, Set: true}, IsTouch: true},
	}
	second, err := engine.Publish(ctx, touch, Opts{UserID: "alice"})
	require.NoError(t, err)
	require.Greater(t, second.PubID, first.PubID)

	live, err := st.GetLiveSpec(ctx, "cats/noms")
	require.NoError(t, err)
	require.Equal(t, first.PubID, live.LastPubID)
	require.Equal(t, second.PubID, live.LastBuildID)
}

type recordingBuildsStore struct {
	pubID int64
	blob  []byte
}

func (r *recordingBuildsStore) Put(ctx context.Context, pubID int64, blob []byte) error {
	r.pubID, r.blob = pubID, blob
	return nil
}

// TestPersistsBuiltCatalogToBuildsStore reproduces §8 scenario 1: "three
// built specs persisted to the builds store under the publication id".
func TestPersistsBuiltCatalogToBuildsStore(t *testing.T) {
	var ctx = context.Background()
	var engine, _ = newTestEngine(t)
	var builds = &recordingBuildsStore{}
	engine.Builds = builds

	collection, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var drafts = []models.DraftSpec{
		{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection},
	}

	outcome, err := engine.Publish(ctx, drafts, Opts{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, outcome.PubID, builds.pubID)
	require.NotEmpty(t, builds.blob)

	var decoded []validator.BuiltSpec
	require.NoError(t, json.Unmarshal(builds.blob, &decoded))
	require.Len(t, decoded, 1)
}

func TestPublishRejectsWithoutAuthorization(t *testing.T) {
	var ctx = context.Background()
	var engine, _ = newTestEngine(t)

	collection, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var drafts = []models.DraftSpec{
		{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection},
	}

	outcome, err := engine.Publish(ctx, drafts, Opts{
		UserID: "alice", VerifyUserAuthz: true, Claim: authz.Claim{Subject: "alice"},
	})
	require.Error(t, err)
	require.Equal(t, StatusFailed, outcome.Status)
}
