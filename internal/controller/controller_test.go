package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/publication"
	"github.com/estuary/agent/internal/snapshot"
	"github.com/estuary/agent/internal/store"
	"github.com/estuary/agent/internal/validator"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct{ discovered []models.CaptureBinding }

func (f fakeCapture) ValidateCapture(ctx context.Context, req validator.ValidateRequest) (validator.ValidateResponse, error) {
	var resp validator.ValidateResponse
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, validator.BindingResponse{ResourcePath: []string{"table"}})
	}
	return resp, nil
}
func (f fakeCapture) Discover(ctx context.Context, endpoint models.EndpointDef) ([]models.CaptureBinding, error) {
	return f.discovered, nil
}

type fakeMaterialize struct{}

func (fakeMaterialize) ValidateMaterialize(ctx context.Context, req validator.ValidateRequest) (validator.ValidateResponse, error) {
	var resp validator.ValidateResponse
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, validator.BindingResponse{ResourcePath: []string{"table"}})
	}
	return resp, nil
}

type fakeInferredSchemas struct {
	schema json.RawMessage
	md5    string
	found  bool
}

func (f fakeInferredSchemas) GetInferredSchema(ctx context.Context, collection string) (json.RawMessage, string, bool, error) {
	return f.schema, f.md5, f.found, nil
}

func newTestStoreAndEngine(t *testing.T, discovery DiscoverySource, inferences InferredSchemaSource) (*store.Store, *Engine) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.PutMapping(context.Background(), models.StorageMapping{
		CatalogPrefix: "cats/", Stores: []models.StorageStore{{Provider: "s3", Bucket: "cats"}},
	}))

	var snap = snapshot.New(time.Now(), nil, nil, nil, nil)
	var cache = snapshot.NewCache(snap)
	var pub = publication.NewEngine(st, cache, validator.Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}})

	return st, &Engine{Store: st, Publish: pub, OwnerID: "test-owner", Discovery: discovery, Inferences: inferences}
}

func publishAndClaim(t *testing.T, st *store.Store, pub *publication.Engine, draft models.DraftSpec) int64 {
	t.Helper()
	ctx := context.Background()
	outcome, err := pub.Publish(ctx, []models.DraftSpec{draft}, publication.Opts{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, publication.StatusSuccess, outcome.Status)

	live, err := st.GetLiveSpec(ctx, draft.CatalogName)
	require.NoError(t, err)
	require.NotNil(t, live)
	return live.ID
}

func TestCaptureControllerDiscoversNewBindings(t *testing.T) {
	var ctx = context.Background()
	var discovered = []models.CaptureBinding{
		{Target: "cats/existing", ResourceConfig: []byte(`{}`)},
		{Target: "cats/newone", ResourceConfig: []byte(`{}`)},
	}
	st, e := newTestStoreAndEngine(t, fakeCapture{discovered: discovered}, nil)

	capture, _ := json.Marshal(models.CaptureDef{
		Endpoint: models.EndpointDef{},
		Bindings: []models.CaptureBinding{{Target: "cats/existing", ResourceConfig: []byte(`{}`)}},
		AutoDiscover: &models.AutoDiscover{AddNewBindings: true},
	})
	publishAndClaim(t, st, e.Publish, models.DraftSpec{CatalogName: "cats/capture", SpecType: names.SpecTypeCapture, Model: capture})

	ran, err := e.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	live, err := st.GetLiveSpec(ctx, "cats/capture")
	require.NoError(t, err)
	var got models.CaptureDef
	require.NoError(t, json.Unmarshal(live.Model, &got))
	require.Len(t, got.Bindings, 2)

	status, err := st.GetControllerStatus(ctx, live.ID)
	require.NoError(t, err)
	var cs CaptureStatus
	require.NoError(t, json.Unmarshal(status.CurrentStatus, &cs))
	require.False(t, cs.LastDiscover.IsZero())
}

func TestCollectionControllerAppliesInferredSchema(t *testing.T) {
	var ctx = context.Background()
	var inferred = json.RawMessage(`{"type":"object","properties":{"extra":{"type":"string"}}}`)
	st, e := newTestStoreAndEngine(t, nil, fakeInferredSchemas{schema: inferred, md5: "abc123", found: true})

	collection, _ := json.Marshal(models.CollectionDef{
		Key:        []names.JSONPointer{"/id"},
		ReadSchema: json.RawMessage(`{"allOf":["flow://inferred-schema"]}`),
	})
	publishAndClaim(t, st, e.Publish, models.DraftSpec{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection})

	ran, err := e.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	live, err := st.GetLiveSpec(ctx, "cats/noms")
	require.NoError(t, err)
	var got models.CollectionDef
	require.NoError(t, json.Unmarshal(live.Model, &got))
	require.Contains(t, string(got.ReadSchema), "extra")

	status, err := st.GetControllerStatus(ctx, live.ID)
	require.NoError(t, err)
	var cs CollectionStatus
	require.NoError(t, json.Unmarshal(status.CurrentStatus, &cs))
	require.Equal(t, "abc123", cs.SchemaMD5)

	specs, err := st.ListPublicationSpecs(ctx, live.LastBuildID)
	require.NoError(t, err)
	require.NotEmpty(t, specs)
	require.Equal(t, "updating inferred schema", specs[0].Detail)
}

// TestCollectionControllerIgnoresReadSchemaWithoutInferredRef reproduces
// scenario 4's negative case: a read schema that doesn't reference
// flow://inferred-schema must not trigger inferred-schema republication.
func TestCollectionControllerIgnoresReadSchemaWithoutInferredRef(t *testing.T) {
	var ctx = context.Background()
	var inferred = json.RawMessage(`{"type":"object","properties":{"extra":{"type":"string"}}}`)
	st, e := newTestStoreAndEngine(t, nil, fakeInferredSchemas{schema: inferred, md5: "abc123", found: true})

	collection, _ := json.Marshal(models.CollectionDef{
		Key:        []names.JSONPointer{"/id"},
		ReadSchema: json.RawMessage(`{"type":"object"}`),
	})
	publishAndClaim(t, st, e.Publish, models.DraftSpec{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection})

	ran, err := e.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	live, err := st.GetLiveSpec(ctx, "cats/noms")
	require.NoError(t, err)
	var got models.CollectionDef
	require.NoError(t, json.Unmarshal(live.Model, &got))
	require.NotContains(t, string(got.ReadSchema), "extra")
}

func TestMaterializationControllerPropagatesBackfillOnReset(t *testing.T) {
	var ctx = context.Background()
	st, e := newTestStoreAndEngine(t, nil, nil)

	collection, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	publishAndClaim(t, st, e.Publish, models.DraftSpec{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection})

	materialization, _ := json.Marshal(models.MaterializationDef{
		Bindings: []models.MaterializeBinding{
			{Source: "cats/noms", ResourceConfig: []byte(`{}`), OnIncompatibleSchemaChange: models.OnIncompatibleBackfill},
		},
	})
	publishAndClaim(t, st, e.Publish, models.DraftSpec{CatalogName: "cats/mat", SpecType: names.SpecTypeMaterialization, Model: materialization})

	matLive, err := st.GetLiveSpec(ctx, "cats/mat")
	require.NoError(t, err)

	// First reconcile only records the source's current generation.
	statusDoc, _, err := MaterializationController{}.Reconcile(ctx, e, *matLive, json.RawMessage(`{}`))
	require.NoError(t, err)

	// Reset the source collection, advancing its LastPubID.
	collection2, _ := json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}, Schema: json.RawMessage(`{}`)})
	nomsLive, err := st.GetLiveSpec(ctx, "cats/noms")
	require.NoError(t, err)
	_, err = e.Publish.Publish(ctx, []models.DraftSpec{{
		CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection2,
		ExpectPubID: models.ExpectPubID{Value: nomsLive.LastPubID, Set: true}, Reset: true,
	}}, publication.Opts{UserID: "alice"})
	require.NoError(t, err)

	matLive, err = st.GetLiveSpec(ctx, "cats/mat")
	require.NoError(t, err)
	_, _, err = MaterializationController{}.Reconcile(ctx, e, *matLive, statusDoc)
	require.NoError(t, err)

	matLive, err = st.GetLiveSpec(ctx, "cats/mat")
	require.NoError(t, err)
	var got models.MaterializationDef
	require.NoError(t, json.Unmarshal(matLive.Model, &got))
	require.Equal(t, 1, got.Bindings[0].Backfill)
}

// TestBackoffFormula reproduces §4.6 step 4's
// `min(failure_count, 5) * 60s + random(1..backoff_secs) s` schedule.
func TestBackoffFormula(t *testing.T) {
	for _, failureCount := range []int{0, 1, 3, 5, 9} {
		var capped = failureCount
		if capped < 1 {
			capped = 1
		} else if capped > 5 {
			capped = 5
		}
		var base = time.Duration(capped*60) * time.Second

		for i := 0; i < 20; i++ {
			var d = backoff(failureCount)
			require.Greater(t, d, base)
			require.LessOrEqual(t, d, base+time.Duration(capped*60)*time.Second)
		}
	}
}
