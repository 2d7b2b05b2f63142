package validator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/storagemapping"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct{}

func (fakeCapture) ValidateCapture(ctx context.Context, req ValidateRequest) (ValidateResponse, error) {
	var resp ValidateResponse
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, BindingResponse{ResourcePath: []string{"table"}})
	}
	return resp, nil
}
func (fakeCapture) Discover(ctx context.Context, cfg models.EndpointDef) ([]models.CaptureBinding, error) {
	return nil, nil
}

type fakeMaterialize struct{}

func (fakeMaterialize) ValidateMaterialize(ctx context.Context, req ValidateRequest) (ValidateResponse, error) {
	var resp ValidateResponse
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, BindingResponse{ResourcePath: []string{"table"}})
	}
	return resp, nil
}

// fakeDerive records the collection it was asked to validate so tests can
// confirm dispatch actually happened.
type fakeDerive struct {
	called *[]names.Catalog
}

func (f fakeDerive) ValidateDerive(ctx context.Context, collection names.Catalog, def models.DeriveDef) (ValidateResponse, error) {
	if f.called != nil {
		*f.called = append(*f.called, collection)
	}
	return ValidateResponse{}, nil
}

func storageTable() *storagemapping.Table {
	return storagemapping.NewTable([]models.StorageMapping{
		{CatalogPrefix: "cats/", Stores: []models.StorageStore{{Provider: "s3", Bucket: "cats"}}},
	})
}

// TestHappyPathPublication reproduces §8 scenario 1: a Collection, a
// Capture bound to it, and a Materialization reading from it all
// validate and assemble cleanly, each with its journal or shard template.
func TestHappyPathPublication(t *testing.T) {
	var collection, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var capture, _ = json.Marshal(models.CaptureDef{Bindings: []models.CaptureBinding{{Target: "cats/noms", ResourceConfig: []byte(`{}`)}}})
	var materialize, _ = json.Marshal(models.MaterializationDef{Bindings: []models.MaterializeBinding{{Source: "cats/noms", ResourceConfig: []byte(`{}`)}}})

	var in = Input{
		Drafts: []models.DraftSpec{
			{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection},
			{CatalogName: "cats/capture", SpecType: names.SpecTypeCapture, Model: capture},
			{CatalogName: "cats/materialize", SpecType: names.SpecTypeMaterialization, Model: materialize},
		},
		Storage: storageTable(),
	}

	var result = Validate(context.Background(), in, Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}})
	require.Empty(t, result.Errors)
	require.Len(t, result.Built, 3)

	var byName = map[names.Catalog]BuiltSpec{}
	for _, b := range result.Built {
		byName[b.CatalogName] = b
	}
	require.NotNil(t, byName["cats/noms"].JournalTemplate)
	require.NotNil(t, byName["cats/capture"].ShardTemplate)
	require.NotNil(t, byName["cats/materialize"].ShardTemplate)
}

func TestDanglingReferenceIsNotFound(t *testing.T) {
	var materialize, _ = json.Marshal(models.MaterializationDef{Bindings: []models.MaterializeBinding{{Source: "cats/missing", ResourceConfig: []byte(`{}`)}}})
	var in = Input{
		Drafts: []models.DraftSpec{
			{CatalogName: "cats/materialize", SpecType: names.SpecTypeMaterialization, Model: materialize},
		},
		Storage: storageTable(),
	}
	var result = Validate(context.Background(), in, Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}})
	require.NotEmpty(t, result.Errors)
	require.Empty(t, result.Built)
}

// TestDeriveDispatchedForEmbeddedDerivation reproduces §4.4 step 5: a
// Collection carrying an embedded derivation goes through the derive
// connector seam, not just capture/materialize.
func TestDeriveDispatchedForEmbeddedDerivation(t *testing.T) {
	var derived, _ = json.Marshal(models.CollectionDef{
		Key: []names.JSONPointer{"/id"},
		Derive: &models.DeriveDef{
			Using: models.DeriveUsing{SQLite: &struct{}{}},
			Transforms: []models.TransformDef{
				{Name: "fromNoms", Source: "cats/noms", ShuffleKey: []names.JSONPointer{"/id"}},
			},
		},
	})
	var source, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})

	var in = Input{
		Drafts: []models.DraftSpec{
			{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: source},
			{CatalogName: "cats/derived", SpecType: names.SpecTypeCollection, Model: derived},
		},
		Storage: storageTable(),
	}

	var called []names.Catalog
	var result = Validate(context.Background(), in, Drivers{
		Capture: fakeCapture{}, Materialize: fakeMaterialize{}, Derive: fakeDerive{called: &called},
	})
	require.Empty(t, result.Errors)
	require.Equal(t, []names.Catalog{"cats/derived"}, called)
}

// TestDeterministicAssemblyOrder reproduces §4.4's determinism
// requirement: repeated Validate calls over identical inputs yield built
// specs in the same catalog-name order.
func TestDeterministicAssemblyOrder(t *testing.T) {
	var a, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var in = Input{
		Drafts: []models.DraftSpec{
			{CatalogName: "z/last", SpecType: names.SpecTypeCollection, Model: a},
			{CatalogName: "a/first", SpecType: names.SpecTypeCollection, Model: a},
		},
		Storage: storagemapping.NewTable([]models.StorageMapping{
			{CatalogPrefix: "", Stores: []models.StorageStore{{Provider: "s3", Bucket: "default"}}},
		}),
	}
	var r1 = Validate(context.Background(), in, Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}})
	var r2 = Validate(context.Background(), in, Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}})
	require.Equal(t, r1.Built[0].CatalogName, r2.Built[0].CatalogName)
	require.Equal(t, names.Catalog("a/first"), r1.Built[0].CatalogName)
	require.Equal(t, names.Catalog("z/last"), r1.Built[1].CatalogName)
}

// TestBuiltSpecSnapshot pins the shape of one fully-assembled BuiltSpec
// set against a golden fixture, so an unintended field rename or
// assembly-order change in a future edit shows up as a diff instead of
// silently shipping (§4.4 "assembly determinism").
func TestBuiltSpecSnapshot(t *testing.T) {
	var collection, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	var capture, _ = json.Marshal(models.CaptureDef{Bindings: []models.CaptureBinding{{Target: "cats/noms", ResourceConfig: []byte(`{}`)}}})

	var in = Input{
		Drafts: []models.DraftSpec{
			{CatalogName: "cats/noms", SpecType: names.SpecTypeCollection, Model: collection},
			{CatalogName: "cats/capture", SpecType: names.SpecTypeCapture, Model: capture},
		},
		Storage: storageTable(),
	}
	var result = Validate(context.Background(), in, Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}})
	require.Empty(t, result.Errors)
	cupaloy.SnapshotT(t, result.Built)
}
