package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDraftLifecycle(t *testing.T) {
	var ctx = context.Background()
	var s = openTestStore(t)

	id, err := s.NextDraftID(ctx)
	require.NoError(t, err)
	require.NotZero(t, id)

	err = s.UpsertDraftSpec(ctx, models.DraftSpec{
		DraftID:     id,
		CatalogName: "acmeCo/cats",
		SpecType:    names.SpecTypeCollection,
		Model:       json.RawMessage(`{"schema":{}}`),
	})
	require.NoError(t, err)

	specs, err := s.ListDraftSpecs(ctx, id)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, names.Catalog("acmeCo/cats"), specs[0].CatalogName)

	require.NoError(t, s.DeleteDraft(ctx, id))
	specs, err = s.ListDraftSpecs(ctx, id)
	require.NoError(t, err)
	require.Empty(t, specs)
}

func TestPublicationCommitAndClaim(t *testing.T) {
	var ctx = context.Background()
	var s = openTestStore(t)

	tx, err := s.BeginPublication(ctx)
	require.NoError(t, err)

	pubID, err := tx.NextPublicationID(ctx, "queued")
	require.NoError(t, err)
	require.NotZero(t, pubID)

	liveID, err := tx.UpsertLiveSpec(ctx, models.LiveSpec{
		CatalogName: "acmeCo/cats",
		SpecType:    names.SpecTypeCollection,
		Model:       json.RawMessage(`{}`),
		LastPubID:   pubID,
		LastBuildID: 1,
	})
	require.NoError(t, err)
	require.NoError(t, tx.EnsureController(ctx, liveID))
	require.NoError(t, tx.AppendPublicationHistory(ctx, liveID, pubID, "alice", []byte(`{}`), "created"))
	require.NoError(t, tx.Commit())

	got, err := s.GetLiveSpec(ctx, "acmeCo/cats")
	require.NoError(t, err)
	require.Equal(t, pubID, got.LastPubID)

	status, liveSpecID, err := s.ClaimRunnableController(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, liveID, liveSpecID)

	// A second claim attempt must find nothing runnable: the row is
	// leased to owner-1 until released.
	status2, _, err := s.ClaimRunnableController(ctx, "owner-2")
	require.NoError(t, err)
	require.Nil(t, status2)

	require.NoError(t, s.ReleaseController(ctx, liveSpecID, json.RawMessage(`{"ok":true}`), nil, "", 0))
	reloaded, err := s.GetControllerStatus(ctx, liveSpecID)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(reloaded.CurrentStatus))
}

func TestStorageMappingDataPlaneFanout(t *testing.T) {
	var ctx = context.Background()
	var s = openTestStore(t)

	require.NoError(t, s.PutMapping(ctx, models.StorageMapping{
		CatalogPrefix: "acmeCo/",
		Stores:        []models.StorageStore{{Provider: "S3", Bucket: "b"}},
	}))
	require.NoError(t, s.PutMapping(ctx, models.StorageMapping{
		CatalogPrefix: "recovery/acmeCo/",
		Stores:        []models.StorageStore{{Provider: "S3", Bucket: "b"}},
	}))

	require.NoError(t, s.AddDataPlaneToTenantMappings(ctx, "acmeCo/", "new-plane.example.com"))

	mappings, err := s.ListMappings(ctx)
	require.NoError(t, err)
	for _, m := range mappings {
		if m.CatalogPrefix == "recovery/acmeCo/" {
			require.Empty(t, m.DataPlanes, "recovery mappings must not be retargeted")
		} else if m.CatalogPrefix == "acmeCo/" {
			require.Equal(t, []string{"new-plane.example.com"}, m.DataPlanes)
		}
	}
}

func TestLoadSnapshotIndexesCollectionsAndTasks(t *testing.T) {
	var ctx = context.Background()
	var s = openTestStore(t)

	tx, err := s.BeginPublication(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertLiveSpec(ctx, models.LiveSpec{
		CatalogName: "acmeCo/cats", SpecType: names.SpecTypeCollection, Model: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	_, err = tx.UpsertLiveSpec(ctx, models.LiveSpec{
		CatalogName: "acmeCo/capture", SpecType: names.SpecTypeCapture, Model: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, s.InsertRoleGrant(ctx, "dogs/", "cats/", "read"))
	require.NoError(t, s.InsertUserGrant(ctx, "alice", "acmeCo/", "admin"))

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)

	col, ok := snap.CollectionByName("acmeCo/cats")
	require.True(t, ok)
	require.Equal(t, names.Catalog("acmeCo/cats"), col.CollectionName)

	task, ok := snap.TaskByName("acmeCo/capture")
	require.True(t, ok)
	require.Equal(t, names.SpecTypeCapture, task.SpecType)

	require.Len(t, snap.RoleGrants, 1)
	require.Len(t, snap.UserGrants, 1)
}
