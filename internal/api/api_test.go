package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/publication"
	"github.com/estuary/agent/internal/snapshot"
	"github.com/estuary/agent/internal/store"
	"github.com/estuary/agent/internal/validator"
)

var testSecret = []byte("test-secret")

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

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.PutMapping(context.Background(), models.StorageMapping{
		CatalogPrefix: "cats/", Stores: []models.StorageStore{{Provider: "s3", Bucket: "cats"}},
	}))

	snap, err := st.LoadSnapshot(context.Background())
	require.NoError(t, err)
	var snaps = snapshot.NewCache(snap)

	var publish = publication.NewEngine(st, snaps, validator.Drivers{Capture: fakeCapture{}, Materialize: fakeMaterialize{}})
	return &Handler{Store: st, Publish: publish, Snaps: snaps, TokenSecret: testSecret}, st
}

func bearerToken(t *testing.T, subject, role string) string {
	t.Helper()
	var claims = jwt.MapClaims{"sub": subject, "role": role}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, mux http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	var req = httptest.NewRequest(method, path, reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	var rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// TestDraftCRUDRoundTrip exercises POST /drafts, PATCH /drafts/{id}, and
// DELETE /drafts/{id}.
func TestDraftCRUDRoundTrip(t *testing.T) {
	var h, _ = newTestHandler(t)
	var mux = h.Mux()
	var token = bearerToken(t, "user-1", "user")

	var rec = doRequest(t, mux, "POST", "/drafts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		DraftID int64 `json:"draftId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.DraftID)

	var model, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	rec = doRequest(t, mux, "PATCH", draftPath(created.DraftID), token, patchDraftRequest{
		CatalogName: "cats/noms",
		SpecType:    names.SpecTypeCollection,
		Model:       model,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, mux, "DELETE", draftPath(created.DraftID), token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func draftPath(draftID int64) string {
	return "/drafts/" + strconv.FormatInt(draftID, 10)
}

func publicationPath(pubID int64) string {
	return "/publications/" + strconv.FormatInt(pubID, 10)
}

// TestPublishAndFetchHappyPath reproduces §8 scenario 1 at the HTTP
// layer: a user holding admin on cats/ drafts a Collection, publishes,
// and can then fetch the publication's status.
func TestPublishAndFetchHappyPath(t *testing.T) {
	var h, st = newTestHandler(t)
	require.NoError(t, st.InsertUserGrant(context.Background(), "user-1", "cats/", "admin"))

	snap, err := st.LoadSnapshot(context.Background())
	require.NoError(t, err)
	h.Snaps.Replace(snap)

	var mux = h.Mux()
	var token = bearerToken(t, "user-1", "user")

	var rec = doRequest(t, mux, "POST", "/drafts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		DraftID int64 `json:"draftId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	var collectionModel, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	rec = doRequest(t, mux, "PATCH", draftPath(created.DraftID), token, patchDraftRequest{
		CatalogName: "cats/noms",
		SpecType:    names.SpecTypeCollection,
		Model:       collectionModel,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, mux, "POST", "/publications", token, postPublicationsRequest{DraftID: created.DraftID})
	require.Equal(t, http.StatusOK, rec.Code)
	var pubResp postPublicationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pubResp))
	require.Empty(t, pubResp.Errors)
	require.NotZero(t, pubResp.PublicationID)

	rec = doRequest(t, mux, "GET", publicationPath(pubResp.PublicationID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var getResp getPublicationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &getResp))
	require.Equal(t, "success", getResp.Status)
}

// TestPublishDeniedWithoutGrant reproduces §8's cross-tenant
// authorization scenario: a user with no grant on dogs/ is refused.
func TestPublishDeniedWithoutGrant(t *testing.T) {
	var h, st = newTestHandler(t)
	require.NoError(t, st.PutMapping(context.Background(), models.StorageMapping{
		CatalogPrefix: "dogs/", Stores: []models.StorageStore{{Provider: "s3", Bucket: "dogs"}},
	}))

	var mux = h.Mux()
	var token = bearerToken(t, "intruder", "user")

	var rec = doRequest(t, mux, "POST", "/drafts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		DraftID int64 `json:"draftId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	var collectionModel, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	rec = doRequest(t, mux, "PATCH", draftPath(created.DraftID), token, patchDraftRequest{
		CatalogName: "dogs/noms",
		SpecType:    names.SpecTypeCollection,
		Model:       collectionModel,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, mux, "POST", "/publications", token, postPublicationsRequest{DraftID: created.DraftID})
	require.Equal(t, http.StatusOK, rec.Code)
	var pubResp postPublicationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pubResp))
	require.NotEmpty(t, pubResp.Errors)
}

// TestLiveSpecsListing confirms GET /live_specs returns a published
// collection.
func TestLiveSpecsListing(t *testing.T) {
	var h, st = newTestHandler(t)
	require.NoError(t, st.InsertUserGrant(context.Background(), "user-1", "cats/", "admin"))
	snap, err := st.LoadSnapshot(context.Background())
	require.NoError(t, err)
	h.Snaps.Replace(snap)

	var mux = h.Mux()
	var token = bearerToken(t, "user-1", "user")

	rec := doRequest(t, mux, "POST", "/drafts", token, nil)
	var created struct {
		DraftID int64 `json:"draftId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	var collectionModel, _ = json.Marshal(models.CollectionDef{Key: []names.JSONPointer{"/id"}})
	rec = doRequest(t, mux, "PATCH", draftPath(created.DraftID), token, patchDraftRequest{
		CatalogName: "cats/noms",
		SpecType:    names.SpecTypeCollection,
		Model:       collectionModel,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, mux, "POST", "/publications", token, postPublicationsRequest{DraftID: created.DraftID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mux, "GET", "/live_specs?prefix=cats/&type=collection", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp getLiveSpecsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.LiveSpecs, 1)
	require.Equal(t, names.Catalog("cats/noms"), listResp.LiveSpecs[0].CatalogName)
}

// TestDataPlanesRequiresAdminRole confirms POST /data_planes 403s for a
// non-admin bearer and succeeds for an admin.
func TestDataPlanesRequiresAdminRole(t *testing.T) {
	var h, st = newTestHandler(t)
	require.NoError(t, st.PutMapping(context.Background(), models.StorageMapping{
		CatalogPrefix: "ops/", Stores: []models.StorageStore{{Provider: "s3", Bucket: "ops"}},
	}))
	var mux = h.Mux()

	var userToken = bearerToken(t, "user-1", "user")
	var rec = doRequest(t, mux, "POST", "/data_planes", userToken, postDataPlanesRequest{
		DataPlaneName: "gcp-us", DataPlaneFQDN: "gcp-us.dp.estuary.example",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var adminToken = bearerToken(t, "admin-1", "admin")
	rec = doRequest(t, mux, "POST", "/data_planes", adminToken, postDataPlanesRequest{
		DataPlaneName: "gcp-us", DataPlaneFQDN: "gcp-us.dp.estuary.example",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestControllerStatusNotFoundForUnknownSpec confirms GET
// /controllers/{name} 404s when no live spec exists.
func TestControllerStatusNotFoundForUnknownSpec(t *testing.T) {
	var h, _ = newTestHandler(t)
	var mux = h.Mux()
	var token = bearerToken(t, "user-1", "user")

	var rec = doRequest(t, mux, "GET", "/controllers/cats/nope", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
