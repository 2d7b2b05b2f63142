package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// postDrafts implements POST /drafts (§6 "draft CRUD"): allocates a new
// draft id and returns it, with no rows yet.
func (h *Handler) postDrafts(w http.ResponseWriter, r *http.Request) {
	draftID, err := h.Store.NextDraftID(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		DraftID int64 `json:"draftId"`
	}{draftID})
}

// patchDraftRequest is the body of PATCH /drafts/{id}: one draft_specs
// row to upsert.
type patchDraftRequest struct {
	CatalogName names.Catalog     `json:"catalogName"`
	SpecType    names.SpecType    `json:"specType"`
	Model       json.RawMessage   `json:"model,omitempty"`
	ExpectPubID *int64            `json:"expectPubId,omitempty"`
	IsTouch     bool              `json:"isTouch,omitempty"`
	Delete      bool              `json:"delete,omitempty"`
	Reset       bool              `json:"reset,omitempty"`
}

// patchDraft implements PATCH /drafts/{id} (§6 "draft CRUD"): upserts one
// draft_specs row.
func (h *Handler) patchDraft(w http.ResponseWriter, r *http.Request) {
	draftID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid draft id")
		return
	}

	var req patchDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request body: "+err.Error())
		return
	}
	if err := req.CatalogName.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var expect models.ExpectPubID
	if req.ExpectPubID != nil {
		expect = models.ExpectPubID{Value: *req.ExpectPubID, Set: true}
	}

	err = h.Store.UpsertDraftSpec(r.Context(), models.DraftSpec{
		DraftID:     draftID,
		CatalogName: req.CatalogName,
		SpecType:    req.SpecType,
		Model:       req.Model,
		ExpectPubID: expect,
		IsTouch:     req.IsTouch,
		Delete:      req.Delete,
		Reset:       req.Reset,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteDraft implements DELETE /drafts/{id} (§6 "draft CRUD").
func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	draftID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid draft id")
		return
	}
	if err := h.Store.DeleteDraft(r.Context(), draftID); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
