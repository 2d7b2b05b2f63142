package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/publication"
)

// postPublicationsRequest is the body of POST /publications (§6).
type postPublicationsRequest struct {
	DraftID int64  `json:"draft_id"`
	DryRun  bool   `json:"dry_run"`
	Detail  string `json:"detail,omitempty"`
}

// postPublicationsResponse is the body returned from POST /publications
// (§6 "returns {publication_id, live, draft, errors[]}").
type postPublicationsResponse struct {
	PublicationID int64               `json:"publication_id"`
	Live          []models.LiveSpec   `json:"live,omitempty"`
	Draft         []models.DraftSpec  `json:"draft,omitempty"`
	Errors        []models.DraftError `json:"errors"`
}

// postPublications implements POST /publications (§6, §4.5): loads the
// named draft's rows and runs them through the publication engine.
func (h *Handler) postPublications(w http.ResponseWriter, r *http.Request) {
	var req postPublicationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request body: "+err.Error())
		return
	}

	drafts, err := h.Store.ListDraftSpecs(r.Context(), req.DraftID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if len(drafts) == 0 {
		writeError(w, http.StatusNotFound, "draft has no rows")
		return
	}

	var claim = claimFrom(r)
	outcome, err := h.Publish.Publish(r.Context(), drafts, publication.Opts{
		UserID:          claim.Claim.Subject,
		Claim:           claim.Claim,
		VerifyUserAuthz: true,
		DryRun:          req.DryRun,
	})

	var resp = postPublicationsResponse{
		PublicationID: outcome.PubID,
		Errors:        outcome.Errors,
	}
	if err != nil && outcome.Status == "" {
		writeAPIError(w, err)
		return
	}
	if outcome.Status == publication.StatusSuccess {
		var live []models.LiveSpec
		for _, d := range drafts {
			if ls, err := h.Store.GetLiveSpec(r.Context(), d.CatalogName); err == nil && ls != nil {
				live = append(live, *ls)
			}
		}
		resp.Live = live
		resp.Draft = drafts
	}
	writeJSON(w, http.StatusOK, resp)
}

// getPublicationResponse is the body returned from GET /publications/{id}
// (§6 "status").
type getPublicationResponse struct {
	PublicationID int64                     `json:"publication_id"`
	Status        string                    `json:"status"`
	CreatedAt     string                    `json:"created_at"`
	Specs         []models.PublicationSpec  `json:"specs,omitempty"`
}

// getPublication implements GET /publications/{id} (§6 "status").
func (h *Handler) getPublication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid publication id")
		return
	}

	rec, found, err := h.Store.GetPublication(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "publication not found")
		return
	}

	specs, err := h.Store.ListPublicationSpecs(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, getPublicationResponse{
		PublicationID: rec.ID,
		Status:        rec.Status,
		CreatedAt:     rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Specs:         specs,
	})
}
