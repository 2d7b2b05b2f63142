package api

import (
	"net/http"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// getLiveSpecsResponse matches internal/dekaf/apiclient.go's
// liveSpecResponse shape exactly: Dekaf is itself a client of this
// endpoint (§4.8).
type getLiveSpecsResponse struct {
	LiveSpecs []models.LiveSpec `json:"liveSpecs"`
}

// getLiveSpecs implements GET /live_specs?prefix=…&type=… (§6 "paginated
// listing"). Pagination itself is out of scope for this core (§1
// Non-goals: "HTTP/GraphQL transport details beyond the plain endpoints
// above"); every matching row is returned in one response.
func (h *Handler) getLiveSpecs(w http.ResponseWriter, r *http.Request) {
	var prefix = r.URL.Query().Get("prefix")
	var specType = names.SpecType(r.URL.Query().Get("type"))

	specs, err := h.Store.ListLiveSpecs(r.Context(), prefix, specType)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getLiveSpecsResponse{LiveSpecs: specs})
}

// getControllerResponse is the body returned from GET /controllers/{name}
// (§6 "Controllers expose their latest current_status and error").
type getControllerResponse struct {
	CatalogName  names.Catalog `json:"catalogName"`
	CurrentStatus any          `json:"currentStatus"`
	Error        string        `json:"error,omitempty"`
}

// getController implements GET /controllers/{name} (§6, §3 "Controller
// state").
func (h *Handler) getController(w http.ResponseWriter, r *http.Request) {
	var name = names.Catalog(r.PathValue("name"))

	live, err := h.Store.GetLiveSpec(r.Context(), name)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if live == nil {
		writeError(w, http.StatusNotFound, "no live spec named "+string(name))
		return
	}

	status, err := h.Store.GetControllerStatus(r.Context(), live.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "no controller row for "+string(name))
		return
	}

	writeJSON(w, http.StatusOK, getControllerResponse{
		CatalogName:   name,
		CurrentStatus: status.CurrentStatus,
		Error:         status.LastError,
	})
}
