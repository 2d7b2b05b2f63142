package api

import (
	"encoding/json"
	"net/http"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/publication"
	"github.com/estuary/agent/internal/storagemapping"
)

// postDataPlanesRequest is the body of POST /data_planes (§6 "admin-only;
// installs data-plane rows and runs an initial ops-catalog publication").
// TenantPrefix is set only for a private data plane, scoping which
// storage mappings get the new data plane appended to their permitted
// list (§4.2 "On private data-plane creation").
type postDataPlanesRequest struct {
	DataPlaneName  string        `json:"dataPlaneName"`
	DataPlaneFQDN  string        `json:"dataPlaneFqdn"`
	BrokerAddress  string        `json:"brokerAddress"`
	ReactorAddress string        `json:"reactorAddress"`
	HMACKeys       []string      `json:"hmacKeys"`
	TenantPrefix   names.Prefix  `json:"tenantPrefix,omitempty"`
}

// postDataPlanes implements POST /data_planes: it installs the
// data_planes row, wires the storage-mapping fanout for a private data
// plane, then publishes the two ops-catalog collections (logs and stats)
// every data plane reports into, so its ops/ namespace exists from the
// moment it's usable.
func (h *Handler) postDataPlanes(w http.ResponseWriter, r *http.Request) {
	var req postDataPlanesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request body: "+err.Error())
		return
	}
	if req.DataPlaneFQDN == "" {
		writeError(w, http.StatusBadRequest, "missing dataPlaneFqdn")
		return
	}

	var dp = models.DataPlane{
		DataPlaneName:  req.DataPlaneName,
		DataPlaneFQDN:  req.DataPlaneFQDN,
		BrokerAddress:  req.BrokerAddress,
		ReactorAddress: req.ReactorAddress,
		HMACKeys:       req.HMACKeys,
		OpsLogsName:    "ops/" + req.DataPlaneFQDN + "/logs",
		OpsStatsName:   "ops/" + req.DataPlaneFQDN + "/stats",
	}
	if _, err := h.Store.PutDataPlane(r.Context(), dp); err != nil {
		writeAPIError(w, err)
		return
	}

	if req.TenantPrefix != "" {
		if err := storagemapping.OnDataPlaneCreated(r.Context(), h.Store, req.TenantPrefix, req.DataPlaneFQDN); err != nil {
			writeAPIError(w, err)
			return
		}
	}

	var opsDrafts = []models.DraftSpec{
		opsCollectionDraft(dp.OpsLogsName),
		opsCollectionDraft(dp.OpsStatsName),
	}
	outcome, err := h.Publish.Publish(r.Context(), opsDrafts, publication.Opts{
		UserID: "system",
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		DataPlaneFQDN string              `json:"dataPlaneFqdn"`
		PublicationID int64               `json:"publication_id"`
		Errors        []models.DraftError `json:"errors"`
	}{
		DataPlaneFQDN: dp.DataPlaneFQDN,
		PublicationID: outcome.PubID,
		Errors:        outcome.Errors,
	})
}

// opsCollectionDraft builds the minimal Collection model for one of a
// data plane's two ops-catalog collections (logs, stats): a schema-less
// collection keyed by shard, since the ops documents' shape is supplied
// entirely by the runtime and out of this core's scope (§1 Non-goals:
// "the streaming runtime itself").
func opsCollectionDraft(name string) models.DraftSpec {
	var model, _ = json.Marshal(models.CollectionDef{
		Key:         []names.JSONPointer{"/shard/name"},
		WriteSchema: json.RawMessage(`{"type":"object"}`),
	})
	return models.DraftSpec{
		CatalogName: names.Catalog(name),
		SpecType:    names.SpecTypeCollection,
		Model:       model,
		IsTouch:     true,
	}
}
