// Package api implements the agent's HTTP surface (§6): plain net/http
// handlers registered on an http.ServeMux, following the teacher's own
// HTTP surfaces (go/flow-ingester, authn) rather than a heavier routing
// framework. Bearer-token parsing follows authn/.graveyard's
// cfgTokens.verifyToken, generalized to HS256 control-plane-issued
// tokens (mirroring internal/dekaf's TokenAuthenticator).
package api

import (
	"net/http"

	"github.com/estuary/agent/internal/ops"
	"github.com/estuary/agent/internal/publication"
	"github.com/estuary/agent/internal/snapshot"
	"github.com/estuary/agent/internal/store"
)

// Handler serves the agent's HTTP API against a Store, a publication
// Engine, and the authorization Snapshot cache.
type Handler struct {
	Store       *store.Store
	Publish     *publication.Engine
	Snaps       *snapshot.Cache
	TokenSecret []byte
	Logger      ops.Logger
}

// Mux builds an http.ServeMux with every endpoint of §6 registered,
// wrapped in bearer-authentication middleware.
func (h *Handler) Mux() *http.ServeMux {
	var mux = http.NewServeMux()

	mux.HandleFunc("POST /publications", h.withAuth(h.postPublications))
	mux.HandleFunc("POST /drafts", h.withAuth(h.postDrafts))
	mux.HandleFunc("PATCH /drafts/{id}", h.withAuth(h.patchDraft))
	mux.HandleFunc("DELETE /drafts/{id}", h.withAuth(h.deleteDraft))
	mux.HandleFunc("GET /live_specs", h.withAuth(h.getLiveSpecs))
	mux.HandleFunc("GET /publications/{id}", h.withAuth(h.getPublication))
	mux.HandleFunc("POST /data_planes", h.withAuth(h.requireAdmin(h.postDataPlanes)))
	mux.HandleFunc("POST /update_l2_reporting", h.withAuth(h.requireAdmin(h.postUpdateL2Reporting)))
	mux.HandleFunc("GET /controllers/{name...}", h.withAuth(h.getController))

	return mux
}
