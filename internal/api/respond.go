package api

import (
	"encoding/json"
	"net/http"

	"github.com/estuary/agent/internal/apierrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeAPIError classifies an apierrors.Error (or a plain error) to an
// HTTP status code per §7's taxonomy.
func writeAPIError(w http.ResponseWriter, err error) {
	if ae, ok := err.(*apierrors.Error); ok {
		switch ae.Kind {
		case apierrors.KindInvalidArgument, apierrors.KindConnectorReturned:
			writeError(w, http.StatusBadRequest, ae.Error())
			return
		case apierrors.KindNotFound:
			writeError(w, http.StatusNotFound, ae.Error())
			return
		case apierrors.KindPermissionDenied:
			writeError(w, http.StatusForbidden, ae.Error())
			return
		case apierrors.KindConflict:
			writeError(w, http.StatusConflict, ae.Error())
			return
		default:
			writeError(w, http.StatusInternalServerError, ae.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
