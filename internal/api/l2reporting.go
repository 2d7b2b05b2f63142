package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"text/template"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/publication"
)

// l2MethodTemplate generates one TypeScript derivation method literal per
// data plane, grounded on update_l2_reporting.rs's hand-built
// l2_stats_module string (there built with format!, here with
// text/template for the same effect). A disabled data plane's method is
// still emitted but commented out, matching the original's "enable_l2 ==
// false" handling.
var l2MethodTemplate = template.Must(template.New("l2method").Parse(
	`{{if not .Enabled}}
/*{{end}}
    {{.MethodName}}(read: { doc: Types.{{.TypeName}}}): Types.Document[] {
        return [read.doc]
    }{{if not .Enabled}}
*/{{end}}`))

type l2MethodData struct {
	Enabled    bool
	MethodName string
	TypeName   string
}

var nonIdentifierRe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// camelCase mirrors update_l2_reporting.rs's camel_case helper: splits on
// non-identifier characters and joins, optionally upper-casing the first
// segment too (used for the TypeScript type name vs. the method name).
func camelCase(s string, upperFirst bool) string {
	var parts = nonIdentifierRe.Split(s, -1)
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 && !upperFirst {
			b.WriteString(strings.ToLower(p[:1]) + p[1:])
		} else {
			b.WriteString(strings.ToUpper(p[:1]) + p[1:])
		}
	}
	return b.String()
}

// buildL2StatsModule assembles the complete TypeScript derivation module
// source for the L2 catalog-stats collection, one method per data plane
// in dataPlanes.
func buildL2StatsModule(dataPlanes []models.DataPlane) (string, error) {
	var b strings.Builder
	b.WriteString("import * as Types from 'flow/ops.us-central1.v1/catalog-stats-L2.ts';\n\nexport class Derivation extends Types.IDerivation {")

	for _, dp := range dataPlanes {
		var transformName = dp.DataPlaneName + "-l2-stats"
		var data = l2MethodData{
			Enabled:    dp.EnableL2,
			MethodName: camelCase(transformName, false),
			TypeName:   "Source" + camelCase(transformName, true),
		}
		if err := l2MethodTemplate.Execute(&b, data); err != nil {
			return "", err
		}
	}
	b.WriteString("\n}\n")
	return b.String(), nil
}

type postUpdateL2ReportingRequest struct {
	DefaultDataPlane string `json:"defaultDataPlane,omitempty"`
	DryRun           bool   `json:"dryRun"`
}

type postUpdateL2ReportingResponse struct {
	Module        string              `json:"module"`
	PublicationID int64               `json:"publication_id,omitempty"`
	Errors        []models.DraftError `json:"errors,omitempty"`
}

// postUpdateL2Reporting implements POST /update_l2_reporting: regenerates
// the L2 catalog-stats derivation's TypeScript module, emitting one
// method per data plane, and publishes the update (or just returns the
// generated module for a dry run).
func (h *Handler) postUpdateL2Reporting(w http.ResponseWriter, r *http.Request) {
	var req postUpdateL2ReportingRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	dataPlanes, err := h.Store.ListDataPlanes(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}

	module, err := buildL2StatsModule(dataPlanes)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, postUpdateL2ReportingResponse{Module: module})
		return
	}

	var model, _ = json.Marshal(models.CollectionDef{
		Key:         []names.JSONPointer{"/dataPlaneName"},
		WriteSchema: json.RawMessage(`{"type":"object"}`),
		Derive: &models.DeriveDef{
			Using: models.DeriveUsing{
				Typescript: &struct {
					Module json.RawMessage `json:"module,omitempty"`
				}{Module: mustMarshalString(module)},
			},
		},
	})

	var claim = claimFrom(r)
	outcome, err := h.Publish.Publish(r.Context(), []models.DraftSpec{{
		CatalogName: "ops.us-central1.v1/catalog-stats-L2",
		SpecType:    names.SpecTypeCollection,
		Model:       model,
		IsTouch:     true,
	}}, publication.Opts{UserID: claim.Claim.Subject})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, postUpdateL2ReportingResponse{
		Module:        module,
		PublicationID: outcome.PubID,
		Errors:        outcome.Errors,
	})
}

func mustMarshalString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
