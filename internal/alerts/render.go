package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmlTemplate "html/template"
	"sort"
	textTemplate "text/template"

	"github.com/estuary/agent/internal/models"
)

// NotificationEmail is a single rendered email, keyed by an idempotency
// key so the notifier can skip emails it has already sent (§4.7 "skip
// sending ones that we know have succeeded").
type NotificationEmail struct {
	IdempotencyKey string
	Recipient      string
	Subject        string
	Body           string
}

// AlertState is the template input: the alert row plus a decoded view of
// its JSON arguments, flattened for convenient template access.
type AlertState struct {
	CatalogName string
	AlertType   string
	Resolved    bool
	DashboardURL string
	Arguments   map[string]any
}

// firedSubjectTmpl and resolvedSubjectTmpl are plain text/template
// documents (no HTML escaping needed for a subject line).
var firedSubjectTmpl = textTemplate.Must(textTemplate.New("fired-subject").Parse(
	`Estuary Flow alert: {{.AlertType}} on {{.CatalogName}}`))
var resolvedSubjectTmpl = textTemplate.Must(textTemplate.New("resolved-subject").Parse(
	`Estuary Flow alert resolved: {{.AlertType}} on {{.CatalogName}}`))

// bodyTmpl renders the HTML email body; html/template auto-escapes
// interpolated alert arguments, which may carry user-controlled strings
// (connector error messages, catalog names).
var bodyTmpl = htmlTemplate.Must(htmlTemplate.New("body").Parse(`
<p>Task <strong>{{.CatalogName}}</strong> {{if .Resolved}}has recovered from{{else}}is experiencing{{end}} a {{.AlertType}} condition.</p>
{{range $k, $v := .Arguments}}<p>{{$k}}: {{$v}}</p>
{{end}}
<p><a href="{{.DashboardURL}}">View in the dashboard</a></p>
`))

// Renderer turns a fired or resolved alert into one or more
// NotificationEmails, one per recipient, sorted by idempotency key so the
// notifier can skip a deterministic prefix it has already sent.
//
// Stdlib html/template and text/template are used per SPEC_FULL.md §4.7:
// no templating library appears anywhere in the retrieved example pack.
type Renderer struct {
	DashboardBaseURL string
}

// NewRenderer constructs a Renderer rooted at dashboardBaseURL.
func NewRenderer(dashboardBaseURL string) *Renderer {
	return &Renderer{DashboardBaseURL: dashboardBaseURL}
}

// RenderEmails renders the notification set for one alert row, given its
// configured recipients (§4.7: in production these come from the
// catalog-name's tenant settings; tests pass them explicitly).
func (r *Renderer) RenderEmails(a models.AlertHistory, recipients []string) ([]NotificationEmail, error) {
	var resolved = a.ResolvedAt != nil
	var args = map[string]any{}
	var raw = a.Arguments
	if resolved && len(a.ResolvedArguments) > 0 {
		raw = a.ResolvedArguments
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding alert arguments: %w", err)
		}
	}

	var state = AlertState{
		CatalogName:  string(a.CatalogName),
		AlertType:    a.AlertType,
		Resolved:     resolved,
		DashboardURL: fmt.Sprintf("%s/catalog/%s", r.DashboardBaseURL, a.CatalogName),
		Arguments:    args,
	}

	var subjectTmpl = firedSubjectTmpl
	if resolved {
		subjectTmpl = resolvedSubjectTmpl
	}
	var subjectBuf, bodyBuf bytes.Buffer
	if err := subjectTmpl.Execute(&subjectBuf, state); err != nil {
		return nil, fmt.Errorf("rendering subject: %w", err)
	}
	if err := bodyTmpl.Execute(&bodyBuf, state); err != nil {
		return nil, fmt.Errorf("rendering body: %w", err)
	}

	var out []NotificationEmail
	for _, recipient := range recipients {
		out = append(out, NotificationEmail{
			IdempotencyKey: fmt.Sprintf("%s:%d:%s:%v:%s", a.CatalogName, a.ID, a.AlertType, resolved, recipient),
			Recipient:      recipient,
			Subject:        subjectBuf.String(),
			Body:           bodyBuf.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdempotencyKey < out[j].IdempotencyKey })
	return out, nil
}
