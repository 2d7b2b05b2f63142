package dekaf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/validator"
)

// APIClient fetches live specs and built specs from the agent's own
// HTTP API. Dekaf is a standalone binary (cmd/dekaf) that never touches
// the catalog store directly; it is a client of the control plane in
// exactly the way an external connector would be (§4.8 "[ADD, grounded
// on crates/dekaf/src/api_client.rs and crates/dekaf-connector/src/lib.rs]").
type APIClient struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
}

// NewAPIClient constructs an APIClient with a bounded default timeout,
// matching the outbound-connector-call timeout discipline of §5
// ("outbound connector calls carry a per-kind timeout").
func NewAPIClient(baseURL, authToken string) *APIClient {
	return &APIClient{
		BaseURL:   baseURL,
		AuthToken: authToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// liveSpecResponse mirrors the JSON body of GET /live_specs (§6).
type liveSpecResponse struct {
	LiveSpecs []models.LiveSpec `json:"liveSpecs"`
}

// GetLiveSpec fetches the current live spec for a single catalog name,
// returning nil if it does not exist.
func (c *APIClient) GetLiveSpec(ctx context.Context, name names.Catalog) (*models.LiveSpec, error) {
	var query = url.Values{"prefix": {string(name)}}
	var resp liveSpecResponse
	if err := c.get(ctx, "/live_specs", query, &resp); err != nil {
		return nil, err
	}
	for _, ls := range resp.LiveSpecs {
		if ls.CatalogName == name {
			return &ls, nil
		}
	}
	return nil, nil
}

// GetReadSchema fetches a Collection's current read-schema, used to
// synthesize its Avro schema (§4.8 "Record synthesis").
func (c *APIClient) GetReadSchema(ctx context.Context, collection names.Catalog) (json.RawMessage, error) {
	live, err := c.GetLiveSpec(ctx, collection)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return nil, fmt.Errorf("dekaf: collection %q not found", collection)
	}
	var def models.CollectionDef
	if err := json.Unmarshal(live.Model, &def); err != nil {
		return nil, fmt.Errorf("decoding collection model for %q: %w", collection, err)
	}
	if len(def.ReadSchema) > 0 {
		return def.ReadSchema, nil
	}
	return def.WriteSchema, nil
}

// GetBuiltSpec fetches a Collection's built spec (journal template, field
// projections) from its last publication, used by the metadata synthesizer
// and the Avro schema builder.
func (c *APIClient) GetBuiltSpec(ctx context.Context, collection names.Catalog) (*validator.BuiltSpec, error) {
	live, err := c.GetLiveSpec(ctx, collection)
	if err != nil {
		return nil, err
	}
	if live == nil || len(live.BuiltSpec) == 0 {
		return nil, fmt.Errorf("dekaf: collection %q has no built spec", collection)
	}
	var built validator.BuiltSpec
	if err := json.Unmarshal(live.BuiltSpec, &built); err != nil {
		return nil, fmt.Errorf("decoding built spec for %q: %w", collection, err)
	}
	return &built, nil
}

func (c *APIClient) get(ctx context.Context, path string, query url.Values, out any) error {
	var u = c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiJournalLister implements JournalLister against the control-plane
// API, deriving one partition per partition field the collection's
// JournalTemplate declares, or a single partition if it declares none;
// the collection's journals themselves are not listed (§4.8 "Topic
// metadata").
type apiJournalLister struct {
	client *APIClient
}

// NewAPIJournalLister builds the JournalLister cmd/dekaf wires into its
// MetadataBuilder.
func NewAPIJournalLister(client *APIClient) JournalLister {
	return apiJournalLister{client: client}
}

func (l apiJournalLister) ListPartitions(ctx context.Context, collection names.Catalog) ([]Partition, error) {
	built, err := l.client.GetBuiltSpec(ctx, collection)
	if err != nil {
		return nil, err
	}
	if built.JournalTemplate == nil {
		return nil, fmt.Errorf("dekaf: collection %q has no journal template", collection)
	}
	var fields = built.JournalTemplate.PartitionFields
	var count = len(fields)
	if count == 0 {
		count = 1
	}
	var out = make([]Partition, count)
	for i := range out {
		out[i] = Partition{ID: int32(i)}
	}
	return out, nil
}
