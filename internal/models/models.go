// Package models defines the user-authored catalog entity types of §3:
// Capture, Collection, Materialization, and Test definitions, plus the
// live-spec and draft-spec rows that wrap them. Field naming and the
// BTreeMap-backed (here: sorted-slice-backed) determinism requirement of
// §4.4 are grounded on crates/models/src/catalogs.rs.
package models

import (
	"encoding/json"
	"time"

	"github.com/estuary/agent/internal/names"
)

// SchemaBundle is an opaque, already-compiled JSON Schema document plus
// its $ref index. The validator (§4.4 step 2) is the only component that
// constructs these; everyone else treats them as opaque.
type SchemaBundle struct {
	Schema json.RawMessage `json:"schema"`
}

// Projection is a user-declared or canonically-generated field projection
// (§4.4 step 3).
type Projection struct {
	Field            string          `json:"field"`
	Location         names.JSONPointer `json:"location"`
	PartitionField   bool            `json:"partition,omitempty"`
	UserProvided     bool            `json:"userProvided,omitempty"`
}

// CollectionDef is the user model of a Collection (§3).
type CollectionDef struct {
	Schema        json.RawMessage `json:"schema,omitempty"`
	ReadSchema    json.RawMessage `json:"readSchema,omitempty"`
	WriteSchema   json.RawMessage `json:"writeSchema,omitempty"`
	Key           []names.JSONPointer `json:"key"`
	Projections   []Projection    `json:"projections,omitempty"`
	Derive        *DeriveDef      `json:"derive,omitempty"`
}

// DeriveDef is the embedded derivation of a Collection (§3, §4.4 step 5).
type DeriveDef struct {
	Using       DeriveUsing  `json:"using"`
	Transforms  []TransformDef `json:"transforms"`
}

// DeriveUsing selects the derivation runtime (sqlite or typescript); the
// concrete connector payload is out of scope (§1 Non-goals: NPM packaging).
type DeriveUsing struct {
	SQLite     *struct{} `json:"sqlite,omitempty"`
	Typescript *struct {
		Module json.RawMessage `json:"module,omitempty"`
	} `json:"typescript,omitempty"`
}

// TransformDef reads from a source Collection with an optional shuffle key.
type TransformDef struct {
	Name        string             `json:"name"`
	Source      names.Catalog      `json:"source"`
	ShuffleKey  []names.JSONPointer `json:"shuffle,omitempty"`
	Lambda      json.RawMessage    `json:"lambda,omitempty"`
	Disable     bool               `json:"disable,omitempty"`
}

// EndpointType enumerates supported connector endpoint kinds.
type EndpointType string

const (
	EndpointConnector EndpointType = "connector"
	EndpointIngest    EndpointType = "ingest"
)

// EndpointDef is the connector image + config for a Capture or
// Materialization task.
type EndpointDef struct {
	Connector *struct {
		Image  string          `json:"image"`
		Config json.RawMessage `json:"config"`
	} `json:"connector,omitempty"`
}

// CaptureBinding binds a connector resource to a target Collection.
type CaptureBinding struct {
	Target       names.Catalog   `json:"target"`
	ResourceConfig json.RawMessage `json:"resource"`
	Disable      bool            `json:"disable,omitempty"`
}

// CaptureDef is the user model of a Capture (§3).
type CaptureDef struct {
	Endpoint EndpointDef      `json:"endpoint"`
	Bindings []CaptureBinding `json:"bindings"`
	Interval time.Duration    `json:"interval,omitempty"`
	AutoDiscover *AutoDiscover `json:"autoDiscover,omitempty"`
}

// AutoDiscover configures periodic Discover-driven binding augmentation
// (§4.6 Capture controller).
type AutoDiscover struct {
	AddNewBindings bool `json:"addNewBindings,omitempty"`
	EvolveIncompatibleCollections bool `json:"evolveIncompatibleCollections,omitempty"`
}

// OnIncompatibleSchemaChange is the per-binding reset-propagation policy
// dispatched by the Materialization controller (§4.6, §9).
type OnIncompatibleSchemaChange string

const (
	OnIncompatibleBackfill       OnIncompatibleSchemaChange = "backfill"
	OnIncompatibleDisableBinding OnIncompatibleSchemaChange = "disableBinding"
	OnIncompatibleAbort          OnIncompatibleSchemaChange = "abort"
)

// MaterializeBinding binds a source Collection to a materialized resource.
type MaterializeBinding struct {
	Source       names.Catalog   `json:"source"`
	ResourceConfig json.RawMessage `json:"resource"`
	Disable      bool            `json:"disable,omitempty"`
	Backfill     int             `json:"backfill,omitempty"`
	OnIncompatibleSchemaChange OnIncompatibleSchemaChange `json:"onIncompatibleSchemaChange,omitempty"`
}

// MaterializationDef is the user model of a Materialization (§3).
type MaterializationDef struct {
	Endpoint EndpointDef          `json:"endpoint"`
	Bindings []MaterializeBinding `json:"bindings"`
}

// TestStep is a single ingest or verify step of a Test (§3).
type TestStep struct {
	Ingest   *struct {
		Collection names.Catalog     `json:"collection"`
		Documents  []json.RawMessage `json:"documents"`
	} `json:"ingest,omitempty"`
	Verify *struct {
		Collection names.Catalog     `json:"collection"`
		Documents  []json.RawMessage `json:"documents"`
	} `json:"verify,omitempty"`
}

// TestDef is the user model of a Test (§3).
type TestDef struct {
	Steps []TestStep `json:"steps"`
}

// Spec is the kind-discriminated union of user models, used wherever a
// draft or live row's `model` must be interpreted generically (the
// validator and publication engine, §4.4, §4.5).
type Spec struct {
	Type            names.SpecType       `json:"type"`
	Capture         *CaptureDef          `json:"capture,omitempty"`
	Collection      *CollectionDef       `json:"collection,omitempty"`
	Materialization *MaterializationDef  `json:"materialization,omitempty"`
	Test            *TestDef             `json:"test,omitempty"`
}

// ReadsFrom returns the set of source Collection names this spec reads
// from, used to maintain the reads_from/writes_to adjacency of §3.
func (s Spec) ReadsFrom() []names.Catalog {
	var out []names.Catalog
	switch s.Type {
	case names.SpecTypeCollection:
		if s.Collection != nil && s.Collection.Derive != nil {
			for _, t := range s.Collection.Derive.Transforms {
				out = append(out, t.Source)
			}
		}
	case names.SpecTypeMaterialization:
		if s.Materialization != nil {
			for _, b := range s.Materialization.Bindings {
				out = append(out, b.Source)
			}
		}
	case names.SpecTypeTest:
		if s.Test != nil {
			for _, step := range s.Test.Steps {
				if step.Ingest != nil {
					out = append(out, step.Ingest.Collection)
				}
				if step.Verify != nil {
					out = append(out, step.Verify.Collection)
				}
			}
		}
	}
	return out
}

// WritesTo returns the set of target Collection names this spec writes
// to.
func (s Spec) WritesTo() []names.Catalog {
	var out []names.Catalog
	switch s.Type {
	case names.SpecTypeCapture:
		if s.Capture != nil {
			for _, b := range s.Capture.Bindings {
				out = append(out, b.Target)
			}
		}
	}
	return out
}

// LiveSpec is a row of the live_specs table (§3, §6).
type LiveSpec struct {
	ID           int64           `json:"id"`
	CatalogName  names.Catalog   `json:"catalogName"`
	SpecType     names.SpecType  `json:"specType"`
	LastPubID    int64           `json:"lastPubId"`
	LastBuildID  int64           `json:"lastBuildId"`
	Model        json.RawMessage `json:"model"`
	BuiltSpec    json.RawMessage `json:"builtSpec,omitempty"`
	DataPlaneID  int64           `json:"dataPlaneId"`
	ReadsFrom    []names.Catalog `json:"readsFrom,omitempty"`
	WritesTo     []names.Catalog `json:"writesTo,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ExpectPubID is the optimistic-concurrency token carried by a draft row
// (§3). Set false means "ignore concurrency"; Set with a zero Value means
// "must be a create"; Set with any other Value means "must update at
// exactly this publication id".
type ExpectPubID struct {
	Value int64
	Set   bool
}

// DraftSpec is a row of the draft_specs table (§3, §6).
type DraftSpec struct {
	DraftID     int64           `json:"draftId"`
	CatalogName names.Catalog   `json:"catalogName"`
	SpecType    names.SpecType  `json:"specType"`
	Model       json.RawMessage `json:"model,omitempty"`
	ExpectPubID ExpectPubID     `json:"expectPubId"`
	IsTouch     bool            `json:"isTouch"`
	Delete      bool            `json:"delete"`
	// Reset, when set on a Collection draft, advances its generation id
	// and triggers dependent-materialization backfill propagation (§3,
	// §4.4 step 7, §4.6 Materialization controller).
	Reset bool `json:"reset,omitempty"`
	// Detail, when set, overrides the publication history row's default
	// detail text (§4.6 Collection controller: "updating inferred
	// schema"); drafts submitted through the API leave it empty.
	Detail string `json:"detail,omitempty"`
}

// DraftError is a single accumulated validation error (§7), tagged with
// its scope (a flow://...#/pointer URL).
type DraftError struct {
	CatalogName names.Catalog `json:"catalogName"`
	Scope       string        `json:"scope"`
	Kind        string        `json:"kind"`
	Detail      string        `json:"detail"`
}

// PublicationSpec is a row of the append-only publication_specs history
// table (§3 invariant 5, §6).
type PublicationSpec struct {
	LiveSpecID  int64           `json:"liveSpecId"`
	PubID       int64           `json:"pubId"`
	PublishedAt time.Time       `json:"publishedAt"`
	UserID      string          `json:"userId"`
	Spec        json.RawMessage `json:"spec"`
	Detail      string          `json:"detail,omitempty"`
}

// ControllerStatus is the per-live-spec automaton row (§3 "Controller
// state").
type ControllerStatus struct {
	LiveSpecID   int64           `json:"liveSpecId"`
	CurrentStatus json.RawMessage `json:"currentStatus"`
	NextRun      *time.Time      `json:"nextRun,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	FailureCount int             `json:"failureCount"`
}

// AlertHistory is a row of the alert_history table (§3 "Alert rows").
type AlertHistory struct {
	ID                 int64           `json:"id"`
	CatalogName        names.Catalog   `json:"catalogName"`
	AlertType          string          `json:"alertType"`
	FiredAt            time.Time       `json:"firedAt"`
	ResolvedAt         *time.Time      `json:"resolvedAt,omitempty"`
	Arguments          json.RawMessage `json:"arguments"`
	ResolvedArguments  json.RawMessage `json:"resolvedArguments,omitempty"`
}

// DataPlane is a row of the data_planes table (§6, GLOSSARY).
type DataPlane struct {
	ID              int64    `json:"id"`
	DataPlaneName   string   `json:"dataPlaneName"`
	DataPlaneFQDN   string   `json:"dataPlaneFqdn"`
	BrokerAddress   string   `json:"brokerAddress"`
	ReactorAddress  string   `json:"reactorAddress"`
	HMACKeys        []string `json:"hmacKeys"`
	OpsLogsName     string   `json:"opsLogsName"`
	OpsStatsName    string   `json:"opsStatsName"`
	EnableL2        bool     `json:"enableL2"`
}

// StorageMapping is a row of the storage_mappings table (§4.2, §6).
type StorageMapping struct {
	CatalogPrefix names.Prefix `json:"catalogPrefix"`
	Stores        []StorageStore `json:"stores"`
	DataPlanes    []string     `json:"dataPlanes,omitempty"`
}

// StorageStore is one object-store location of a StorageMapping.
type StorageStore struct {
	Provider string `json:"provider"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
}
