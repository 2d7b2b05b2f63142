// Package connector supplies the out-of-process connector seams
// (validator.Drivers, controller.DiscoverySource,
// controller.InferredSchemaSource) with a stub that reports connectors as
// unavailable rather than dispatching real gRPC calls to connector
// images. Running the connector protocol itself - the
// flow/go/protocols/capture and flow/go/protocols/materialize gRPC
// exchange the teacher dispatches over - is explicitly out of scope
// (§1 Non-goals: "connector image packaging"); this package exists so
// cmd/agent has something concrete to wire into the publication and
// controller engines without inventing a fake protocol implementation.
package connector

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/validator"
)

// ErrNotImplemented is returned by every method of this package's stub
// drivers.
var ErrNotImplemented = errors.New("connector dispatch not implemented in this build")

type unavailableDrivers struct{}

func (unavailableDrivers) ValidateCapture(ctx context.Context, req validator.ValidateRequest) (validator.ValidateResponse, error) {
	return validator.ValidateResponse{}, ErrNotImplemented
}

func (unavailableDrivers) Discover(ctx context.Context, cfg models.EndpointDef) ([]models.CaptureBinding, error) {
	return nil, ErrNotImplemented
}

func (unavailableDrivers) ValidateMaterialize(ctx context.Context, req validator.ValidateRequest) (validator.ValidateResponse, error) {
	return validator.ValidateResponse{}, ErrNotImplemented
}

func (unavailableDrivers) ValidateDerive(ctx context.Context, collection names.Catalog, def models.DeriveDef) (validator.ValidateResponse, error) {
	return validator.ValidateResponse{}, ErrNotImplemented
}

// Drivers returns the validator.Drivers bundle wired into the
// publication engine: every call reports ErrNotImplemented.
func Drivers() validator.Drivers {
	var d unavailableDrivers
	return validator.Drivers{Capture: d, Materialize: d, Derive: d}
}

// discoverySource adapts unavailableDrivers to
// controller.DiscoverySource.
type discoverySource struct{ unavailableDrivers }

func (d discoverySource) Discover(ctx context.Context, endpoint models.EndpointDef) ([]models.CaptureBinding, error) {
	return nil, ErrNotImplemented
}

// DiscoverySource returns the controller.DiscoverySource wired into the
// controller engine's CaptureController.
func DiscoverySource() discoverySource { return discoverySource{} }

// inferredSchemaSource reports no inferred schema is ever available,
// leaving the Collection controller's schema-merge step a no-op.
type inferredSchemaSource struct{}

func (inferredSchemaSource) GetInferredSchema(ctx context.Context, collection string) (json.RawMessage, string, bool, error) {
	return nil, "", false, nil
}

// InferredSchemaSource returns the controller.InferredSchemaSource wired
// into the controller engine's CollectionController.
func InferredSchemaSource() inferredSchemaSource { return inferredSchemaSource{} }
