// Package storagemapping resolves a catalog-name prefix to the
// object-store location(s) journal and shard templates should use (§4.2),
// and handles the private-data-plane mutation described there: when a new
// private data plane is created, every non-recovery mapping for the
// owning tenant is updated to permit it.
package storagemapping

import (
	"context"
	"fmt"
	"sort"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// Table is a sorted, in-memory view of the storage_mappings table,
// suitable for the longest-prefix-match resolution used when assembling
// built specs (§4.2, §4.4 step 6).
type Table struct {
	rows []models.StorageMapping
}

// NewTable builds a Table from an unsorted set of rows, sorting them by
// prefix so Resolve can apply names.LongestMatching.
func NewTable(rows []models.StorageMapping) *Table {
	var sorted = append([]models.StorageMapping(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CatalogPrefix < sorted[j].CatalogPrefix })
	return &Table{rows: sorted}
}

// Resolve returns the longest-matching StorageMapping for name, or an
// error if no mapping covers it (an InvalidArgument under §7, since every
// tenant prefix must have a mapping before it can publish).
func (t *Table) Resolve(name names.Catalog) (*models.StorageMapping, error) {
	var prefixes = make([]names.Prefix, len(t.rows))
	for i, r := range t.rows {
		prefixes[i] = r.CatalogPrefix
	}
	longest, ok := names.LongestMatching(prefixes, name)
	if !ok {
		return nil, fmt.Errorf("no storage mapping covers %q", name)
	}
	for i := range t.rows {
		if t.rows[i].CatalogPrefix == longest {
			var row = t.rows[i]
			return &row, nil
		}
	}
	return nil, fmt.Errorf("no storage mapping covers %q", name)
}

// Store persists storage mapping rows and supports the data-plane-creation
// mutation of §4.2. The concrete implementation lives in internal/store;
// this interface lets the publication engine and the data-plane creation
// handler (§6 POST /data_planes) depend on the operation without the
// storage layer.
type Store interface {
	ListMappings(ctx context.Context) ([]models.StorageMapping, error)
	AddDataPlaneToTenantMappings(ctx context.Context, tenantPrefix names.Prefix, dataPlaneFQDN string) error
}

// OnDataPlaneCreated implements §4.2's "On private data-plane creation"
// rule: every non-recovery mapping for the owning tenant is mutated to
// prepend the new data-plane to its list of permitted data-planes.
//
// "Non-recovery" mappings are those whose prefix doesn't begin with the
// reserved recovery/ segment used for Gazette recovery logs; recovery
// mappings are tied to the data plane that wrote them and must not be
// retargeted.
func OnDataPlaneCreated(ctx context.Context, store Store, tenantPrefix names.Prefix, dataPlaneFQDN string) error {
	return store.AddDataPlaneToTenantMappings(ctx, tenantPrefix, dataPlaneFQDN)
}

// IsRecoveryPrefix reports whether prefix names a Gazette recovery-log
// storage mapping, which OnDataPlaneCreated must not mutate.
func IsRecoveryPrefix(prefix names.Prefix) bool {
	return len(prefix) >= len("recovery/") && prefix[:len("recovery/")] == "recovery/"
}
