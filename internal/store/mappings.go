package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
	"github.com/estuary/agent/internal/snapshot"
	"github.com/estuary/agent/internal/storagemapping"
)

var _ storagemapping.Store = (*Store)(nil)

// ListMappings returns every storage_mappings row, satisfying
// storagemapping.Store (§4.2).
func (s *Store) ListMappings(ctx context.Context) ([]models.StorageMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT catalog_prefix, spec FROM storage_mappings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StorageMapping
	for rows.Next() {
		var prefix, spec string
		if err := rows.Scan(&prefix, &spec); err != nil {
			return nil, err
		}
		var m models.StorageMapping
		if err := json.Unmarshal([]byte(spec), &m); err != nil {
			return nil, err
		}
		m.CatalogPrefix = names.Prefix(prefix)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutMapping inserts or replaces a single storage mapping row.
func (s *Store) PutMapping(ctx context.Context, m models.StorageMapping) error {
	spec, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO storage_mappings(catalog_prefix, spec) VALUES (?, ?)
		ON CONFLICT(catalog_prefix) DO UPDATE SET spec=excluded.spec`, m.CatalogPrefix, string(spec))
	return err
}

// AddDataPlaneToTenantMappings implements §4.2's "On private data-plane
// creation" rule: every non-recovery mapping under tenantPrefix gets
// dataPlaneFQDN prepended to its DataPlanes list.
func (s *Store) AddDataPlaneToTenantMappings(ctx context.Context, tenantPrefix names.Prefix, dataPlaneFQDN string) error {
	mappings, err := s.ListMappings(ctx)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if !tenantPrefix.IsPrefixOf(names.Catalog(m.CatalogPrefix)) {
			continue
		}
		if storagemapping.IsRecoveryPrefix(m.CatalogPrefix) {
			continue
		}

		var already bool
		for _, dp := range m.DataPlanes {
			if dp == dataPlaneFQDN {
				already = true
				break
			}
		}
		if already {
			continue
		}
		m.DataPlanes = append([]string{dataPlaneFQDN}, m.DataPlanes...)
		if err := s.PutMapping(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// PutDataPlane inserts or replaces a data_planes row (§6 "POST
// /data_planes").
func (s *Store) PutDataPlane(ctx context.Context, dp models.DataPlane) (int64, error) {
	hmacKeys, _ := json.Marshal(dp.HMACKeys)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO data_planes(data_plane_name, data_plane_fqdn, broker_address, reactor_address, hmac_keys, ops_logs_name, ops_stats_name, enable_l2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(data_plane_name) DO UPDATE SET
			broker_address=excluded.broker_address, reactor_address=excluded.reactor_address,
			hmac_keys=excluded.hmac_keys, ops_logs_name=excluded.ops_logs_name,
			ops_stats_name=excluded.ops_stats_name, enable_l2=excluded.enable_l2`,
		dp.DataPlaneName, dp.DataPlaneFQDN, dp.BrokerAddress, dp.ReactorAddress, string(hmacKeys),
		dp.OpsLogsName, dp.OpsStatsName, dp.EnableL2)
	if err != nil {
		return 0, err
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM data_planes WHERE data_plane_name = ?`, dp.DataPlaneName).Scan(&id)
	return id, err
}

// SetL2Reporting toggles enable_l2 for a data plane (§6 "POST
// /update_l2_reporting").
func (s *Store) SetL2Reporting(ctx context.Context, dataPlaneFQDN string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE data_planes SET enable_l2 = ? WHERE data_plane_fqdn = ?`, enabled, dataPlaneFQDN)
	return err
}

// ListDataPlanes returns every data_planes row, used by POST
// /update_l2_reporting to enumerate the data planes it generates L2
// roll-up derivations for.
func (s *Store) ListDataPlanes(ctx context.Context) ([]models.DataPlane, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data_plane_name, data_plane_fqdn, broker_address, reactor_address,
		       hmac_keys, ops_logs_name, ops_stats_name, enable_l2
		FROM data_planes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DataPlane
	for rows.Next() {
		var dp models.DataPlane
		var hmacKeys string
		if err := rows.Scan(&dp.ID, &dp.DataPlaneName, &dp.DataPlaneFQDN, &dp.BrokerAddress,
			&dp.ReactorAddress, &hmacKeys, &dp.OpsLogsName, &dp.OpsStatsName, &dp.EnableL2); err != nil {
			return nil, err
		}
		if hmacKeys != "" {
			if err := json.Unmarshal([]byte(hmacKeys), &dp.HMACKeys); err != nil {
				return nil, err
			}
		}
		out = append(out, dp)
	}
	return out, rows.Err()
}

// LoadSnapshot queries live_specs, role_grants, and user_grants to build a
// fresh authorization Snapshot (§4.3), the query the dedicated refresh
// task issues each refresh cycle.
func (s *Store) LoadSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	taken := time.Now()

	rows, err := s.db.QueryContext(ctx, `SELECT catalog_name, spec_type, data_plane_id FROM live_specs`)
	if err != nil {
		return nil, err
	}
	var collections []snapshot.Collection
	var tasks []snapshot.Task
	for rows.Next() {
		var name, specType string
		var dataPlaneID int64
		if err := rows.Scan(&name, &specType, &dataPlaneID); err != nil {
			rows.Close()
			return nil, err
		}
		switch names.SpecType(specType) {
		case names.SpecTypeCollection:
			collections = append(collections, snapshot.Collection{
				JournalTemplateName: names.Prefix(name),
				CollectionName:      names.Catalog(name),
				DataPlaneID:         dataPlaneID,
			})
		case names.SpecTypeCapture, names.SpecTypeMaterialization:
			tasks = append(tasks, snapshot.Task{
				ShardTemplateID: names.Prefix(name),
				TaskName:        names.Catalog(name),
				SpecType:        names.SpecType(specType),
				DataPlaneID:     dataPlaneID,
			})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	roleGrants, err := s.listRoleGrants(ctx)
	if err != nil {
		return nil, err
	}
	userGrants, err := s.listUserGrants(ctx)
	if err != nil {
		return nil, err
	}

	return snapshot.New(taken, collections, tasks, roleGrants, userGrants), nil
}

func (s *Store) listRoleGrants(ctx context.Context) ([]snapshot.RoleGrant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject_role, object_role, capability FROM role_grants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []snapshot.RoleGrant
	for rows.Next() {
		var g snapshot.RoleGrant
		if err := rows.Scan(&g.SubjectRole, &g.ObjectRole, &g.Capability); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) listUserGrants(ctx context.Context) ([]snapshot.UserGrant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, object_role, capability FROM user_grants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []snapshot.UserGrant
	for rows.Next() {
		var g snapshot.UserGrant
		if err := rows.Scan(&g.UserID, &g.ObjectRole, &g.Capability); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// InsertRoleGrant and InsertUserGrant support test fixtures and the
// authorization admin surface.
func (s *Store) InsertRoleGrant(ctx context.Context, subjectRole, objectRole, capability string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO role_grants(subject_role, object_role, capability) VALUES (?, ?, ?)`,
		subjectRole, objectRole, capability)
	return err
}

func (s *Store) InsertUserGrant(ctx context.Context, userID, objectRole, capability string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_grants(user_id, object_role, capability) VALUES (?, ?, ?)`,
		userID, objectRole, capability)
	return err
}
