package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// NextDraftID allocates a new draft id (§6 "draft_specs").
func (s *Store) NextDraftID(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO draft_id_seq DEFAULT VALUES`)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpsertDraftSpec inserts or replaces a single row of a draft (§6 "PATCH
// /drafts/{id}").
func (s *Store) UpsertDraftSpec(ctx context.Context, d models.DraftSpec) error {
	var expect sql.NullInt64
	if d.ExpectPubID.Set {
		expect = sql.NullInt64{Int64: d.ExpectPubID.Value, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_specs(draft_id, catalog_name, spec_type, model, expect_pub_id, expect_pub_id_set, is_touch, deleted, reset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(draft_id, catalog_name) DO UPDATE SET
			spec_type=excluded.spec_type, model=excluded.model, expect_pub_id=excluded.expect_pub_id,
			expect_pub_id_set=excluded.expect_pub_id_set, is_touch=excluded.is_touch,
			deleted=excluded.deleted, reset=excluded.reset
	`, d.DraftID, d.CatalogName, d.SpecType, string(d.Model), expect, d.ExpectPubID.Set, d.IsTouch, d.Delete, d.Reset)
	return err
}

// ListDraftSpecs returns every row of a draft.
func (s *Store) ListDraftSpecs(ctx context.Context, draftID int64) ([]models.DraftSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT catalog_name, spec_type, model, expect_pub_id, expect_pub_id_set, is_touch, deleted, reset
		FROM draft_specs WHERE draft_id = ?`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DraftSpec
	for rows.Next() {
		var d models.DraftSpec
		var model sql.NullString
		var expect sql.NullInt64
		var expectSet bool
		d.DraftID = draftID
		if err := rows.Scan(&d.CatalogName, &d.SpecType, &model, &expect, &expectSet, &d.IsTouch, &d.Delete, &d.Reset); err != nil {
			return nil, err
		}
		if model.Valid {
			d.Model = json.RawMessage(model.String)
		}
		d.ExpectPubID = models.ExpectPubID{Value: expect.Int64, Set: expectSet}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDraft removes every row of a draft (§6 "DELETE /drafts/{id}").
func (s *Store) DeleteDraft(ctx context.Context, draftID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM draft_specs WHERE draft_id = ?`, draftID)
	return err
}

// RecordDraftErrors persists the accumulated validation errors for a
// draft (§4.5 step 7, §7).
func (s *Store) RecordDraftErrors(ctx context.Context, draftID int64, errs []models.DraftError) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM draft_errors WHERE draft_id = ?`, draftID); err != nil {
		return err
	}
	for _, e := range errs {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO draft_errors(draft_id, catalog_name, scope, kind, detail) VALUES (?, ?, ?, ?, ?)`,
			draftID, e.CatalogName, e.Scope, e.Kind, e.Detail); err != nil {
			return err
		}
	}
	return nil
}

// ListDraftErrors returns the accumulated validation errors for a draft.
func (s *Store) ListDraftErrors(ctx context.Context, draftID int64) ([]models.DraftError, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT catalog_name, scope, kind, detail FROM draft_errors WHERE draft_id = ?`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DraftError
	for rows.Next() {
		var e models.DraftError
		if err := rows.Scan(&e.CatalogName, &e.Scope, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetLiveSpec loads a single live-spec row by catalog name.
func (s *Store) GetLiveSpec(ctx context.Context, name names.Catalog) (*models.LiveSpec, error) {
	return scanLiveSpec(s.db.QueryRowContext(ctx, `
		SELECT id, catalog_name, spec_type, model, built_spec, reads_from, writes_to, last_pub_id, last_build_id, data_plane_id, created_at, updated_at
		FROM live_specs WHERE catalog_name = ?`, name))
}

// GetLiveSpecByID loads a single live-spec row by its rowid, used by the
// controller engine after claiming a controllers row (§4.6).
func (s *Store) GetLiveSpecByID(ctx context.Context, id int64) (*models.LiveSpec, error) {
	return scanLiveSpec(s.db.QueryRowContext(ctx, `
		SELECT id, catalog_name, spec_type, model, built_spec, reads_from, writes_to, last_pub_id, last_build_id, data_plane_id, created_at, updated_at
		FROM live_specs WHERE id = ?`, id))
}

// ListLiveSpecs returns rows whose catalog_name has the given prefix and
// (if non-empty) spec_type, ordered by catalog_name (§6 "GET
// /live_specs").
func (s *Store) ListLiveSpecs(ctx context.Context, prefix string, specType names.SpecType) ([]models.LiveSpec, error) {
	var rows *sql.Rows
	var err error
	if specType == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, catalog_name, spec_type, model, built_spec, reads_from, writes_to, last_pub_id, last_build_id, data_plane_id, created_at, updated_at
			FROM live_specs WHERE catalog_name LIKE ? ORDER BY catalog_name`, prefix+"%")
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, catalog_name, spec_type, model, built_spec, reads_from, writes_to, last_pub_id, last_build_id, data_plane_id, created_at, updated_at
			FROM live_specs WHERE catalog_name LIKE ? AND spec_type = ? ORDER BY catalog_name`, prefix+"%", specType)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LiveSpec
	for rows.Next() {
		ls, err := scanLiveSpecRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ls)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLiveSpec(row *sql.Row) (*models.LiveSpec, error) {
	return scanLiveSpecRow(row)
}

func scanLiveSpecRow(row rowScanner) (*models.LiveSpec, error) {
	var ls models.LiveSpec
	var model, built, readsFrom, writesTo string
	if err := row.Scan(&ls.ID, &ls.CatalogName, &ls.SpecType, &model, &built, &readsFrom, &writesTo,
		&ls.LastPubID, &ls.LastBuildID, &ls.DataPlaneID, &ls.CreatedAt, &ls.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning live_specs row: %w", err)
	}
	ls.Model = json.RawMessage(model)
	if built != "" {
		ls.BuiltSpec = json.RawMessage(built)
	}
	_ = json.Unmarshal([]byte(readsFrom), &ls.ReadsFrom)
	_ = json.Unmarshal([]byte(writesTo), &ls.WritesTo)
	return &ls, nil
}
