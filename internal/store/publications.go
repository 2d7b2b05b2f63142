package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// Tx wraps a *sql.Tx with the row-level operations the publication
// engine's resolve/commit sequence needs (§4.5).
type Tx struct {
	tx *sql.Tx
}

// BeginPublication starts a BEGIN IMMEDIATE transaction, matching §5's
// "serializable isolation or equivalent" requirement: IMMEDIATE acquires
// the write lock up front rather than racing other writers to it.
func (s *Store) BeginPublication(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("beginning publication transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Rollback aborts the transaction, discarding every change made within
// it (§4.5 step 7 "rollback to savepoint").
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Commit finalizes the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// NextPublicationID allocates a fresh, monotonically increasing
// publication id from the database (§4.5 step 4, §5 "Monotonic
// publication id", §8).
func (t *Tx) NextPublicationID(ctx context.Context, status string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO publications(status) VALUES (?)`, status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LockLiveSpec reads a live-spec row FOR UPDATE (emulated under SQLite by
// the BEGIN IMMEDIATE write lock already held by the transaction, §5
// "SELECT ... FOR UPDATE locks the rows being mutated").
func (t *Tx) LockLiveSpec(ctx context.Context, name names.Catalog) (*models.LiveSpec, error) {
	return scanLiveSpecRow(t.tx.QueryRowContext(ctx, `
		SELECT id, catalog_name, spec_type, model, built_spec, reads_from, writes_to, last_pub_id, last_build_id, data_plane_id, created_at, updated_at
		FROM live_specs WHERE catalog_name = ?`, name))
}

// UpsertLiveSpec creates or updates a live-spec row as part of a
// publication's commit (§4.5 step 6).
func (t *Tx) UpsertLiveSpec(ctx context.Context, ls models.LiveSpec) (int64, error) {
	readsFrom, _ := json.Marshal(ls.ReadsFrom)
	writesTo, _ := json.Marshal(ls.WritesTo)
	var built sql.NullString
	if len(ls.BuiltSpec) > 0 {
		built = sql.NullString{String: string(ls.BuiltSpec), Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO live_specs(catalog_name, spec_type, model, built_spec, reads_from, writes_to, last_pub_id, last_build_id, data_plane_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(catalog_name) DO UPDATE SET
			model=excluded.model, built_spec=excluded.built_spec, reads_from=excluded.reads_from,
			writes_to=excluded.writes_to, last_pub_id=excluded.last_pub_id, last_build_id=excluded.last_build_id,
			data_plane_id=excluded.data_plane_id, updated_at=CURRENT_TIMESTAMP
	`, ls.CatalogName, ls.SpecType, string(ls.Model), built, string(readsFrom), string(writesTo),
		ls.LastPubID, ls.LastBuildID, ls.DataPlaneID)
	if err != nil {
		return 0, err
	}

	// SQLite leaves last_insert_rowid() unchanged when ON CONFLICT takes
	// the DO UPDATE path, so it can't identify the row on that path; the
	// row id is looked up by name on both paths.
	row, err := t.LockLiveSpec(ctx, ls.CatalogName)
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

// DeleteLiveSpec removes a live-spec row and its controller row (§3
// "Lifecycle", "The controller row is deleted when its live-spec row
// is").
func (t *Tx) DeleteLiveSpec(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM controllers WHERE live_spec_id = ?`, id); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM live_specs WHERE id = ?`, id)
	return err
}

// AppendPublicationHistory inserts one append-only publication_specs row
// per mutated spec (§3 invariant 5, §4.5 step 6).
func (t *Tx) AppendPublicationHistory(ctx context.Context, liveSpecID, pubID int64, userID string, spec []byte, detail string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO publication_specs(live_spec_id, pub_id, published_at, user_id, spec, detail)
		VALUES (?, ?, CURRENT_TIMESTAMP, ?, ?, ?)`, liveSpecID, pubID, userID, string(spec), detail)
	return err
}

// EnsureController creates a controller row for a newly-created live
// spec, arming NextRun immediately so the first tick happens promptly
// (§3 "Controller state").
func (t *Tx) EnsureController(ctx context.Context, liveSpecID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO controllers(live_spec_id, current_status, next_run)
		VALUES (?, '{}', CURRENT_TIMESTAMP)
		ON CONFLICT(live_spec_id) DO NOTHING`, liveSpecID)
	return err
}

// WakeController arms a controller's next_run immediately (the
// post-commit "controller-wakeup" notification of §4.5 step 8).
func (t *Tx) WakeController(ctx context.Context, liveSpecID int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE controllers SET next_run = CURRENT_TIMESTAMP WHERE live_spec_id = ?`, liveSpecID)
	return err
}

// ResolveReferences loads every live-spec row named by refs, used by the
// publication engine's resolve step to build the expansion set (§4.5
// step 1).
func (t *Tx) ResolveReferences(ctx context.Context, refs []names.Catalog) (map[names.Catalog]models.LiveSpec, error) {
	var out = map[names.Catalog]models.LiveSpec{}
	for _, ref := range refs {
		ls, err := t.LockLiveSpec(ctx, ref)
		if err != nil {
			return nil, err
		}
		if ls != nil {
			out[ref] = *ls
		}
	}
	return out, nil
}

// Dependents returns the catalog names of every live spec whose
// reads_from or writes_to includes name, i.e. the set whose builds must
// be refreshed when name changes (§4.5 step 1 "expansion set").
func (t *Tx) Dependents(ctx context.Context, name names.Catalog) ([]names.Catalog, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT catalog_name, reads_from, writes_to FROM live_specs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []names.Catalog
	for rows.Next() {
		var n, readsFrom, writesTo string
		if err := rows.Scan(&n, &readsFrom, &writesTo); err != nil {
			return nil, err
		}
		var reads, writes []names.Catalog
		_ = json.Unmarshal([]byte(readsFrom), &reads)
		_ = json.Unmarshal([]byte(writesTo), &writes)
		for _, r := range append(reads, writes...) {
			if r == name {
				out = append(out, names.Catalog(n))
				break
			}
		}
	}
	return out, rows.Err()
}

// PublicationRecord is a row of the publications table, surfaced at GET
// /publications/{id} (§6) alongside the live specs it touched.
type PublicationRecord struct {
	ID        int64
	CreatedAt time.Time
	Status    string
}

// GetPublication loads a publications row by id, returning found=false if
// no such publication exists.
func (s *Store) GetPublication(ctx context.Context, id int64) (rec PublicationRecord, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT id, created_at, status FROM publications WHERE id = ?`, id).
		Scan(&rec.ID, &rec.CreatedAt, &rec.Status)
	if err == sql.ErrNoRows {
		return PublicationRecord{}, false, nil
	} else if err != nil {
		return PublicationRecord{}, false, err
	}
	return rec, true, nil
}

// ListPublicationSpecs returns every publication_specs row committed
// under pubID, i.e. the live specs a publication touched.
func (s *Store) ListPublicationSpecs(ctx context.Context, pubID int64) ([]models.PublicationSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT live_spec_id, pub_id, published_at, user_id, spec, detail
		FROM publication_specs WHERE pub_id = ?`, pubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PublicationSpec
	for rows.Next() {
		var p models.PublicationSpec
		var spec string
		var detail sql.NullString
		if err := rows.Scan(&p.LiveSpecID, &p.PubID, &p.PublishedAt, &p.UserID, &spec, &detail); err != nil {
			return nil, err
		}
		p.Spec = json.RawMessage(spec)
		p.Detail = detail.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// now is indirected so tests can pin it; production always uses the
// database's CURRENT_TIMESTAMP for persisted rows and time.Now only for
// in-memory timer math (controllers, snapshot refresh).
var now = time.Now
