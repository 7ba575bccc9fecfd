// Package persist stores site maps, their change log, versions and tasks in
// libSQL. Documents are kept as JSONB next to the columns they are queried
// by.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
	"github.com/kyleqd/sitemap/internal/tasks"
	"github.com/kyleqd/sitemap/internal/versioning"
)

var ErrNotFound = errors.New("not found")

const timeLayout = "2006-01-02T15:04:05.000Z"

func stamp(t time.Time) string { return t.UTC().Format(timeLayout) }

// MapSummary is one row of the map listing.
type MapSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	OwnerID   string            `json:"ownerId"`
	Status    sitemap.MapStatus `json:"status"`
	Seq       uint64            `json:"seq"`
	UpdatedAt string            `json:"updatedAt"`
}

// ChangeRecord is a persisted change event. Data is the event as JSON.
type ChangeRecord struct {
	MapID     string          `json:"mapId"`
	Seq       uint64          `json:"seq"`
	Type      store.EventType `json:"type"`
	EntityID  string          `json:"entityId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	CreatedAt string          `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// DocStore implements the map, version and task repositories on one
// database. Tables are created by the migrations package.
type DocStore struct {
	db *sql.DB
}

var (
	_ versioning.Repository = (*DocStore)(nil)
	_ tasks.Repository      = (*DocStore)(nil)
)

func NewDocStore(db *sql.DB) *DocStore {
	return &DocStore{db: db}
}

func (s *DocStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DocStore) getJSON(ctx context.Context, query string, dest any, args ...any) error {
	var data string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// SaveMap upserts the full export of a map.
func (s *DocStore) SaveMap(ctx context.Context, x sitemap.Export) error {
	data, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("encoding map %s: %w", x.Map.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO site_maps (id, name, owner_id, status, seq, updated_at, data) VALUES (?, ?, ?, ?, ?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, owner_id = excluded.owner_id, status = excluded.status,
		 seq = excluded.seq, updated_at = excluded.updated_at, data = excluded.data`,
		x.Map.ID, x.Map.Name, x.Map.OwnerID, string(x.Map.Status), int64(x.Seq), stamp(x.Map.UpdatedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving map %s: %w", x.Map.ID, err)
	}
	return nil
}

// LoadMap returns the stored export of a map. The document is validated
// against the export schema on the way out.
func (s *DocStore) LoadMap(ctx context.Context, id string) (sitemap.Export, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT json(data) FROM site_maps WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return sitemap.Export{}, fmt.Errorf("map %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return sitemap.Export{}, fmt.Errorf("loading map %s: %w", id, err)
	}
	return store.UnmarshalExport([]byte(data))
}

func (s *DocStore) ListMaps(ctx context.Context) ([]MapSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, status, seq, updated_at FROM site_maps ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing maps: %w", err)
	}
	defer rows.Close()

	out := []MapSummary{}
	for rows.Next() {
		var m MapSummary
		var seq int64
		if err := rows.Scan(&m.ID, &m.Name, &m.OwnerID, &m.Status, &seq, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Seq = uint64(seq)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendChanges writes events to the change log in one transaction.
// Events already logged are skipped.
func (s *DocStore) AppendChanges(ctx context.Context, events []store.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding change %d: %w", ev.Seq, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO change_log (map_id, seq, type, entity_id, user_id, created_at, data) VALUES (?, ?, ?, ?, ?, ?, jsonb(?))
			 ON CONFLICT(map_id, seq) DO NOTHING`,
			ev.SiteMapID, int64(ev.Seq), string(ev.Type), ev.EntityID, ev.UserID, stamp(ev.Timestamp), string(data),
		)
		if err != nil {
			return fmt.Errorf("appending change %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

// Changes returns logged events after seq, oldest first. A limit of zero
// means no limit.
func (s *DocStore) Changes(ctx context.Context, mapID string, after uint64, limit int) ([]ChangeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, type, entity_id, user_id, created_at, json(data) FROM change_log
		 WHERE map_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		mapID, int64(after), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading change log: %w", err)
	}
	defer rows.Close()

	out := []ChangeRecord{}
	for rows.Next() {
		r := ChangeRecord{MapID: mapID}
		var seq int64
		var data string
		if err := rows.Scan(&seq, &r.Type, &r.EntityID, &r.UserID, &r.CreatedAt, &data); err != nil {
			return nil, err
		}
		r.Seq, r.Data = uint64(seq), json.RawMessage(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Versions

// SaveVersion inserts a version. The snapshot is stored as text so its
// digest still matches when read back.
func (s *DocStore) SaveVersion(ctx context.Context, v versioning.Version) error {
	meta, err := json.Marshal(v.Summary())
	if err != nil {
		return fmt.Errorf("encoding version %s: %w", v.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO versions (id, map_id, number, digest, meta, snapshot) VALUES (?, ?, ?, ?, jsonb(?), ?)`,
		v.ID, v.SiteMapID, v.Number, v.Digest, string(meta), string(v.Snapshot),
	)
	if err != nil {
		return fmt.Errorf("saving version %s: %w", v.ID, err)
	}
	return nil
}

func (s *DocStore) LoadVersions(ctx context.Context, mapID string) ([]versioning.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json(meta), snapshot FROM versions WHERE map_id = ? ORDER BY number`, mapID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading versions: %w", err)
	}
	defer rows.Close()

	var out []versioning.Version
	for rows.Next() {
		var meta, snapshot string
		if err := rows.Scan(&meta, &snapshot); err != nil {
			return nil, err
		}
		var v versioning.Version
		if err := json.Unmarshal([]byte(meta), &v); err != nil {
			return nil, fmt.Errorf("decoding version: %w", err)
		}
		v.Snapshot = json.RawMessage(snapshot)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *DocStore) SetCurrentVersion(ctx context.Context, mapID, versionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO current_versions (map_id, version_id) VALUES (?, ?)
		 ON CONFLICT(map_id) DO UPDATE SET version_id = excluded.version_id`,
		mapID, versionID,
	)
	if err != nil {
		return fmt.Errorf("setting current version: %w", err)
	}
	return nil
}

// CurrentVersion returns "" when no version is marked current.
func (s *DocStore) CurrentVersion(ctx context.Context, mapID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT version_id FROM current_versions WHERE map_id = ?`, mapID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading current version: %w", err)
	}
	return id, nil
}

// Tasks

func (s *DocStore) SaveTask(ctx context.Context, t tasks.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, map_id, element_id, status, data) VALUES (?, ?, ?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, data = excluded.data`,
		t.ID, t.SiteMapID, t.ElementID, string(t.Status), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	return nil
}

func (s *DocStore) LoadTasks(ctx context.Context, mapID string) ([]tasks.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json(data) FROM tasks WHERE map_id = ? ORDER BY id`, mapID)
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	defer rows.Close()

	var out []tasks.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t tasks.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decoding task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Task returns a single stored task.
func (s *DocStore) Task(ctx context.Context, id string) (tasks.Task, error) {
	var t tasks.Task
	if err := s.getJSON(ctx, `SELECT json(data) FROM tasks WHERE id = ?`, &t, id); err != nil {
		return tasks.Task{}, fmt.Errorf("task %s: %w", id, err)
	}
	return t, nil
}
