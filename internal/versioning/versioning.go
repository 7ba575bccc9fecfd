// Package versioning keeps immutable snapshots of a site map. Snapshots are
// canonical JSON (RFC 8785) with a sha256 digest, so a stored version can be
// verified before it is restored.
package versioning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/kyleqd/sitemap/internal/store"
)

var (
	ErrNotFound = errors.New("version not found")
	ErrCorrupt  = errors.New("version snapshot is corrupt")
)

// Version is one immutable snapshot. Snapshot holds the canonical export.
type Version struct {
	ID          string          `json:"id"`
	SiteMapID   string          `json:"siteMapId"`
	Number      int             `json:"number"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Auto        bool            `json:"auto"`
	Seq         uint64          `json:"seq"`
	Digest      string          `json:"digest"`
	Entities    int             `json:"entityCount"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
}

// Summary drops the snapshot body.
func (v Version) Summary() Version {
	v.Snapshot = nil
	return v
}

// Repository persists versions. Implementations must keep versions
// immutable once saved.
type Repository interface {
	SaveVersion(ctx context.Context, v Version) error
	LoadVersions(ctx context.Context, mapID string) ([]Version, error)
	SetCurrentVersion(ctx context.Context, mapID, versionID string) error
	CurrentVersion(ctx context.Context, mapID string) (string, error)
}

type Manager struct {
	store  *store.Store
	repo   Repository
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	// restoreMu serialises checkpoint-then-replace sequences.
	restoreMu sync.Mutex

	mu       sync.RWMutex
	versions []Version
	current  string
}

type Option func(*Manager)

func WithRepository(r Repository) Option     { return func(m *Manager) { m.repo = r } }
func WithClock(now func() time.Time) Option  { return func(m *Manager) { m.now = now } }
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }
func WithLogger(logger *slog.Logger) Option  { return func(m *Manager) { m.logger = logger } }

// NewManager returns a manager for st, loading any versions the repository
// already holds.
func NewManager(ctx context.Context, st *store.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  st,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.repo == nil {
		return m, nil
	}
	versions, err := m.repo.LoadVersions(ctx, st.ID())
	if err != nil {
		return nil, fmt.Errorf("loading versions: %w", err)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Number < versions[j].Number })
	current, err := m.repo.CurrentVersion(ctx, st.ID())
	if err != nil {
		return nil, fmt.Errorf("loading current version: %w", err)
	}
	m.versions, m.current = versions, current
	return m, nil
}

// Canonical encodes the store's state as canonical JSON.
func Canonical(st *store.Store) ([]byte, uint64, error) {
	x := st.Export()
	x.ExportedAt = time.Time{}
	raw, err := json.Marshal(x)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding snapshot: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("canonicalising snapshot: %w", err)
	}
	return canon, x.Seq, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CreateVersion snapshots the live state. Live state is not changed apart
// from the map's version counter.
func (m *Manager) CreateVersion(ctx context.Context, name, description, by string) (Version, error) {
	return m.create(ctx, name, description, by, false)
}

func (m *Manager) create(ctx context.Context, name, description, by string, auto bool) (Version, error) {
	if name == "" {
		return Version{}, fmt.Errorf("%w: version needs a name", store.ErrInvalid)
	}
	snap, seq, err := Canonical(m.store)
	if err != nil {
		return Version{}, err
	}

	m.mu.Lock()
	v := Version{
		ID:          m.newID(),
		SiteMapID:   m.store.ID(),
		Number:      m.nextNumber(),
		Name:        name,
		Description: description,
		Auto:        auto,
		Seq:         seq,
		Digest:      digest(snap),
		Entities:    len(m.store.List("", true)),
		CreatedBy:   by,
		CreatedAt:   m.now(),
		Snapshot:    snap,
	}
	if m.repo != nil {
		if err := m.repo.SaveVersion(ctx, v); err != nil {
			m.mu.Unlock()
			return Version{}, fmt.Errorf("saving version: %w", err)
		}
	}
	m.versions = append(m.versions, v)
	m.mu.Unlock()

	if _, err := m.store.NoteVersion(ctx, v.Number, by); err != nil {
		m.logger.Warn("recording version number on map", "map", v.SiteMapID, "version", v.Number, "error", err)
	}
	m.logger.Info("version created", "map", v.SiteMapID, "version", v.Number, "auto", auto, "digest", v.Digest)
	return v, nil
}

func (m *Manager) nextNumber() int {
	if len(m.versions) == 0 {
		return 1
	}
	return m.versions[len(m.versions)-1].Number + 1
}

// List returns version summaries, oldest first.
func (m *Manager) List() []Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Version, len(m.versions))
	for i, v := range m.versions {
		out[i] = v.Summary()
	}
	return out
}

// Get returns a version with its snapshot after checking the digest.
func (m *Manager) Get(id string) (Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.ID != id {
			continue
		}
		if digest(v.Snapshot) != v.Digest {
			m.logger.Error("version digest mismatch", "map", v.SiteMapID, "version", v.ID)
			return Version{}, fmt.Errorf("%w: %s", ErrCorrupt, id)
		}
		return v, nil
	}
	return Version{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// SetCurrent marks id as the current version. Nothing else changes.
func (m *Manager) SetCurrent(ctx context.Context, id string) error {
	if _, err := m.Get(id); err != nil {
		return err
	}
	if m.repo != nil {
		if err := m.repo.SetCurrentVersion(ctx, m.store.ID(), id); err != nil {
			return fmt.Errorf("saving current version: %w", err)
		}
	}
	m.mu.Lock()
	m.current = id
	m.mu.Unlock()
	return nil
}

// Current returns the current version summary, if one is marked.
func (m *Manager) Current() (Version, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.ID == m.current {
			return v.Summary(), true
		}
	}
	return Version{}, false
}

// RestoreResult reports what a restore did.
type RestoreResult struct {
	Restored   Version `json:"restored"`
	Checkpoint Version `json:"checkpoint"`
	Seq        uint64  `json:"seq"`
}

// Restore replaces the live state with version id. The live state is first
// saved as an automatic checkpoint so the restore can itself be undone.
func (m *Manager) Restore(ctx context.Context, id, by string) (RestoreResult, error) {
	m.restoreMu.Lock()
	defer m.restoreMu.Unlock()

	target, err := m.Get(id)
	if err != nil {
		return RestoreResult{}, err
	}
	x, err := store.UnmarshalExport(target.Snapshot)
	if err != nil {
		m.logger.Error("decoding version snapshot", "map", target.SiteMapID, "version", id, "error", err)
		return RestoreResult{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	cp, err := m.create(ctx, fmt.Sprintf("Before restoring %q", target.Name),
		fmt.Sprintf("automatic checkpoint before restoring version %d", target.Number), by, true)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("checkpointing live state: %w", err)
	}

	res, err := m.store.Replace(ctx, x, by)
	if err != nil {
		return RestoreResult{}, err
	}
	if err := m.SetCurrent(ctx, target.ID); err != nil {
		return RestoreResult{}, err
	}
	m.logger.Info("version restored", "map", target.SiteMapID, "version", target.Number, "checkpoint", cp.Number)
	return RestoreResult{Restored: target.Summary(), Checkpoint: cp.Summary(), Seq: res.Seq}, nil
}
