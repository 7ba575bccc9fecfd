// Package store holds the authoritative entity state of one site map. Every
// mutation goes through a funnel operation that validates the change with
// the rules engine before anything is written, commits it atomically, and
// emits change events in a single per-map sequence.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrExists            = errors.New("already exists")
	ErrInvalid           = errors.New("invalid entity")
	ErrArchived          = errors.New("site map is archived")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidExport     = errors.New("invalid export document")
)

// NotFoundError names the missing entity or issue.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string       { return fmt.Sprintf("%s: %s", e.ID, ErrNotFound) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func notFound(id string) error { return &NotFoundError{ID: id} }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Result is returned by every successful funnel operation. Warnings carries
// the soft violations the change produced; they are also tracked as issues.
type Result struct {
	EntityID string            `json:"entityId,omitempty"`
	Seq      uint64            `json:"seq"`
	Warnings []rules.Violation `json:"warnings,omitempty"`
}

// state is everything a rule may read. The store guards it.
type state struct {
	siteMap   sitemap.SiteMap
	entities  map[string]sitemap.Entity
	index     *geometry.Index
	consumers map[string]map[string]struct{}
	issues    map[string]*sitemap.MapIssue
	byEntity  map[string]map[string]string // entity -> rule -> issue id
	catalog   *sitemap.Catalog
}

func newState(m sitemap.SiteMap, cellSize float64, catalog *sitemap.Catalog) *state {
	return &state{
		siteMap:   m,
		entities:  make(map[string]sitemap.Entity),
		index:     geometry.NewIndex(cellSize),
		consumers: make(map[string]map[string]struct{}),
		issues:    make(map[string]*sitemap.MapIssue),
		byEntity:  make(map[string]map[string]string),
		catalog:   catalog,
	}
}

// link indexes e. Deleted entities are kept but never indexed.
func (st *state) link(e sitemap.Entity) {
	id := e.Header().ID
	st.entities[id] = e
	if !sitemap.Live(e) {
		return
	}
	if s, ok := e.(sitemap.Spatial); ok {
		st.index.Insert(id, s.Footprint())
	}
	if eq, ok := e.(*sitemap.EquipmentInstance); ok && eq.PowerSource() != "" {
		src := eq.PowerSource()
		if st.consumers[src] == nil {
			st.consumers[src] = make(map[string]struct{})
		}
		st.consumers[src][id] = struct{}{}
	}
}

func (st *state) unlink(e sitemap.Entity) {
	id := e.Header().ID
	delete(st.entities, id)
	st.index.Remove(id)
	if eq, ok := e.(*sitemap.EquipmentInstance); ok && eq.PowerSource() != "" {
		src := eq.PowerSource()
		delete(st.consumers[src], id)
		if len(st.consumers[src]) == 0 {
			delete(st.consumers, src)
		}
	}
}

func (st *state) addIssue(iss *sitemap.MapIssue) {
	st.issues[iss.ID] = iss
	if iss.RuleID == "" || iss.Status != sitemap.IssueOpen {
		return
	}
	if st.byEntity[iss.EntityID] == nil {
		st.byEntity[iss.EntityID] = make(map[string]string)
	}
	st.byEntity[iss.EntityID][iss.RuleID] = iss.ID
}

func (st *state) dropIssueKey(iss *sitemap.MapIssue) {
	if keys := st.byEntity[iss.EntityID]; keys != nil && keys[iss.RuleID] == iss.ID {
		delete(keys, iss.RuleID)
		if len(keys) == 0 {
			delete(st.byEntity, iss.EntityID)
		}
	}
}

// view adapts state to rules.View.
type view struct{ st *state }

func (v view) Map() sitemap.SiteMap { return v.st.siteMap }

func (v view) Entity(id string) (sitemap.Entity, bool) {
	e, ok := v.st.entities[id]
	return e, ok
}

func (v view) Overlapping(r geometry.Rect) []sitemap.Spatial {
	ids := v.st.index.Query(r)
	out := make([]sitemap.Spatial, 0, len(ids))
	for _, id := range ids {
		if s, ok := v.st.entities[id].(sitemap.Spatial); ok {
			out = append(out, s)
		}
	}
	return out
}

func (v view) Consumers(powerID string) []*sitemap.EquipmentInstance {
	ids := make([]string, 0, len(v.st.consumers[powerID]))
	for id := range v.st.consumers[powerID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*sitemap.EquipmentInstance, 0, len(ids))
	for _, id := range ids {
		if e, ok := v.st.entities[id].(*sitemap.EquipmentInstance); ok {
			out = append(out, e)
		}
	}
	return out
}

func (v view) CatalogEntry(id string) (sitemap.CatalogEntry, bool) {
	return v.st.catalog.Get(id)
}

// Store is the single source of truth for one site map. Reads may run
// concurrently; funnel operations are serialised.
type Store struct {
	engine   *rules.Engine
	catalog  *sitemap.Catalog
	cellSize float64
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	id  string
	mu  sync.RWMutex
	st  *state
	seq uint64

	// writer serialises funnel operations including event delivery, so
	// subscribers see events in commit order and may read the store.
	writer  sync.Mutex
	subMu   sync.Mutex
	subs    map[int]func(ChangeEvent)
	nextSub int
}

type Option func(*Store)

func WithEngine(e *rules.Engine) Option      { return func(s *Store) { s.engine = e } }
func WithCatalog(c *sitemap.Catalog) Option  { return func(s *Store) { s.catalog = c } }
func WithCellSize(size float64) Option       { return func(s *Store) { s.cellSize = size } }
func WithClock(now func() time.Time) Option  { return func(s *Store) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Store) { s.newID = f } }
func WithLogger(logger *slog.Logger) Option  { return func(s *Store) { s.logger = logger } }

// New returns an empty store for m. Missing id, status and timestamps are
// filled in.
func New(m sitemap.SiteMap, opts ...Option) (*Store, error) {
	s := &Store{
		cellSize: geometry.DefaultCellSize,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   slog.Default(),
		subs:     make(map[int]func(ChangeEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = rules.Default()
	}
	if s.catalog == nil {
		s.catalog = sitemap.NewCatalog()
	}

	if m.ID == "" {
		m.ID = s.newID()
	}
	if m.Status == "" {
		m.Status = sitemap.MapStatusDraft
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s.id = m.ID
	s.st = newState(m, s.cellSize, s.catalog)
	return s, nil
}

func (s *Store) ID() string { return s.id }

func (s *Store) Engine() *rules.Engine     { return s.engine }
func (s *Store) Catalog() *sitemap.Catalog { return s.catalog }
