// Package editor owns the live workspaces of every open site map: the
// entity store and the managers built on it, plus the background workers
// that publish collaboration events and persist changes.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/layers"
	"github.com/kyleqd/sitemap/internal/persist"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
	"github.com/kyleqd/sitemap/internal/tasks"
	"github.com/kyleqd/sitemap/internal/versioning"
)

var ErrClosed = errors.New("registry is closed")

// Workspace is everything needed to edit one map.
type Workspace struct {
	Store    *store.Store
	Layers   *layers.Manager
	Versions *versioning.Manager
	Tasks    *tasks.Tracker
	Session  *collab.Session
	Recorder *persist.Recorder
}

type Options struct {
	Engine        *rules.Engine
	Catalog       *sitemap.Catalog
	CellSize      float64
	Collab        collab.Config
	Transport     collab.Transport
	Docs          *persist.DocStore
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Registry hands out one workspace per map id, loading it from the
// document store on first use.
type Registry struct {
	opts   Options
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	spaces map[string]*Workspace
	closed bool
}

func NewRegistry(ctx context.Context, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Catalog == nil {
		opts.Catalog = sitemap.NewCatalog()
	}
	if opts.Transport == nil {
		opts.Transport = collab.NewMemoryTransport()
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	return &Registry{
		opts:   opts,
		group:  g,
		ctx:    gctx,
		cancel: cancel,
		spaces: make(map[string]*Workspace),
	}
}

func (r *Registry) Catalog() *sitemap.Catalog { return r.opts.Catalog }

func (r *Registry) storeOptions() []store.Option {
	opts := []store.Option{store.WithCatalog(r.opts.Catalog), store.WithLogger(r.opts.Logger)}
	if r.opts.Engine != nil {
		opts = append(opts, store.WithEngine(r.opts.Engine))
	}
	if r.opts.CellSize > 0 {
		opts = append(opts, store.WithCellSize(r.opts.CellSize))
	}
	return opts
}

// Get returns the workspace for id, loading it on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	r.mu.RLock()
	ws, ok := r.spaces[id]
	r.mu.RUnlock()
	if ok {
		return ws, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	// Double-check after acquiring write lock.
	if ws, ok := r.spaces[id]; ok {
		return ws, nil
	}
	if r.opts.Docs == nil {
		return nil, fmt.Errorf("map %s: %w", id, store.ErrNotFound)
	}
	x, err := r.opts.Docs.LoadMap(ctx, id)
	if errors.Is(err, persist.ErrNotFound) {
		return nil, fmt.Errorf("map %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	st, err := store.Import(x, r.storeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("loading map %s: %w", id, err)
	}
	return r.open(ctx, st)
}

// Create starts a new, empty map.
func (r *Registry) Create(ctx context.Context, m sitemap.SiteMap) (*Workspace, error) {
	st, err := store.New(m, r.storeOptions()...)
	if err != nil {
		return nil, err
	}
	return r.add(ctx, st)
}

// Import opens a map from an export document. The map id must be new.
func (r *Registry) Import(ctx context.Context, x sitemap.Export) (*Workspace, error) {
	st, err := store.Import(x, r.storeOptions()...)
	if err != nil {
		return nil, err
	}
	return r.add(ctx, st)
}

func (r *Registry) add(ctx context.Context, st *store.Store) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.spaces[st.ID()]; ok {
		return nil, fmt.Errorf("map %s: %w", st.ID(), store.ErrExists)
	}
	if r.opts.Docs != nil {
		if _, err := r.opts.Docs.LoadMap(ctx, st.ID()); err == nil {
			return nil, fmt.Errorf("map %s: %w", st.ID(), store.ErrExists)
		}
		// Versions and tasks reference the map row.
		if err := r.opts.Docs.SaveMap(ctx, st.Export()); err != nil {
			return nil, err
		}
	}
	return r.open(ctx, st)
}

// open wires a workspace around st and starts its workers. r.mu is held.
func (r *Registry) open(ctx context.Context, st *store.Store) (*Workspace, error) {
	logger := r.opts.Logger.With("map", st.ID())
	var vopts []versioning.Option
	var topts []tasks.Option
	if r.opts.Docs != nil {
		vopts = append(vopts, versioning.WithRepository(r.opts.Docs))
		topts = append(topts, tasks.WithRepository(r.opts.Docs))
	}
	versions, err := versioning.NewManager(ctx, st, append(vopts, versioning.WithLogger(logger))...)
	if err != nil {
		return nil, err
	}
	tracker, err := tasks.NewTracker(ctx, st.ID(), st, append(topts, tasks.WithLogger(logger))...)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		Store:    st,
		Layers:   layers.NewManager(st),
		Versions: versions,
		Tasks:    tracker,
		Session:  collab.NewSession(st, r.opts.Transport, r.opts.Collab, collab.WithLogger(logger)),
	}
	r.group.Go(func() error {
		defer ws.Session.Close()
		return ws.Session.Run(r.ctx)
	})
	if r.opts.Docs != nil {
		ws.Recorder = persist.NewRecorder(st, r.opts.Docs, r.opts.FlushInterval, logger)
		r.group.Go(func() error {
			if err := ws.Recorder.Run(r.ctx); err != nil {
				return fmt.Errorf("persisting map %s: %w", st.ID(), err)
			}
			return nil
		})
	}
	r.spaces[st.ID()] = ws
	logger.Info("workspace opened", "entities", len(st.List("", false)), "seq", st.Seq())
	return ws, nil
}

// Summary describes a map for listings.
type Summary = persist.MapSummary

// List returns every known map: stored ones plus any open but not yet
// persisted.
func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	out := []Summary{}
	seen := map[string]bool{}
	if r.opts.Docs != nil {
		stored, err := r.opts.Docs.ListMaps(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range stored {
			seen[m.ID] = true
		}
		out = append(out, stored...)
	}

	r.mu.RLock()
	for id, ws := range r.spaces {
		m := ws.Store.Map()
		if seen[id] {
			for i := range out {
				if out[i].ID == id {
					out[i].Name, out[i].Status, out[i].Seq = m.Name, m.Status, ws.Store.Seq()
				}
			}
			continue
		}
		out = append(out, Summary{
			ID:        m.ID,
			Name:      m.Name,
			OwnerID:   m.OwnerID,
			Status:    m.Status,
			Seq:       ws.Store.Seq(),
			UpdatedAt: m.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Changes returns persisted change records of map id after seq. Without a
// document store there is no history.
func (r *Registry) Changes(ctx context.Context, id string, after uint64, limit int) ([]persist.ChangeRecord, error) {
	if r.opts.Docs == nil {
		return []persist.ChangeRecord{}, nil
	}
	return r.opts.Docs.Changes(ctx, id, after, limit)
}

// Close stops every worker. Recorders flush before they return.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	return r.group.Wait()
}
