package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kyleqd/sitemap/internal/store"
)

// Recorder follows a store's change stream. Events are buffered inside the
// store callback and written by Run: the change log is appended and the
// map document rewritten on every flush.
type Recorder struct {
	store    *store.Store
	docs     *DocStore
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []store.ChangeEvent

	unsubscribe func()
}

func NewRecorder(st *store.Store, docs *DocStore, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	r := &Recorder{store: st, docs: docs, interval: interval, logger: logger}
	r.unsubscribe = st.Subscribe(r.record)
	return r
}

func (r *Recorder) record(ev store.ChangeEvent) {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()
}

// Pending reports how many events await a flush.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush saves the map and appends buffered events. On failure the events
// stay buffered for the next attempt.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	// The map row goes first; change_log rows reference it.
	err := r.docs.SaveMap(ctx, r.store.Export())
	if err == nil {
		err = r.docs.AppendChanges(ctx, batch)
	}
	if err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return err
	}
	r.logger.Debug("map persisted", "map", r.store.ID(), "events", len(batch), "seq", batch[len(batch)-1].Seq)
	return nil
}

// Run flushes on every tick until ctx ends, then flushes once more and
// stops following the store.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.unsubscribe()
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return r.Flush(final)
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Error("persisting map", "map", r.store.ID(), "error", err)
			}
		}
	}
}
