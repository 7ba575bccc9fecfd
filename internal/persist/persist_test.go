package persist_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kyleqd/sitemap/internal/database"
	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/migrations"
	"github.com/kyleqd/sitemap/internal/persist"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
	"github.com/kyleqd/sitemap/internal/tasks"
	"github.com/kyleqd/sitemap/internal/versioning"
)

func setupDocs(t *testing.T) *persist.DocStore {
	t.Helper()
	db, err := database.Open(context.Background(), database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(context.Background(), db, quiet()); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return persist.NewDocStore(db)
}

func newMap(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(sitemap.SiteMap{ID: "fest", OwnerID: "owner", Name: "Fest", Width: 400, Height: 300, Scale: 0.25})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = st.Place(context.Background(), &sitemap.Zone{
		Base:      sitemap.Base{ID: "camp"},
		Placement: sitemap.Placement{Rect: geometry.Rect{X: 10, Y: 10, Width: 100, Height: 100}},
		Name:      "Camp",
		Type:      sitemap.ZoneGlamping,
	}, "owner")
	if err != nil {
		t.Fatalf("placing zone: %v", err)
	}
	return st
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMapRoundTrip(t *testing.T) {
	docs := setupDocs(t)
	ctx := context.Background()
	st := newMap(t)

	if err := docs.SaveMap(ctx, st.Export()); err != nil {
		t.Fatalf("saving map: %v", err)
	}
	x, err := docs.LoadMap(ctx, "fest")
	if err != nil {
		t.Fatalf("loading map: %v", err)
	}
	if len(x.Zones) != 1 || x.Zones[0].ID != "camp" || x.Zones[0].Width != 100 {
		t.Errorf("zones = %+v, want the camp zone", x.Zones)
	}
	if x.Map.Scale != 0.25 {
		t.Errorf("scale = %v, want 0.25", x.Map.Scale)
	}

	restored, err := store.Import(x)
	if err != nil {
		t.Fatalf("importing loaded map: %v", err)
	}
	if restored.Seq() != st.Seq() {
		t.Errorf("seq = %d, want %d", restored.Seq(), st.Seq())
	}

	maps, err := docs.ListMaps(ctx)
	if err != nil {
		t.Fatalf("listing maps: %v", err)
	}
	if len(maps) != 1 || maps[0].Name != "Fest" || maps[0].Status != sitemap.MapStatusDraft {
		t.Errorf("maps = %+v", maps)
	}

	if _, err := docs.LoadMap(ctx, "missing"); err == nil {
		t.Error("expected error for missing map")
	}
}

func TestRecorderPersistsChanges(t *testing.T) {
	docs := setupDocs(t)
	st := newMap(t)
	rec := persist.NewRecorder(st, docs, time.Hour, quiet())
	ctx := context.Background()

	if _, err := st.Move(ctx, "camp", 50, 60, 0, "owner"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := st.Update(ctx, "camp", map[string]any{"name": "Camp North"}, "owner"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", rec.Pending())
	}
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	changes, err := docs.Changes(ctx, "fest", 0, 0)
	if err != nil {
		t.Fatalf("reading changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if changes[0].Type != store.EventMoved || changes[1].Type != store.EventUpdated {
		t.Errorf("types = %s, %s", changes[0].Type, changes[1].Type)
	}
	if changes[0].Seq >= changes[1].Seq {
		t.Errorf("sequence not increasing: %d, %d", changes[0].Seq, changes[1].Seq)
	}

	after, err := docs.Changes(ctx, "fest", changes[0].Seq, 0)
	if err != nil || len(after) != 1 {
		t.Fatalf("changes after %d = %d, %v", changes[0].Seq, len(after), err)
	}

	x, err := docs.LoadMap(ctx, "fest")
	if err != nil {
		t.Fatalf("loading map: %v", err)
	}
	if x.Zones[0].Name != "Camp North" || x.Zones[0].X != 50 {
		t.Errorf("stored zone = %+v", x.Zones[0])
	}
}

func TestRecorderRunFlushesOnStop(t *testing.T) {
	docs := setupDocs(t)
	st := newMap(t)
	rec := persist.NewRecorder(st, docs, time.Hour, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	if _, err := st.Move(context.Background(), "camp", 20, 20, 0, "owner"); err != nil {
		t.Fatalf("move: %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	changes, err := docs.Changes(context.Background(), "fest", 0, 0)
	if err != nil || len(changes) != 1 {
		t.Fatalf("changes = %d, %v", len(changes), err)
	}
}

func TestVersionsSurviveReload(t *testing.T) {
	docs := setupDocs(t)
	st := newMap(t)
	ctx := context.Background()
	if err := docs.SaveMap(ctx, st.Export()); err != nil {
		t.Fatalf("saving map: %v", err)
	}

	m, err := versioning.NewManager(ctx, st, versioning.WithRepository(docs), versioning.WithLogger(quiet()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	v1, err := m.CreateVersion(ctx, "v1", "opening layout", "owner")
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if err := m.SetCurrent(ctx, v1.ID); err != nil {
		t.Fatalf("set current: %v", err)
	}

	reloaded, err := versioning.NewManager(ctx, st, versioning.WithRepository(docs))
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	got, err := reloaded.Get(v1.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.Digest != v1.Digest || got.Name != "v1" {
		t.Errorf("version = %+v", got.Summary())
	}
	if cur, ok := reloaded.Current(); !ok || cur.ID != v1.ID {
		t.Errorf("current = %+v, %v", cur, ok)
	}
}

func TestTasksSurviveReload(t *testing.T) {
	docs := setupDocs(t)
	st := newMap(t)
	ctx := context.Background()
	if err := docs.SaveMap(ctx, st.Export()); err != nil {
		t.Fatalf("saving map: %v", err)
	}

	tr, err := tasks.NewTracker(ctx, "fest", st, tasks.WithRepository(docs))
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	v, err := tr.Create(ctx, tasks.NewTask{ElementID: "camp", Type: tasks.TypeSetup, Description: "mark pitches"}, "owner")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := tr.Transition(ctx, v.ID, tasks.StatusInProgress, "crew", ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	again, err := tasks.NewTracker(ctx, "fest", st, tasks.WithRepository(docs))
	if err != nil {
		t.Fatalf("reloading tracker: %v", err)
	}
	got, err := again.Get(v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tasks.StatusInProgress || len(got.History) != 1 {
		t.Errorf("task = %+v", got)
	}

	stored, err := docs.Task(ctx, v.ID)
	if err != nil || stored.ElementID != "camp" {
		t.Errorf("stored task = %+v, %v", stored, err)
	}
}
