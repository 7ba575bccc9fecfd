package tasks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

func setup(t *testing.T) (*store.Store, *Tracker) {
	t.Helper()
	st, err := store.New(sitemap.SiteMap{ID: "m", OwnerID: "owner", Name: "Fest", Width: 500, Height: 500, Scale: 1})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = st.Place(ctx, &sitemap.Tent{
		Base:      sitemap.Base{ID: "tent"},
		Placement: sitemap.Placement{Rect: geometry.Rect{X: 10, Y: 10, Width: 20, Height: 20}},
		Number:    "A1",
	}, "owner")
	require.NoError(t, err)
	_, err = st.Place(ctx, &sitemap.Measurement{
		Base:  sitemap.Base{ID: "ruler"},
		Type:  sitemap.MeasureDistance,
		Start: geometry.Point{X: 0, Y: 0},
		End:   geometry.Point{X: 10, Y: 0},
	}, "owner")
	require.NoError(t, err)

	n := 0
	tr, err := NewTracker(ctx, "m", st, WithIDGenerator(func() string { n++; return fmt.Sprintf("task-%d", n) }))
	require.NoError(t, err)
	return st, tr
}

func TestStatusMachine(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusBlocked, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusBlocked, StatusInProgress, true},
		{StatusBlocked, StatusCompleted, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestLifecycle(t *testing.T) {
	_, tr := setup(t)
	ctx := context.Background()

	v, err := tr.Create(ctx, NewTask{ElementID: "tent", Type: TypeSetup, Description: "pitch tent"}, "owner")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)
	assert.Equal(t, sitemap.KindTent, v.ElementType)
	assert.Equal(t, PriorityMedium, v.Priority)

	_, err = tr.Transition(ctx, v.ID, StatusCompleted, "crew", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	for _, to := range []Status{StatusInProgress, StatusBlocked, StatusInProgress, StatusCompleted} {
		v, err = tr.Transition(ctx, v.ID, to, "crew", "")
		require.NoError(t, err, to)
	}
	assert.Equal(t, StatusCompleted, v.Status)
	require.Len(t, v.History, 4)
	assert.Equal(t, StatusBlocked, v.History[1].To)

	_, err = tr.Assign(ctx, v.ID, "someone")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = tr.Transition(ctx, "nope", StatusInProgress, "crew", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	_, tr := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	tests := []struct {
		name string
		in   NewTask
		want error
	}{
		{"missing element", NewTask{ElementID: "ghost", Description: "x"}, store.ErrNotFound},
		{"wrong element type", NewTask{ElementID: "tent", ElementType: sitemap.KindZone, Description: "x"}, ErrInvalid},
		{"unknown type", NewTask{ElementID: "tent", Type: "juggling", Description: "x"}, ErrInvalid},
		{"no description", NewTask{ElementID: "tent"}, ErrInvalid},
		{"backwards schedule", NewTask{ElementID: "tent", Description: "x", ScheduledStart: &start, ScheduledEnd: &end}, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Create(ctx, tt.in, "owner")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTasksOutliveTheirEntity(t *testing.T) {
	st, tr := setup(t)
	ctx := context.Background()

	onTent, err := tr.Create(ctx, NewTask{ElementID: "tent", Type: TypeCleaning, Description: "sweep"}, "owner")
	require.NoError(t, err)
	onRuler, err := tr.Create(ctx, NewTask{ElementID: "ruler", Type: TypeInspection, Description: "check"}, "owner")
	require.NoError(t, err)

	// Tents are soft-deleted, measurements are removed outright.
	_, err = st.Delete(ctx, "tent", "owner")
	require.NoError(t, err)
	_, err = st.Delete(ctx, "ruler", "owner")
	require.NoError(t, err)

	all := tr.List(Filter{})
	require.Len(t, all, 2)
	for _, v := range all {
		assert.True(t, v.EntityRemoved, v.ID)
	}
	got, err := tr.Get(onRuler.ID)
	require.NoError(t, err)
	assert.True(t, got.EntityRemoved)

	_, err = tr.Transition(ctx, onTent.ID, StatusCancelled, "owner", "tent struck")
	require.NoError(t, err)
	assert.Len(t, tr.List(Filter{Status: StatusCancelled}), 1)
	assert.Len(t, tr.List(Filter{ElementID: "ruler"}), 1)

	_, err = tr.Create(ctx, NewTask{ElementID: "tent", Description: "again"}, "owner")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAssign(t *testing.T) {
	_, tr := setup(t)
	ctx := context.Background()
	v, err := tr.Create(ctx, NewTask{ElementID: "tent", Description: "stock"}, "owner")
	require.NoError(t, err)
	_, err = tr.Assign(ctx, v.ID, "crew-7")
	require.NoError(t, err)
	assert.Len(t, tr.List(Filter{AssigneeID: "crew-7"}), 1)
}
