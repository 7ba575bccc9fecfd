package layers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

func setup(t *testing.T) (*store.Store, *Manager) {
	t.Helper()
	s, err := store.New(sitemap.SiteMap{ID: "m", Name: "Fest", Width: 500, Height: 500, Scale: 1})
	require.NoError(t, err)
	return s, NewManager(s)
}

func zoneOn(id, layer string, x, y float64) *sitemap.Zone {
	return &sitemap.Zone{
		Base:      sitemap.Base{ID: id, LayerID: layer},
		Placement: sitemap.Placement{Rect: geometry.Rect{X: x, Y: y, Width: 100, Height: 100}},
		Name:      id,
		Type:      sitemap.ZoneOther,
	}
}

func create(t *testing.T, m *Manager, name string, typ sitemap.LayerType) string {
	t.Helper()
	res, err := m.Create(context.Background(), name, typ, nil, "u")
	require.NoError(t, err)
	return res.EntityID
}

func TestOrdered(t *testing.T) {
	got := Ordered([]*sitemap.Layer{
		{Base: sitemap.Base{ID: "c"}, Name: "b", ZIndex: 1},
		{Base: sitemap.Base{ID: "b"}, Name: "a", ZIndex: 1},
		{Base: sitemap.Base{ID: "a"}, Name: "z", ZIndex: 0},
	})
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRenderOrderAndHitTest(t *testing.T) {
	s, m := setup(t)
	ctx := context.Background()

	base := create(t, m, "Base", sitemap.LayerInfrastructure)
	top := create(t, m, "Top", sitemap.LayerGuest)

	for _, z := range []*sitemap.Zone{
		zoneOn("loose", "", 0, 0),
		zoneOn("lower", base, 50, 50),
		zoneOn("upper", top, 60, 60),
	} {
		_, err := s.Place(ctx, z, "u")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"loose", "lower", "upper"}, m.RenderOrder())
	hit, ok := m.HitTest(geometry.Point{X: 75, Y: 75})
	require.True(t, ok)
	assert.Equal(t, "upper", hit.Header().ID)

	_, err := m.SetVisible(ctx, top, false, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"loose", "lower"}, m.RenderOrder())
	hit, ok = m.HitTest(geometry.Point{X: 75, Y: 75})
	require.True(t, ok)
	assert.Equal(t, "lower", hit.Header().ID)

	_, ok = m.HitTest(geometry.Point{X: 400, Y: 400})
	assert.False(t, ok)

	require.NoError(t, m.Reorder(ctx, []string{top, base}, "u"))
	_, err = m.SetVisible(ctx, top, true, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"loose", "upper", "lower"}, m.RenderOrder())
}

func TestLockedLayerBlocksEdits(t *testing.T) {
	s, m := setup(t)
	ctx := context.Background()
	l := create(t, m, "Safety", sitemap.LayerSafety)
	_, err := s.Place(ctx, zoneOn("z", l, 0, 0), "u")
	require.NoError(t, err)

	_, err = m.SetLocked(ctx, l, true, "u")
	require.NoError(t, err)
	layer, _ := s.Get(l)
	assert.False(t, Editable(layer.(*sitemap.Layer)))

	_, err = s.Move(ctx, "z", 10, 10, 0, "u")
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, rules.RuleLayerLocked, verr.RuleID)

	_, err = m.SetLocked(ctx, l, false, "u")
	require.NoError(t, err)
	_, err = s.Move(ctx, "z", 10, 10, 0, "u")
	require.NoError(t, err)
}

func TestReorderValidates(t *testing.T) {
	_, m := setup(t)
	ctx := context.Background()
	a := create(t, m, "A", sitemap.LayerCrew)
	create(t, m, "B", sitemap.LayerCrew)

	assert.ErrorIs(t, m.Reorder(ctx, []string{a}, "u"), store.ErrInvalid)
	assert.ErrorIs(t, m.Reorder(ctx, []string{a, a}, "u"), store.ErrInvalid)
}
