package sitemap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

func TestSiteMapValidate(t *testing.T) {
	ok := sitemap.SiteMap{ID: "m1", Width: 500, Height: 400, Scale: 0.5, Status: sitemap.MapStatusDraft}
	require.NoError(t, ok.Validate())

	for name, m := range map[string]sitemap.SiteMap{
		"no id":      {Width: 1, Height: 1, Scale: 1, Status: sitemap.MapStatusDraft},
		"zero width": {ID: "m", Height: 1, Scale: 1, Status: sitemap.MapStatusDraft},
		"neg scale":  {ID: "m", Width: 1, Height: 1, Scale: -1, Status: sitemap.MapStatusDraft},
		"bad status": {ID: "m", Width: 1, Height: 1, Scale: 1, Status: "gone"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, m.Validate(), sitemap.ErrInvalidMap)
		})
	}
}

func TestMapStatusTransitions(t *testing.T) {
	assert.True(t, sitemap.MapStatusDraft.CanTransition(sitemap.MapStatusPublished))
	assert.True(t, sitemap.MapStatusPublished.CanTransition(sitemap.MapStatusArchived))
	assert.False(t, sitemap.MapStatusArchived.CanTransition(sitemap.MapStatusDraft))
	assert.False(t, sitemap.MapStatusDraft.CanTransition(sitemap.MapStatusDraft))
}

func TestTentLifecycle(t *testing.T) {
	tent := &sitemap.Tent{Status: sitemap.TentAvailable}
	in := time.Date(2026, 7, 1, 15, 0, 0, 0, time.UTC)

	err := tent.Book(sitemap.Booking{GuestName: "Ada", CheckIn: in, CheckOut: in})
	require.ErrorIs(t, err, sitemap.ErrTentTransition, "zero-length stays are rejected")

	require.NoError(t, tent.Book(sitemap.Booking{GuestName: "Ada", CheckIn: in, CheckOut: in.Add(48 * time.Hour)}))
	assert.Equal(t, sitemap.TentReserved, tent.Status)
	assert.ErrorIs(t, tent.Book(sitemap.Booking{GuestName: "Bo", CheckIn: in, CheckOut: in.Add(time.Hour)}), sitemap.ErrTentTransition)

	require.ErrorIs(t, tent.CheckOut(), sitemap.ErrTentTransition)
	require.NoError(t, tent.CheckIn(in))
	assert.Equal(t, sitemap.TentOccupied, tent.Status)

	require.NoError(t, tent.CheckOut())
	assert.Equal(t, sitemap.TentAvailable, tent.Status)
	assert.Empty(t, tent.GuestName)
	assert.Nil(t, tent.CheckInDate)

	tent.Status = sitemap.TentMaintenance
	assert.ErrorIs(t, tent.CheckIn(in), sitemap.ErrTentTransition)
}

func TestCanPerform(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	c := &sitemap.Collaborator{UserID: "u1", Capabilities: []sitemap.Action{sitemap.ActionEdit, sitemap.ActionManageTents}}
	assert.True(t, sitemap.CanPerform(c, sitemap.ActionManageTents, now))
	assert.False(t, sitemap.CanPerform(c, sitemap.ActionManageZones, now))
	assert.False(t, sitemap.CanPerform(nil, sitemap.ActionEdit, now))

	expired := c.Clone().(*sitemap.Collaborator)
	expired.ExpiresAt = &past
	assert.False(t, sitemap.CanPerform(expired, sitemap.ActionEdit, now))

	revoked := c.Clone().(*sitemap.Collaborator)
	revoked.DeletedAt = &past
	assert.False(t, sitemap.CanPerform(revoked, sitemap.ActionEdit, now))

	assert.Equal(t, sitemap.ActionManageTents, sitemap.RequiredAction(sitemap.KindTent))
	assert.Equal(t, sitemap.ActionManageZones, sitemap.RequiredAction(sitemap.KindZone))
	assert.Equal(t, sitemap.ActionEdit, sitemap.RequiredAction(sitemap.KindEquipment))
}

func TestCloneIsDeep(t *testing.T) {
	capacity := 10
	z := &sitemap.Zone{Capacity: &capacity}
	z.SetFootprint(geometry.Rect{Width: 10, Height: 10})

	c := z.Clone().(*sitemap.Zone)
	*c.Capacity = 20
	c.X = 5
	assert.Equal(t, 10, *z.Capacity)
	assert.Zero(t, z.X)

	e := &sitemap.EquipmentInstance{Power: &sitemap.PowerConnection{PowerSourceID: "p1"}}
	ec := e.Clone().(*sitemap.EquipmentInstance)
	ec.Power.PowerSourceID = "p2"
	assert.Equal(t, "p1", e.PowerSource())
}

func TestEquipmentDraw(t *testing.T) {
	entry := sitemap.CatalogEntry{ID: "c1", PowerDrawWatts: 250}
	e := &sitemap.EquipmentInstance{CatalogID: "c1", Quantity: 2}
	assert.Equal(t, 500.0, e.Draw(entry, true))

	e.PowerDrawWatts = 100
	assert.Equal(t, 200.0, e.Draw(entry, true))

	e.PowerDrawWatts, e.Quantity = 0, 0
	assert.Zero(t, e.Draw(sitemap.CatalogEntry{}, false))
}

func TestPowerApplyLoad(t *testing.T) {
	p := &sitemap.PowerDistribution{TotalWatts: 1000, Status: sitemap.PowerActive}
	p.ApplyLoad(600)
	assert.Equal(t, sitemap.PowerActive, p.Status)
	assert.Equal(t, 400.0, p.AvailableWatts)

	p.ApplyLoad(1100)
	assert.Equal(t, sitemap.PowerOverloaded, p.Status)
	assert.Zero(t, p.AvailableWatts)

	p.ApplyLoad(200)
	assert.Equal(t, sitemap.PowerActive, p.Status)

	p.Status = sitemap.PowerMaintenance
	p.ApplyLoad(5000)
	assert.Equal(t, sitemap.PowerMaintenance, p.Status)
}

func TestCatalog(t *testing.T) {
	cat := sitemap.NewCatalog(sitemap.CatalogEntry{ID: "b", OwnerID: "o1"})
	require.NoError(t, cat.Put(sitemap.CatalogEntry{ID: "a", OwnerID: "o1"}))
	require.NoError(t, cat.Put(sitemap.CatalogEntry{ID: "c", OwnerID: "o2"}))
	require.Error(t, cat.Put(sitemap.CatalogEntry{}))

	got := cat.List("o1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Len(t, cat.List(""), 3)

	_, ok := cat.Get("missing")
	assert.False(t, ok)
}

func TestMeasurementMeters(t *testing.T) {
	m := &sitemap.Measurement{Start: geometry.Point{X: 0, Y: 0}, End: geometry.Point{X: 30, Y: 40}}
	assert.InDelta(t, 5.0, m.Meters(0.1), 1e-9)

	m.Value = 7
	assert.Equal(t, 7.0, m.Meters(0.1))
}

func TestExportEntitiesOrder(t *testing.T) {
	x := sitemap.NewExport(sitemap.SiteMap{ID: "m"})
	x.Add(&sitemap.Tent{Base: sitemap.Base{ID: "t2"}})
	x.Add(&sitemap.Tent{Base: sitemap.Base{ID: "t1"}})
	x.Add(&sitemap.Zone{Base: sitemap.Base{ID: "z1"}})
	x.Add(&sitemap.Layer{Base: sitemap.Base{ID: "l1"}})

	var ids []string
	for _, e := range x.Entities() {
		ids = append(ids, e.Header().ID)
	}
	assert.Equal(t, []string{"l1", "z1", "t1", "t2"}, ids)
}
