package rules_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// fakeView is a map-backed rules.View.
type fakeView struct {
	m        sitemap.SiteMap
	entities map[string]sitemap.Entity
	catalog  *sitemap.Catalog
}

func newView(entities ...sitemap.Entity) *fakeView {
	v := &fakeView{
		m:        sitemap.SiteMap{ID: "m1", Width: 500, Height: 500, Scale: 0.1, Status: sitemap.MapStatusDraft},
		entities: make(map[string]sitemap.Entity),
		catalog:  sitemap.NewCatalog(),
	}
	for _, e := range entities {
		v.entities[e.Header().ID] = e
	}
	return v
}

func (v *fakeView) Map() sitemap.SiteMap { return v.m }

func (v *fakeView) Entity(id string) (sitemap.Entity, bool) {
	e, ok := v.entities[id]
	return e, ok
}

func (v *fakeView) Overlapping(r geometry.Rect) []sitemap.Spatial {
	var out []sitemap.Spatial
	for _, e := range v.entities {
		if s, ok := e.(sitemap.Spatial); ok && sitemap.Live(e) && geometry.Intersects(s.Footprint(), r) {
			out = append(out, s)
		}
	}
	return out
}

func (v *fakeView) Consumers(powerID string) []*sitemap.EquipmentInstance {
	var out []*sitemap.EquipmentInstance
	for _, e := range v.entities {
		if eq, ok := e.(*sitemap.EquipmentInstance); ok && sitemap.Live(eq) && eq.PowerSource() == powerID {
			out = append(out, eq)
		}
	}
	return out
}

func (v *fakeView) CatalogEntry(id string) (sitemap.CatalogEntry, bool) { return v.catalog.Get(id) }

func zone(id string, typ sitemap.ZoneType, r geometry.Rect) *sitemap.Zone {
	z := &sitemap.Zone{Base: sitemap.Base{ID: id, SiteMapID: "m1"}, Name: id, Type: typ, Status: sitemap.ZoneAvailable}
	z.SetFootprint(r)
	return z
}

func tent(id, zoneID string, r geometry.Rect) *sitemap.Tent {
	t := &sitemap.Tent{Base: sitemap.Base{ID: id, SiteMapID: "m1"}, Number: id, ZoneID: zoneID, Status: sitemap.TentAvailable}
	t.SetFootprint(r)
	return t
}

func power(id string, total float64, maxConn int) *sitemap.PowerDistribution {
	p := &sitemap.PowerDistribution{Base: sitemap.Base{ID: id, SiteMapID: "m1"}, Name: id, TotalWatts: total, MaxConnections: maxConn, Status: sitemap.PowerActive}
	p.SetFootprint(geometry.Rect{X: 1, Y: 1, Width: 5, Height: 5})
	return p
}

func equipment(id, source string, watts float64) *sitemap.EquipmentInstance {
	e := &sitemap.EquipmentInstance{Base: sitemap.Base{ID: id, SiteMapID: "m1"}, Quantity: 1, PowerDrawWatts: watts, Status: sitemap.EquipmentInUse}
	if source != "" {
		e.Power = &sitemap.PowerConnection{PowerSourceID: source}
	}
	e.SetFootprint(geometry.Rect{X: 10, Y: 10, Width: 5, Height: 5})
	return e
}

func ruleIDs(vs []rules.Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.RuleID)
	}
	return out
}

func TestCanvasBounds(t *testing.T) {
	eng := rules.Default()
	v := newView()

	res := eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: zone("z1", sitemap.ZoneVendor, geometry.Rect{Width: 100, Height: 100})})
	require.NoError(t, res.Err())

	res = eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: zone("z2", sitemap.ZoneRestricted, geometry.Rect{X: 400, Y: 400, Width: 200, Height: 200})})
	var verr *rules.ValidationError
	require.True(t, errors.As(res.Err(), &verr))
	assert.Equal(t, rules.RuleCanvasBounds, verr.RuleID)

	res = eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: zone("z3", sitemap.ZoneVendor, geometry.Rect{Width: 0, Height: 10})})
	assert.Equal(t, []string{rules.RuleCanvasBounds}, ruleIDs(res.Hard()))

	m := &sitemap.Measurement{Base: sitemap.Base{ID: "m"}, Type: sitemap.MeasureDistance, End: geometry.Point{X: 501, Y: 0}}
	res = eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: m})
	assert.Equal(t, []string{rules.RuleCanvasBounds}, ruleIDs(res.Hard()))
}

func TestZoneOverlap(t *testing.T) {
	eng := rules.Default()
	restricted := zone("r", sitemap.ZoneRestricted, geometry.Rect{X: 100, Y: 100, Width: 100, Height: 100})
	v := newView(restricted)

	tests := []struct {
		name string
		z    *sitemap.Zone
		want []string
	}{
		{"guest over restricted", zone("g", sitemap.ZoneGuestAreas, geometry.Rect{X: 150, Y: 150, Width: 100, Height: 100}), []string{rules.RuleZoneOverlap}},
		{"vip over restricted", zone("v", sitemap.ZoneVIPAreas, geometry.Rect{X: 50, Y: 50, Width: 100, Height: 100}), []string{rules.RuleZoneOverlap}},
		{"guest touching edge", zone("g", sitemap.ZoneGuestAreas, geometry.Rect{X: 200, Y: 100, Width: 50, Height: 50}), nil},
		{"vendor over restricted", zone("f", sitemap.ZoneVendor, geometry.Rect{X: 150, Y: 150, Width: 100, Height: 100}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: tt.z})
			assert.Equal(t, tt.want, ruleIDs(res.Hard()))
		})
	}

	// Moving the restricted zone itself onto a guest area is also rejected.
	guest := zone("g", sitemap.ZoneGuestAreas, geometry.Rect{X: 300, Y: 300, Width: 50, Height: 50})
	v = newView(restricted, guest)
	moved := restricted.Clone().(*sitemap.Zone)
	moved.X, moved.Y = 280, 280
	res := eng.Evaluate(v, rules.Change{Action: rules.ActionMove, Before: restricted, After: moved})
	assert.Equal(t, []string{rules.RuleZoneOverlap}, ruleIDs(res.Hard()))
}

func TestZoneCapacity(t *testing.T) {
	eng := rules.Default()
	capacity := 10
	z := zone("z", sitemap.ZoneGlamping, geometry.Rect{Width: 10, Height: 10})
	z.Capacity = &capacity
	z.CurrentOccupancy = 10
	require.NoError(t, eng.Evaluate(newView(), rules.Change{Action: rules.ActionUpdate, After: z}).Err())

	z.CurrentOccupancy = 11
	res := eng.Evaluate(newView(), rules.Change{Action: rules.ActionUpdate, After: z})
	assert.Equal(t, []string{rules.RuleZoneCapacity}, ruleIDs(res.Hard()))

	z.CurrentOccupancy = -1
	res = eng.Evaluate(newView(), rules.Change{Action: rules.ActionUpdate, After: z})
	assert.Equal(t, []string{rules.RuleZoneCapacity}, ruleIDs(res.Hard()))

	z.Capacity = nil
	z.CurrentOccupancy = 500
	assert.NoError(t, eng.Evaluate(newView(), rules.Change{Action: rules.ActionUpdate, After: z}).Err())
}

func TestZoneContainment(t *testing.T) {
	eng := rules.Default()
	z := zone("z", sitemap.ZoneGlamping, geometry.Rect{X: 0, Y: 0, Width: 100, Height: 100})
	v := newView(z)

	inside := tent("t1", "z", geometry.Rect{X: 10, Y: 10, Width: 20, Height: 20})
	res := eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: inside})
	assert.Empty(t, res.Violations)

	straddling := tent("t2", "z", geometry.Rect{X: 90, Y: 10, Width: 20, Height: 20})
	res = eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: straddling})
	require.NoError(t, res.Err(), "containment never blocks")
	soft := res.Soft()
	require.Len(t, soft, 1)
	assert.Equal(t, rules.RuleZoneContainment, soft[0].RuleID)
	assert.Equal(t, sitemap.IssueCompliance, soft[0].IssueType)
	assert.Equal(t, sitemap.SeverityMedium, soft[0].IssueSeverity)

	orphan := tent("t3", "nope", geometry.Rect{X: 10, Y: 10, Width: 20, Height: 20})
	res = eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: orphan})
	assert.Equal(t, []string{rules.RuleZoneContainment}, ruleIDs(res.Soft()))

	unassigned := tent("t4", "", geometry.Rect{X: 200, Y: 200, Width: 20, Height: 20})
	assert.Empty(t, eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: unassigned}).Violations)
}

func TestPowerBudget(t *testing.T) {
	eng := rules.Default()
	p := power("p", 1000, 0)
	a := equipment("a", "p", 600)
	v := newView(p, a)

	require.Empty(t, eng.Evaluate(v, rules.Change{Action: rules.ActionAudit, Before: p, After: p}).Violations)

	b := equipment("b", "p", 500)
	res := eng.Evaluate(v, rules.Change{Action: rules.ActionUpdate, After: b})
	require.NoError(t, res.Err())
	soft := res.Soft()
	require.Len(t, soft, 1)
	assert.Equal(t, rules.RulePowerBudget, soft[0].RuleID)
	assert.Equal(t, "p", soft[0].EntityID)
	assert.Equal(t, sitemap.KindPower, soft[0].EntityType)

	// Re-submitting an already connected instance does not count it twice.
	a2 := a.Clone().(*sitemap.EquipmentInstance)
	a2.PowerDrawWatts = 1000
	assert.Empty(t, eng.Evaluate(v, rules.Change{Action: rules.ActionUpdate, Before: a, After: a2}).Violations)
}

func TestPowerBudgetUsesCatalogDraw(t *testing.T) {
	eng := rules.Default()
	p := power("p", 1000, 0)
	v := newView(p)
	require.NoError(t, v.catalog.Put(sitemap.CatalogEntry{ID: "heater", PowerDrawWatts: 400}))

	e := equipment("e", "p", 0)
	e.CatalogID = "heater"
	e.Quantity = 3
	assert.Equal(t, 1200.0, rules.Draw(v, e))
	assert.Equal(t, []string{rules.RulePowerBudget}, ruleIDs(eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: e}).Soft()))
}

func TestPowerConnections(t *testing.T) {
	eng := rules.Default()
	p := power("p", 10000, 1)
	v := newView(p, equipment("a", "p", 1))

	res := eng.Evaluate(v, rules.Change{Action: rules.ActionUpdate, After: equipment("b", "p", 1)})
	assert.Equal(t, []string{rules.RulePowerConnections}, ruleIDs(res.Soft()))
}

func TestClearance(t *testing.T) {
	eng := rules.Default()
	v := newView()

	// 50px at 0.1 m/px is 5m, short of the 6.1m fire lane minimum.
	lane := &sitemap.Measurement{Base: sitemap.Base{ID: "fl"}, Type: sitemap.MeasureFireLane, Start: geometry.Point{X: 0, Y: 0}, End: geometry.Point{X: 50, Y: 0}}
	res := eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: lane})
	require.NoError(t, res.Err())
	assert.Equal(t, []string{rules.RuleClearance}, ruleIDs(res.Soft()))

	lane.Value = 7
	assert.Empty(t, eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: lane}).Violations)

	plain := &sitemap.Measurement{Base: sitemap.Base{ID: "d"}, Type: sitemap.MeasureDistance, End: geometry.Point{X: 1, Y: 0}}
	assert.Empty(t, eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: plain}).Violations)
}

func TestLayerLocked(t *testing.T) {
	eng := rules.Default()
	layer := &sitemap.Layer{Base: sitemap.Base{ID: "l"}, Name: "safety", Locked: true, Visible: true}
	v := newView(layer)

	z := zone("z", sitemap.ZoneVendor, geometry.Rect{Width: 10, Height: 10})
	z.LayerID = "l"
	res := eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: z})
	assert.Equal(t, []string{rules.RuleLayerLocked}, ruleIDs(res.Hard()))

	res = eng.Evaluate(v, rules.Change{Action: rules.ActionDelete, Before: z})
	assert.Equal(t, []string{rules.RuleLayerLocked}, ruleIDs(res.Hard()))

	res = eng.Evaluate(v, rules.Change{Action: rules.ActionImport, After: z})
	assert.NoError(t, res.Err(), "imports ignore locks")

	unlocked := layer.Clone().(*sitemap.Layer)
	unlocked.Locked = false
	assert.NoError(t, eng.Evaluate(v, rules.Change{Action: rules.ActionUpdate, Before: layer, After: unlocked}).Err())
}

func TestAuditSkipsHardRules(t *testing.T) {
	eng := rules.Default()
	z := zone("z", sitemap.ZoneVendor, geometry.Rect{X: 490, Y: 490, Width: 100, Height: 100})
	res := eng.Evaluate(newView(), rules.Change{Action: rules.ActionAudit, Before: z, After: z})
	assert.Empty(t, res.Violations)
}

func TestCustomRules(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.Custom = []rules.CustomRule{
		{
			ID:          "stage-needs-capacity",
			Description: "stages must declare a capacity",
			Kinds:       []sitemap.Kind{sitemap.KindZone},
			Expression:  `entity.type == "stage" && !has(entity.capacity)`,
		},
		{
			ID:         "no-huge-tents",
			Kinds:      []sitemap.Kind{sitemap.KindTent},
			Expression: `entity.width * site.scale > 20.0`,
			Severity:   rules.Hard,
		},
		{
			ID:         "needs-missing-key",
			Expression: `entity.nonexistent == 1`,
		},
	}
	eng, err := rules.NewEngine(cfg)
	require.NoError(t, err)
	assert.Contains(t, eng.RuleIDs(), "stage-needs-capacity")

	v := newView()
	stage := zone("s", sitemap.ZoneStage, geometry.Rect{Width: 10, Height: 10})
	res := eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: stage})
	soft := res.Soft()
	require.Len(t, soft, 1)
	assert.Equal(t, "stage-needs-capacity", soft[0].RuleID)
	assert.Equal(t, sitemap.IssueCustom, soft[0].IssueType)

	huge := tent("t", "", geometry.Rect{Width: 300, Height: 10})
	res = eng.Evaluate(v, rules.Change{Action: rules.ActionPlace, After: huge})
	assert.Equal(t, []string{"no-huge-tents"}, ruleIDs(res.Hard()))
}

func TestCustomRuleCompileError(t *testing.T) {
	_, err := rules.NewCELRule(rules.CustomRule{ID: "bad", Expression: "entity.("})
	require.Error(t, err)

	_, err = rules.NewCELRule(rules.CustomRule{ID: "sev", Expression: "true", Severity: "maybe"})
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := rules.ParseConfig([]byte(`
incompatible_zones:
  stage: [medical]
min_clearance_meters:
  fire_lane: 8
custom_rules:
  - id: vendor-power
    expression: 'entity.type == "vendor" && !entity.utilities.power'
    kinds: [zone]
    issue_severity: medium
`))
	require.NoError(t, err)
	assert.Equal(t, 8.0, cfg.MinClearance[sitemap.MeasureFireLane])
	assert.Zero(t, cfg.MinClearance[sitemap.MeasureADAAccess], "a present section replaces defaults")
	require.Len(t, cfg.Custom, 1)

	eng, err := rules.NewEngine(cfg)
	require.NoError(t, err)
	medical := zone("med", sitemap.ZoneMedical, geometry.Rect{Width: 50, Height: 50})
	stage := zone("st", sitemap.ZoneStage, geometry.Rect{X: 10, Y: 10, Width: 50, Height: 50})
	res := eng.Evaluate(newView(medical), rules.Change{Action: rules.ActionPlace, After: stage})
	assert.Equal(t, []string{rules.RuleZoneOverlap}, ruleIDs(res.Hard()))

	defaults, err := rules.ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, rules.DefaultConfig().MinClearance, defaults.MinClearance)

	_, err = rules.ParseConfig([]byte("incompatible_zones:\n  lava: [stage]\n"))
	assert.Error(t, err)

	_, err = rules.ParseConfig([]byte("thresholds: 1\n"))
	assert.Error(t, err, "unknown keys are rejected")
}
