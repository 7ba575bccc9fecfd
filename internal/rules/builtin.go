package rules

import (
	"fmt"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// layerLocked rejects edits to entities that sit on, or are being moved to
// or from, a locked layer. Layers themselves stay editable so they can be
// unlocked.
type layerLocked struct{}

func (layerLocked) ID() string { return RuleLayerLocked }

func (layerLocked) Evaluate(v View, c Change) []Violation {
	switch c.Action {
	case ActionPlace, ActionMove, ActionUpdate, ActionDelete:
	default:
		return nil
	}
	subj := c.Subject()
	if subj.Kind() == sitemap.KindLayer {
		return nil
	}
	seen := map[string]bool{}
	var out []Violation
	for _, e := range []sitemap.Entity{c.Before, c.After} {
		if e == nil {
			continue
		}
		id := e.Header().LayerID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if l, ok := lookup[*sitemap.Layer](v, id); ok && l.Locked {
			out = append(out, violation(RuleLayerLocked, Hard, subj, fmt.Sprintf("layer %q is locked", l.Name)))
		}
	}
	return out
}

type canvasBounds struct{}

func (canvasBounds) ID() string { return RuleCanvasBounds }

func (canvasBounds) Evaluate(v View, c Change) []Violation {
	if !c.checksShape() {
		return nil
	}
	m := v.Map()
	switch e := c.After.(type) {
	case sitemap.Spatial:
		r := e.Footprint()
		if err := r.Validate(); err != nil {
			return []Violation{violation(RuleCanvasBounds, Hard, e, err.Error())}
		}
		if !geometry.WithinCanvas(r, m.Width, m.Height) {
			return []Violation{violation(RuleCanvasBounds, Hard, e, fmt.Sprintf(
				"bounds (%g,%g %gx%g rot %g) exceed canvas %gx%g", r.X, r.Y, r.Width, r.Height, r.Rotation, m.Width, m.Height))}
		}
	case *sitemap.Measurement:
		if !geometry.PointWithinCanvas(e.Start, m.Width, m.Height) || !geometry.PointWithinCanvas(e.End, m.Width, m.Height) {
			return []Violation{violation(RuleCanvasBounds, Hard, e, fmt.Sprintf("endpoints exceed canvas %gx%g", m.Width, m.Height))}
		}
	}
	return nil
}

type zoneOverlap struct {
	incompatible map[sitemap.ZoneType]map[sitemap.ZoneType]bool
}

func (zoneOverlap) ID() string { return RuleZoneOverlap }

func (r zoneOverlap) Evaluate(v View, c Change) []Violation {
	z, ok := c.After.(*sitemap.Zone)
	if !ok || !c.checksShape() || len(r.incompatible[z.Type]) == 0 {
		return nil
	}
	var out []Violation
	for _, other := range v.Overlapping(z.Footprint()) {
		o, ok := other.(*sitemap.Zone)
		if !ok || o.ID == z.ID || !r.incompatible[z.Type][o.Type] {
			continue
		}
		out = append(out, violation(RuleZoneOverlap, Hard, z, fmt.Sprintf(
			"%s zone overlaps %s zone %q", z.Type, o.Type, o.Name)))
	}
	return out
}

type zoneCapacity struct{}

func (zoneCapacity) ID() string { return RuleZoneCapacity }

func (zoneCapacity) Evaluate(_ View, c Change) []Violation {
	z, ok := c.After.(*sitemap.Zone)
	if !ok || !c.checksShape() {
		return nil
	}
	switch {
	case z.CurrentOccupancy < 0:
		return []Violation{violation(RuleZoneCapacity, Hard, z, "occupancy cannot be negative")}
	case z.Capacity != nil && *z.Capacity < 0:
		return []Violation{violation(RuleZoneCapacity, Hard, z, "capacity cannot be negative")}
	case z.OverCapacity():
		return []Violation{violation(RuleZoneCapacity, Hard, z, fmt.Sprintf(
			"occupancy %d exceeds capacity %d", z.CurrentOccupancy, *z.Capacity))}
	}
	return nil
}

type zoneContainment struct{}

func (zoneContainment) ID() string { return RuleZoneContainment }

func (zoneContainment) Evaluate(v View, c Change) []Violation {
	t, ok := c.After.(*sitemap.Tent)
	if !ok || !c.checksSoft() || t.ZoneID == "" {
		return nil
	}
	z, ok := lookup[*sitemap.Zone](v, t.ZoneID)
	var msg string
	switch {
	case !ok || !sitemap.Live(z):
		msg = fmt.Sprintf("tent %s references missing zone %s", t.Number, t.ZoneID)
	case !geometry.Contains(z.Footprint(), t.Footprint()):
		msg = fmt.Sprintf("tent %s extends outside zone %q", t.Number, z.Name)
	default:
		return nil
	}
	viol := violation(RuleZoneContainment, Soft, t, msg)
	viol.IssueType, viol.IssueSeverity = sitemap.IssueCompliance, sitemap.SeverityMedium
	return []Violation{viol}
}

// Draw returns the power draw of e using the view's catalog.
func Draw(v View, e *sitemap.EquipmentInstance) float64 {
	entry, ok := v.CatalogEntry(e.CatalogID)
	return e.Draw(entry, ok)
}

// connected returns the consumers of powerID as they would be after c.
func connected(v View, powerID string, c Change) []*sitemap.EquipmentInstance {
	var self *sitemap.EquipmentInstance
	if e, ok := c.After.(*sitemap.EquipmentInstance); ok {
		self = e
	}
	var out []*sitemap.EquipmentInstance
	for _, e := range v.Consumers(powerID) {
		if self != nil && e.ID == self.ID {
			continue
		}
		out = append(out, e)
	}
	if self != nil && sitemap.Live(self) && self.PowerSource() == powerID {
		out = append(out, self)
	}
	return out
}

// affectedSource returns the live power distribution a change touches.
func affectedSource(v View, c Change) (*sitemap.PowerDistribution, bool) {
	switch e := c.After.(type) {
	case *sitemap.PowerDistribution:
		return e, true
	case *sitemap.EquipmentInstance:
		if e.PowerSource() == "" {
			return nil, false
		}
		p, ok := lookup[*sitemap.PowerDistribution](v, e.PowerSource())
		return p, ok && sitemap.Live(p)
	}
	return nil, false
}

type powerBudget struct{}

func (powerBudget) ID() string { return RulePowerBudget }

func (powerBudget) Evaluate(v View, c Change) []Violation {
	if !c.checksSoft() {
		return nil
	}
	p, ok := affectedSource(v, c)
	if !ok {
		return nil
	}
	var load float64
	for _, e := range connected(v, p.ID, c) {
		load += Draw(v, e)
	}
	if load <= p.TotalWatts {
		return nil
	}
	viol := violation(RulePowerBudget, Soft, p, fmt.Sprintf(
		"load %gW exceeds %q capacity %gW", load, p.Name, p.TotalWatts))
	viol.IssueType, viol.IssueSeverity = sitemap.IssuePower, sitemap.SeverityHigh
	return []Violation{viol}
}

type powerConnections struct{}

func (powerConnections) ID() string { return RulePowerConnections }

func (powerConnections) Evaluate(v View, c Change) []Violation {
	if !c.checksSoft() {
		return nil
	}
	p, ok := affectedSource(v, c)
	if !ok || p.MaxConnections <= 0 {
		return nil
	}
	n := len(connected(v, p.ID, c))
	if n <= p.MaxConnections {
		return nil
	}
	viol := violation(RulePowerConnections, Soft, p, fmt.Sprintf(
		"%d connections exceed the %d allowed on %q", n, p.MaxConnections, p.Name))
	viol.IssueType, viol.IssueSeverity = sitemap.IssuePower, sitemap.SeverityMedium
	return []Violation{viol}
}

type clearance struct {
	minimums map[sitemap.MeasurementType]float64
}

func (clearance) ID() string { return RuleClearance }

func (r clearance) Evaluate(v View, c Change) []Violation {
	m, ok := c.After.(*sitemap.Measurement)
	if !ok || !c.checksSoft() {
		return nil
	}
	required := r.minimums[m.Type]
	if required <= 0 {
		return nil
	}
	got := m.Meters(v.Map().Scale)
	if got >= required {
		return nil
	}
	viol := violation(RuleClearance, Soft, m, fmt.Sprintf(
		"%s clearance %.2fm is below the required %.2fm", m.Type, got, required))
	viol.IssueType, viol.IssueSeverity = sitemap.IssueSafety, sitemap.SeverityHigh
	return []Violation{viol}
}

func lookup[T sitemap.Entity](v View, id string) (T, bool) {
	var zero T
	e, ok := v.Entity(id)
	if !ok {
		return zero, false
	}
	t, ok := e.(T)
	return t, ok
}
