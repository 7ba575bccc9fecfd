package sitemap

import (
	"github.com/kyleqd/sitemap/internal/geometry"
)

type MeasurementType string

const (
	MeasureDistance       MeasurementType = "distance"
	MeasureArea           MeasurementType = "area"
	MeasureClearance      MeasurementType = "clearance"
	MeasureFireLane       MeasurementType = "fire_lane"
	MeasureADAAccess      MeasurementType = "ada_access"
	MeasureEmergencyRoute MeasurementType = "emergency_route"
)

// Measurement documents a distance check against a code requirement. It is
// not spatially authoritative and is never indexed.
type Measurement struct {
	Base
	Type        MeasurementType `json:"type"`
	Start       geometry.Point  `json:"start"`
	End         geometry.Point  `json:"end"`
	Value       float64         `json:"value,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Label       string          `json:"label,omitempty"`
	Requirement float64         `json:"requirement,omitempty"`
	IsCompliant bool            `json:"isCompliant"`
}

func (*Measurement) Kind() Kind { return KindMeasurement }

func (m *Measurement) Clone() Entity {
	c := *m
	c.DeletedAt = cloneTime(m.DeletedAt)
	return &c
}

// Meters returns the declared value, or the start/end distance converted
// with the map scale when no value was declared.
func (m *Measurement) Meters(scale float64) float64 {
	if m.Value > 0 {
		return m.Value
	}
	return m.Start.Distance(m.End) * scale
}

type LayerType string

const (
	LayerInfrastructure LayerType = "infrastructure"
	LayerCrew           LayerType = "crew"
	LayerGuest          LayerType = "guest"
	LayerSafety         LayerType = "safety"
	LayerVIP            LayerType = "vip"
	LayerBackstage      LayerType = "backstage"
	LayerRestricted     LayerType = "restricted"
	LayerPower          LayerType = "power"
	LayerWater          LayerType = "water"
	LayerWifi           LayerType = "wifi"
	LayerCustom         LayerType = "custom"
)

// Layer groups entities that reference it by LayerID. Visibility and lock
// are independent of any entity's own state.
type Layer struct {
	Base
	Name    string    `json:"name"`
	Type    LayerType `json:"type"`
	ZIndex  int       `json:"zIndex"`
	Visible bool      `json:"visible"`
	Locked  bool      `json:"locked"`
	Opacity float64   `json:"opacity"`
	Color   string    `json:"color,omitempty"`
}

func (*Layer) Kind() Kind { return KindLayer }

func (l *Layer) Clone() Entity {
	c := *l
	c.DeletedAt = cloneTime(l.DeletedAt)
	return &c
}
