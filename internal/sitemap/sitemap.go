// Package sitemap defines the site-map domain model: the map aggregate and
// the tagged union of entities placed on it. It depends only on geometry.
package sitemap

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kyleqd/sitemap/internal/geometry"
)

type Kind string

const (
	KindZone         Kind = "zone"
	KindTent         Kind = "tent"
	KindEquipment    Kind = "equipment"
	KindPower        Kind = "power_distribution"
	KindMeasurement  Kind = "measurement"
	KindLayer        Kind = "layer"
	KindCollaborator Kind = "collaborator"
)

// Kinds lists every entity kind in export order.
var Kinds = []Kind{KindLayer, KindZone, KindPower, KindTent, KindEquipment, KindMeasurement, KindCollaborator}

func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// Base carries the fields every entity shares.
type Base struct {
	ID        string     `json:"id"`
	SiteMapID string     `json:"siteMapId"`
	LayerID   string     `json:"layerId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (b *Base) Header() *Base { return b }

// Entity is anything owned by a SiteMap.
type Entity interface {
	Header() *Base
	Kind() Kind
	Clone() Entity
}

// Spatial entities occupy a footprint on the canvas and are indexed.
type Spatial interface {
	Entity
	Footprint() geometry.Rect
	SetFootprint(geometry.Rect)
}

// Placement is the positional trait shared by spatial entities.
type Placement struct {
	geometry.Rect
}

func (p *Placement) Footprint() geometry.Rect      { return p.Rect }
func (p *Placement) SetFootprint(r geometry.Rect) { p.Rect = r }

// Live reports whether e exists and has not been soft-deleted.
func Live(e Entity) bool {
	return e != nil && e.Header().DeletedAt == nil
}

// New returns an empty entity of the given kind.
func New(kind Kind) (Entity, error) {
	switch kind {
	case KindZone:
		return &Zone{}, nil
	case KindTent:
		return &Tent{}, nil
	case KindEquipment:
		return &EquipmentInstance{}, nil
	case KindPower:
		return &PowerDistribution{}, nil
	case KindMeasurement:
		return &Measurement{}, nil
	case KindLayer:
		return &Layer{}, nil
	case KindCollaborator:
		return &Collaborator{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

type MapStatus string

const (
	MapStatusDraft     MapStatus = "draft"
	MapStatusPublished MapStatus = "published"
	MapStatusArchived  MapStatus = "archived"
)

// SiteMap is the root aggregate. Width and Height are canvas pixels, Scale
// is metres per pixel.
type SiteMap struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	EventID         string     `json:"eventId,omitempty"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Width           float64    `json:"width"`
	Height          float64    `json:"height"`
	Scale           float64    `json:"scale"`
	Status          MapStatus  `json:"status"`
	Version         int        `json:"version"`
	BackgroundColor string     `json:"backgroundColor,omitempty"`
	GridSize        float64    `json:"gridSize,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ArchivedAt      *time.Time `json:"archivedAt,omitempty"`
}

var ErrInvalidMap = errors.New("invalid site map")

func (m SiteMap) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMap)
	}
	dims := []struct {
		name string
		v    float64
	}{{"width", m.Width}, {"height", m.Height}, {"scale", m.Scale}}
	for _, d := range dims {
		if !(d.v > 0) || math.IsInf(d.v, 0) {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidMap, d.name)
		}
	}
	switch m.Status {
	case MapStatusDraft, MapStatusPublished, MapStatusArchived:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMap, m.Status)
	}
	return nil
}

// Meters converts a canvas length to metres.
func (m SiteMap) Meters(px float64) float64 { return px * m.Scale }

// CanTransition reports whether a map may move from one status to another.
// Archived maps stay archived.
func (s MapStatus) CanTransition(to MapStatus) bool {
	switch s {
	case MapStatusDraft:
		return to == MapStatusPublished || to == MapStatusArchived
	case MapStatusPublished:
		return to == MapStatusDraft || to == MapStatusArchived
	}
	return false
}
