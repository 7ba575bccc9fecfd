package sitemap

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type EquipmentCategory string

const (
	CategoryLighting   EquipmentCategory = "lighting"
	CategorySound      EquipmentCategory = "sound"
	CategoryStaging    EquipmentCategory = "staging"
	CategoryPower      EquipmentCategory = "power"
	CategoryFurniture  EquipmentCategory = "furniture"
	CategoryTent       EquipmentCategory = "tent"
	CategorySanitation EquipmentCategory = "sanitation"
	CategoryCatering   EquipmentCategory = "catering"
	CategorySafety     EquipmentCategory = "safety"
	CategorySignage    EquipmentCategory = "signage"
	CategoryOther      EquipmentCategory = "other"
)

// CatalogEntry is a reusable equipment template shared by every map of the
// same owner.
type CatalogEntry struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"ownerId"`
	Name           string            `json:"name"`
	Category       EquipmentCategory `json:"category"`
	Symbol         string            `json:"symbol,omitempty"`
	Description    string            `json:"description,omitempty"`
	DefaultWidth   float64           `json:"defaultWidth,omitempty"`
	DefaultHeight  float64           `json:"defaultHeight,omitempty"`
	PowerDrawWatts float64           `json:"powerDrawWatts"`
	RequiresPower  bool              `json:"requiresPower"`
	DailyRate      float64           `json:"dailyRate,omitempty"`
	WeeklyRate     float64           `json:"weeklyRate,omitempty"`
}

// Catalog holds catalog entries. It is safe for concurrent use so several
// map stores can share one.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]CatalogEntry
}

func NewCatalog(entries ...CatalogEntry) *Catalog {
	c := &Catalog{entries: make(map[string]CatalogEntry)}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	return c
}

func (c *Catalog) Put(e CatalogEntry) error {
	if e.ID == "" {
		return fmt.Errorf("catalog entry: missing id")
	}
	if e.PowerDrawWatts < 0 {
		return fmt.Errorf("catalog entry %s: negative power draw", e.ID)
	}
	c.mu.Lock()
	c.entries[e.ID] = e
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Get(id string) (CatalogEntry, bool) {
	if c == nil {
		return CatalogEntry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// List returns the entries of one owner, or all entries when owner is empty.
func (c *Catalog) List(owner string) []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if owner == "" || e.OwnerID == owner {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type EquipmentStatus string

const (
	EquipmentAvailable   EquipmentStatus = "available"
	EquipmentInUse       EquipmentStatus = "in_use"
	EquipmentSetup       EquipmentStatus = "setup"
	EquipmentMaintenance EquipmentStatus = "maintenance"
	EquipmentPacked      EquipmentStatus = "packed"
	EquipmentDamaged     EquipmentStatus = "damaged"
)

type PowerConnection struct {
	PowerSourceID string    `json:"powerSourceId"`
	ConnectedAt   time.Time `json:"connectedAt"`
}

// EquipmentInstance is one placed occurrence of a catalog entry. It has at
// most one power connection.
type EquipmentInstance struct {
	Base
	Placement
	CatalogID      string           `json:"catalogId"`
	Label          string           `json:"label,omitempty"`
	Quantity       int              `json:"quantity"`
	Status         EquipmentStatus  `json:"status"`
	RentalStart    *time.Time       `json:"rentalStart,omitempty"`
	RentalEnd      *time.Time       `json:"rentalEnd,omitempty"`
	PowerDrawWatts float64          `json:"powerDrawWatts,omitempty"`
	Power          *PowerConnection `json:"power,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

func (*EquipmentInstance) Kind() Kind { return KindEquipment }

func (e *EquipmentInstance) Clone() Entity {
	c := *e
	c.DeletedAt = cloneTime(e.DeletedAt)
	c.RentalStart = cloneTime(e.RentalStart)
	c.RentalEnd = cloneTime(e.RentalEnd)
	if e.Power != nil {
		p := *e.Power
		c.Power = &p
	}
	return &c
}

// Draw returns the instance's power draw in watts: its own override when set,
// otherwise the catalog entry's draw, multiplied by quantity.
func (e *EquipmentInstance) Draw(entry CatalogEntry, known bool) float64 {
	per := e.PowerDrawWatts
	if per <= 0 && known {
		per = entry.PowerDrawWatts
	}
	return per * float64(max(e.Quantity, 1))
}

// PowerSource returns the connected distribution id, or "".
func (e *EquipmentInstance) PowerSource() string {
	if e.Power == nil {
		return ""
	}
	return e.Power.PowerSourceID
}

type PowerStatus string

const (
	PowerActive      PowerStatus = "active"
	PowerInactive    PowerStatus = "inactive"
	PowerOverloaded  PowerStatus = "overloaded"
	PowerMaintenance PowerStatus = "maintenance"
)

type PowerSourceType string

const (
	PowerGenerator PowerSourceType = "generator"
	PowerGrid      PowerSourceType = "grid"
	PowerBattery   PowerSourceType = "battery"
	PowerSolar     PowerSourceType = "solar"
	PowerDistro    PowerSourceType = "distro"
)

// PowerDistribution is a finite power source. LoadWatts, AvailableWatts and
// the active/overloaded status are derived by the store from the connected
// instances.
type PowerDistribution struct {
	Base
	Placement
	Name           string          `json:"name"`
	Type           PowerSourceType `json:"type"`
	TotalWatts     float64         `json:"totalCapacityWatts"`
	AvailableWatts float64         `json:"availableCapacityWatts"`
	LoadWatts      float64         `json:"loadWatts"`
	MaxConnections int             `json:"maxConnections,omitempty"`
	Status         PowerStatus     `json:"status"`
	Notes          string          `json:"notes,omitempty"`
}

func (*PowerDistribution) Kind() Kind { return KindPower }

func (p *PowerDistribution) Clone() Entity {
	c := *p
	c.DeletedAt = cloneTime(p.DeletedAt)
	return &c
}

// ApplyLoad records load and flips between active and overloaded. Inactive
// and maintenance sources keep their status.
func (p *PowerDistribution) ApplyLoad(load float64) {
	p.LoadWatts = load
	p.AvailableWatts = max(p.TotalWatts-load, 0)
	switch p.Status {
	case PowerActive, PowerOverloaded, "":
		if load > p.TotalWatts {
			p.Status = PowerOverloaded
		} else {
			p.Status = PowerActive
		}
	}
}
