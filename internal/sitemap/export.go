package sitemap

import (
	"sort"
	"time"
)

// FormatVersion is the semantic version of the Export document layout.
const FormatVersion = "1.0.0"

// Export is the full, self-contained state of one map.
type Export struct {
	FormatVersion string               `json:"formatVersion"`
	Map           SiteMap              `json:"map"`
	Seq           uint64               `json:"seq"`
	Layers        []*Layer             `json:"layers"`
	Zones         []*Zone              `json:"zones"`
	Power         []*PowerDistribution `json:"powerDistributions"`
	Tents         []*Tent              `json:"tents"`
	Equipment     []*EquipmentInstance `json:"equipment"`
	Measurements  []*Measurement       `json:"measurements"`
	Collaborators []*Collaborator      `json:"collaborators"`
	Issues        []MapIssue           `json:"issues"`
	ExportedAt    time.Time            `json:"exportedAt"`
}

// NewExport returns an empty document for m with every slice non-nil.
func NewExport(m SiteMap) Export {
	return Export{
		FormatVersion: FormatVersion,
		Map:           m,
		Layers:        []*Layer{},
		Zones:         []*Zone{},
		Power:         []*PowerDistribution{},
		Tents:         []*Tent{},
		Equipment:     []*EquipmentInstance{},
		Measurements:  []*Measurement{},
		Collaborators: []*Collaborator{},
		Issues:        []MapIssue{},
	}
}

// Add appends a clone of e to the matching slice.
func (x *Export) Add(e Entity) {
	switch v := e.Clone().(type) {
	case *Layer:
		x.Layers = append(x.Layers, v)
	case *Zone:
		x.Zones = append(x.Zones, v)
	case *PowerDistribution:
		x.Power = append(x.Power, v)
	case *Tent:
		x.Tents = append(x.Tents, v)
	case *EquipmentInstance:
		x.Equipment = append(x.Equipment, v)
	case *Measurement:
		x.Measurements = append(x.Measurements, v)
	case *Collaborator:
		x.Collaborators = append(x.Collaborators, v)
	}
}

// Entities returns every entity in Kinds order, each group sorted by id.
func (x *Export) Entities() []Entity {
	var out []Entity
	group := func(start int) {
		sort.Slice(out[start:], func(i, j int) bool {
			return out[start+i].Header().ID < out[start+j].Header().ID
		})
	}
	add := func(es ...Entity) {
		start := len(out)
		out = append(out, es...)
		group(start)
	}
	add(toEntities(x.Layers)...)
	add(toEntities(x.Zones)...)
	add(toEntities(x.Power)...)
	add(toEntities(x.Tents)...)
	add(toEntities(x.Equipment)...)
	add(toEntities(x.Measurements)...)
	add(toEntities(x.Collaborators)...)
	return out
}

func toEntities[T Entity](in []T) []Entity {
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}

// Sort orders every entity slice by id and issues by creation time.
func (x *Export) Sort() {
	sortByID(x.Layers)
	sortByID(x.Zones)
	sortByID(x.Power)
	sortByID(x.Tents)
	sortByID(x.Equipment)
	sortByID(x.Measurements)
	sortByID(x.Collaborators)
	sort.SliceStable(x.Issues, func(i, j int) bool {
		if !x.Issues[i].CreatedAt.Equal(x.Issues[j].CreatedAt) {
			return x.Issues[i].CreatedAt.Before(x.Issues[j].CreatedAt)
		}
		return x.Issues[i].ID < x.Issues[j].ID
	})
}

func sortByID[T Entity](s []T) {
	sort.Slice(s, func(i, j int) bool { return s[i].Header().ID < s[j].Header().ID })
}
