package store

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/kyleqd/sitemap/internal/sitemap"
)

var (
	zoneStatuses = set(sitemap.ZoneAvailable, sitemap.ZoneOccupied, sitemap.ZoneReserved, sitemap.ZoneMaintenance, sitemap.ZoneClosed)
	tentStatuses = set(sitemap.TentAvailable, sitemap.TentOccupied, sitemap.TentMaintenance, sitemap.TentReserved)
	eqStatuses   = set(sitemap.EquipmentAvailable, sitemap.EquipmentInUse, sitemap.EquipmentSetup,
		sitemap.EquipmentMaintenance, sitemap.EquipmentPacked, sitemap.EquipmentDamaged)
	powerStatuses = set(sitemap.PowerActive, sitemap.PowerInactive, sitemap.PowerOverloaded, sitemap.PowerMaintenance)
	measureTypes  = set(sitemap.MeasureDistance, sitemap.MeasureArea, sitemap.MeasureClearance,
		sitemap.MeasureFireLane, sitemap.MeasureADAAccess, sitemap.MeasureEmergencyRoute)
	layerTypes = set(sitemap.LayerInfrastructure, sitemap.LayerCrew, sitemap.LayerGuest, sitemap.LayerSafety,
		sitemap.LayerVIP, sitemap.LayerBackstage, sitemap.LayerRestricted, sitemap.LayerPower,
		sitemap.LayerWater, sitemap.LayerWifi, sitemap.LayerCustom)
	actions = set(sitemap.ActionEdit, sitemap.ActionManageTents, sitemap.ActionManageZones,
		sitemap.ActionInvite, sitemap.ActionExport)
)

func set[T comparable](vs ...T) map[T]bool {
	m := make(map[T]bool, len(vs))
	for _, v := range vs {
		m[v] = true
	}
	return m
}

// applyDefaults fills statuses and counters a client may leave out.
func applyDefaults(e sitemap.Entity, now time.Time) {
	switch v := e.(type) {
	case *sitemap.Zone:
		if v.Status == "" {
			v.Status = sitemap.ZoneAvailable
		}
	case *sitemap.Tent:
		if v.Status == "" {
			v.Status = sitemap.TentAvailable
		}
	case *sitemap.EquipmentInstance:
		if v.Status == "" {
			v.Status = sitemap.EquipmentAvailable
		}
		if v.Quantity == 0 {
			v.Quantity = 1
		}
		if v.Power != nil && v.Power.ConnectedAt.IsZero() {
			v.Power.ConnectedAt = now
		}
	case *sitemap.PowerDistribution:
		if v.Status == "" {
			v.Status = sitemap.PowerActive
		}
		v.LoadWatts, v.AvailableWatts = 0, v.TotalWatts
	case *sitemap.Measurement:
		if v.Unit == "" {
			v.Unit = "m"
		}
	case *sitemap.Layer:
		if v.Type == "" {
			v.Type = sitemap.LayerCustom
		}
		if v.Opacity == 0 {
			v.Opacity = 1
		}
	}
}

// checkEntity enforces the field-level shape of an entity and its
// references. Spatial and domain constraints are the rules engine's job.
func checkEntity(st *state, e sitemap.Entity) error {
	h := e.Header()
	if h.LayerID != "" {
		if l, ok := st.entities[h.LayerID].(*sitemap.Layer); !ok || !sitemap.Live(l) {
			return invalid("unknown layer %s", h.LayerID)
		}
	}
	switch v := e.(type) {
	case *sitemap.Zone:
		if !v.Type.Valid() {
			return invalid("unknown zone type %q", v.Type)
		}
		if !zoneStatuses[v.Status] {
			return invalid("unknown zone status %q", v.Status)
		}
	case *sitemap.Tent:
		if !tentStatuses[v.Status] {
			return invalid("unknown tent status %q", v.Status)
		}
		if v.Capacity < 0 || v.PricePerNight < 0 {
			return invalid("tent capacity and price cannot be negative")
		}
	case *sitemap.EquipmentInstance:
		if !eqStatuses[v.Status] {
			return invalid("unknown equipment status %q", v.Status)
		}
		if v.Quantity < 1 || v.PowerDrawWatts < 0 {
			return invalid("equipment needs a positive quantity and a non-negative draw")
		}
		if v.CatalogID != "" {
			if _, ok := st.catalog.Get(v.CatalogID); !ok {
				return invalid("unknown catalog entry %s", v.CatalogID)
			}
		}
		if v.RentalStart != nil && v.RentalEnd != nil && v.RentalEnd.Before(*v.RentalStart) {
			return invalid("rental window ends before it starts")
		}
		if src := v.PowerSource(); src != "" {
			if p, ok := st.entities[src].(*sitemap.PowerDistribution); !ok || !sitemap.Live(p) {
				return notFound(src)
			}
		}
	case *sitemap.PowerDistribution:
		if !powerStatuses[v.Status] {
			return invalid("unknown power status %q", v.Status)
		}
		if v.TotalWatts < 0 || v.MaxConnections < 0 {
			return invalid("power capacity and connection limit cannot be negative")
		}
	case *sitemap.Measurement:
		if !measureTypes[v.Type] {
			return invalid("unknown measurement type %q", v.Type)
		}
		if v.Value < 0 {
			return invalid("measurement value cannot be negative")
		}
	case *sitemap.Layer:
		if h.LayerID != "" {
			return invalid("layers cannot be nested")
		}
		if !layerTypes[v.Type] {
			return invalid("unknown layer type %q", v.Type)
		}
		if v.Opacity < 0 || v.Opacity > 1 {
			return invalid("layer opacity must be within [0,1]")
		}
	case *sitemap.Collaborator:
		if v.UserID == "" {
			return invalid("collaborator needs a user id")
		}
		for _, a := range v.Capabilities {
			if !actions[a] {
				return invalid("unknown capability %q", a)
			}
		}
		for _, other := range st.entities {
			c, ok := other.(*sitemap.Collaborator)
			if ok && sitemap.Live(c) && c.UserID == v.UserID && c.ID != v.ID {
				return invalid("user %s is already a collaborator", v.UserID)
			}
		}
	}
	return nil
}

// readOnly fields are owned by the store or changed through dedicated
// operations.
var readOnly = map[string]bool{
	"id": true, "siteMapId": true, "createdAt": true, "updatedAt": true, "deletedAt": true,
	"power": true, "loadWatts": true, "availableCapacityWatts": true,
	"isCompliant": true, "requirement": true,
}

var fieldCache sync.Map // reflect.Type -> map[string]bool

// jsonFields lists the JSON names of a struct, following embedded structs.
func jsonFields(t reflect.Type) map[string]bool {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string]bool)
	}
	out := make(map[string]bool)
	var walk func(reflect.Type)
	walk = func(t reflect.Type) {
		for i := range t.NumField() {
			f := t.Field(i)
			tag := f.Tag.Get("json")
			if f.Anonymous && tag == "" {
				walk(f.Type)
				continue
			}
			name, _, _ := strings.Cut(tag, ",")
			if name == "-" || !f.IsExported() {
				continue
			}
			if name == "" {
				name = f.Name
			}
			out[name] = true
		}
	}
	walk(t)
	fieldCache.Store(t, out)
	return out
}

// patch returns a copy of e with fields overlaid through its JSON form.
func patch(e sitemap.Entity, fields map[string]any) (sitemap.Entity, error) {
	known := jsonFields(reflect.TypeOf(e).Elem())
	for k := range fields {
		if readOnly[k] {
			return nil, invalid("field %s is read-only", k)
		}
		if !known[k] {
			return nil, invalid("%s has no field %s", e.Kind(), k)
		}
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	raw, err = json.Marshal(doc)
	if err != nil {
		return nil, invalid("encoding patch: %v", err)
	}
	out, err := sitemap.New(e.Kind())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, invalid("decoding patch: %v", err)
	}
	return out, nil
}
