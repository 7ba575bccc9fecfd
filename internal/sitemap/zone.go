package sitemap

type ZoneType string

const (
	ZoneGlamping   ZoneType = "glamping"
	ZoneParking    ZoneType = "parking"
	ZoneVendor     ZoneType = "vendor"
	ZoneFood       ZoneType = "food"
	ZoneRestroom   ZoneType = "restroom"
	ZoneUtility    ZoneType = "utility"
	ZoneEntrance   ZoneType = "entrance"
	ZoneExit       ZoneType = "exit"
	ZoneStage      ZoneType = "stage"
	ZoneMedical    ZoneType = "medical"
	ZoneSecurity   ZoneType = "security"
	ZoneStorage    ZoneType = "storage"
	ZoneOther      ZoneType = "other"
	ZoneRestricted ZoneType = "restricted"
	ZoneGuestAreas ZoneType = "guest_areas"
	ZoneVIPAreas   ZoneType = "vip_areas"
)

var zoneTypes = map[ZoneType]bool{
	ZoneGlamping: true, ZoneParking: true, ZoneVendor: true, ZoneFood: true,
	ZoneRestroom: true, ZoneUtility: true, ZoneEntrance: true, ZoneExit: true,
	ZoneStage: true, ZoneMedical: true, ZoneSecurity: true, ZoneStorage: true,
	ZoneOther: true, ZoneRestricted: true, ZoneGuestAreas: true, ZoneVIPAreas: true,
}

func (t ZoneType) Valid() bool { return zoneTypes[t] }

type ZoneStatus string

const (
	ZoneAvailable   ZoneStatus = "available"
	ZoneOccupied    ZoneStatus = "occupied"
	ZoneReserved    ZoneStatus = "reserved"
	ZoneMaintenance ZoneStatus = "maintenance"
	ZoneClosed      ZoneStatus = "closed"
)

type Utilities struct {
	Power    bool `json:"power"`
	Water    bool `json:"water"`
	Internet bool `json:"internet"`
}

type Zone struct {
	Base
	Placement
	Name             string     `json:"name"`
	Type             ZoneType   `json:"type"`
	Capacity         *int       `json:"capacity,omitempty"`
	CurrentOccupancy int        `json:"currentOccupancy"`
	Utilities        Utilities  `json:"utilities"`
	Color            string     `json:"color,omitempty"`
	Status           ZoneStatus `json:"status"`
	Notes            string     `json:"notes,omitempty"`
}

func (*Zone) Kind() Kind { return KindZone }

func (z *Zone) Clone() Entity {
	c := *z
	c.DeletedAt = cloneTime(z.DeletedAt)
	if z.Capacity != nil {
		n := *z.Capacity
		c.Capacity = &n
	}
	return &c
}

// OverCapacity reports whether occupancy exceeds a set capacity.
func (z *Zone) OverCapacity() bool {
	return z.Capacity != nil && z.CurrentOccupancy > *z.Capacity
}
