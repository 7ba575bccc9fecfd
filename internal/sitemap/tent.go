package sitemap

import (
	"errors"
	"fmt"
	"time"
)

type TentStatus string

const (
	TentAvailable   TentStatus = "available"
	TentOccupied    TentStatus = "occupied"
	TentMaintenance TentStatus = "maintenance"
	TentReserved    TentStatus = "reserved"
)

type TentSize string

const (
	TentSmall  TentSize = "small"
	TentMedium TentSize = "medium"
	TentLarge  TentSize = "large"
	TentXL     TentSize = "xl"
)

type TentAmenities struct {
	Power           bool `json:"power"`
	Heating         bool `json:"heating"`
	Furnished       bool `json:"furnished"`
	PrivateBathroom bool `json:"privateBathroom"`
}

// Tent is a bookable lodging unit. ZoneID is a declared association; whether
// the tent actually sits inside that zone is computed from geometry.
type Tent struct {
	Base
	Placement
	Number        string        `json:"tentNumber"`
	Type          string        `json:"tentType"`
	Capacity      int           `json:"capacity"`
	Size          TentSize      `json:"sizeCategory,omitempty"`
	ZoneID        string        `json:"zoneId,omitempty"`
	Status        TentStatus    `json:"status"`
	GuestName     string        `json:"guestName,omitempty"`
	GuestEmail    string        `json:"guestEmail,omitempty"`
	GuestPhone    string        `json:"guestPhone,omitempty"`
	CheckInDate   *time.Time    `json:"checkInDate,omitempty"`
	CheckOutDate  *time.Time    `json:"checkOutDate,omitempty"`
	CheckedInAt   *time.Time    `json:"checkedInAt,omitempty"`
	Amenities     TentAmenities `json:"amenities"`
	PricePerNight float64       `json:"pricePerNight,omitempty"`
	Currency      string        `json:"currency,omitempty"`
	Notes         string        `json:"notes,omitempty"`
}

func (*Tent) Kind() Kind { return KindTent }

func (t *Tent) Clone() Entity {
	c := *t
	c.DeletedAt = cloneTime(t.DeletedAt)
	c.CheckInDate = cloneTime(t.CheckInDate)
	c.CheckOutDate = cloneTime(t.CheckOutDate)
	c.CheckedInAt = cloneTime(t.CheckedInAt)
	return &c
}

var ErrTentTransition = errors.New("invalid tent transition")

// Booking is the guest information attached when a tent is reserved.
type Booking struct {
	GuestName  string    `json:"guestName"`
	GuestEmail string    `json:"guestEmail,omitempty"`
	GuestPhone string    `json:"guestPhone,omitempty"`
	CheckIn    time.Time `json:"checkIn"`
	CheckOut   time.Time `json:"checkOut"`
}

// Book reserves an available tent.
func (t *Tent) Book(b Booking) error {
	if t.Status != TentAvailable {
		return fmt.Errorf("%w: cannot book a %s tent", ErrTentTransition, t.Status)
	}
	if b.GuestName == "" {
		return fmt.Errorf("%w: guest name is required", ErrTentTransition)
	}
	if !b.CheckOut.After(b.CheckIn) {
		return fmt.Errorf("%w: check-out must be after check-in", ErrTentTransition)
	}
	in, out := b.CheckIn, b.CheckOut
	t.GuestName, t.GuestEmail, t.GuestPhone = b.GuestName, b.GuestEmail, b.GuestPhone
	t.CheckInDate, t.CheckOutDate = &in, &out
	t.Status = TentReserved
	return nil
}

// CheckIn marks a reserved tent occupied. Walk-ins on an available tent are
// allowed when a guest name is already recorded.
func (t *Tent) CheckIn(at time.Time) error {
	switch {
	case t.Status == TentReserved:
	case t.Status == TentAvailable && t.GuestName != "":
	default:
		return fmt.Errorf("%w: cannot check in to a %s tent", ErrTentTransition, t.Status)
	}
	t.CheckedInAt = &at
	t.Status = TentOccupied
	return nil
}

// CheckOut releases an occupied tent and clears the booking.
func (t *Tent) CheckOut() error {
	if t.Status != TentOccupied {
		return fmt.Errorf("%w: cannot check out of a %s tent", ErrTentTransition, t.Status)
	}
	t.GuestName, t.GuestEmail, t.GuestPhone = "", "", ""
	t.CheckInDate, t.CheckOutDate, t.CheckedInAt = nil, nil, nil
	t.Status = TentAvailable
	return nil
}
