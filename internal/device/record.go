package device

import (
	"slices"
	"time"
)

// UnknownName is the display name given to devices only known by identifier
const UnknownName = "Unknown Device"

// Record is a discovered peripheral as seen through its advertisements
type Record struct {
	ID               string
	Name             string
	RSSI             int
	Connectable      bool
	ServiceUUIDs     []string
	ManufacturerData []byte
	LocalName        string
	TxPowerLevel     int
	FirstSeen        time.Time
	LastSeen         time.Time

	// Placeholder is set for records created from a native event that referenced an id
	// never seen in an advertisement.
	Placeholder bool
}

// NewPlaceholder returns the minimal record used when a native event names an unknown device.
func NewPlaceholder(id string) *Record {
	now := time.Now()
	return &Record{
		ID:          id,
		Name:        UnknownName,
		Connectable: true,
		FirstSeen:   now,
		LastSeen:    now,
		Placeholder: true,
	}
}

// DisplayName returns the best human-readable name for the device
func (r *Record) DisplayName() string {
	switch {
	case r.LocalName != "":
		return r.LocalName
	case r.Name != "":
		return r.Name
	default:
		return r.ID
	}
}

// Clone returns a deep copy safe to hand out of the registry
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.ServiceUUIDs = slices.Clone(r.ServiceUUIDs)
	c.ManufacturerData = slices.Clone(r.ManufacturerData)
	return &c
}

// refresh overwrites the advertisement-driven fields from a rediscovery.
// Identity and first-seen name stay; a placeholder adopts the first advertised name.
func (r *Record) refresh(from *Record) {
	r.RSSI = from.RSSI
	r.Connectable = from.Connectable
	r.ServiceUUIDs = slices.Clone(from.ServiceUUIDs)
	r.ManufacturerData = slices.Clone(from.ManufacturerData)
	r.LocalName = from.LocalName
	r.TxPowerLevel = from.TxPowerLevel
	r.LastSeen = from.LastSeen
	if r.Placeholder && from.Name != "" && from.Name != UnknownName {
		r.Name = from.Name
		r.Placeholder = false
	}
}
