package device

import (
	"strings"
)

// Capability is a single GATT characteristic property
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapWriteNoResponse
	CapNotify
	CapIndicate
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapRead, "read"},
	{CapWrite, "write"},
	{CapWriteNoResponse, "writeWithoutResponse"},
	{CapNotify, "notify"},
	{CapIndicate, "indicate"},
}

// Capabilities is a set of characteristic properties
type Capabilities uint8

// Has reports whether every capability in c is present
func (s Capabilities) Has(c Capability) bool {
	return s&Capabilities(c) == Capabilities(c)
}

// With returns the set extended by c
func (s Capabilities) With(c Capability) Capabilities {
	return s | Capabilities(c)
}

// Names lists the set in canonical order using the native property names
func (s Capabilities) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if s.Has(cn.cap) {
			names = append(names, cn.name)
		}
	}
	return names
}

func (s Capabilities) String() string {
	return strings.Join(s.Names(), ",")
}

// ParseCapabilities builds a set from native property names.
// Unknown names are returned separately so callers can log them.
func ParseCapabilities(names []string) (Capabilities, []string) {
	var set Capabilities
	var unknown []string
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		found := false
		for _, cn := range capabilityNames {
			if strings.EqualFold(cn.name, name) {
				set = set.With(cn.cap)
				found = true
				break
			}
		}
		if !found && name != "" {
			unknown = append(unknown, name)
		}
	}
	return set, unknown
}

// Characteristic is a read-only snapshot of a GATT characteristic on a connected device
type Characteristic struct {
	ServiceUUID  string
	UUID         string
	Capabilities Capabilities
	Subscribed   bool
}

// CanSubscribe reports whether the characteristic supports notifications or indications
func (c Characteristic) CanSubscribe() bool {
	return c.Capabilities.Has(CapNotify) || c.Capabilities.Has(CapIndicate)
}

// Service is a GATT service summary on a connected device
type Service struct {
	UUID                string
	CharacteristicCount int
}
