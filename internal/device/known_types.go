package device

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Well-known GATT UUIDs (16-bit short form, normalized)
const (
	ServiceGenericAccess        = "1800"
	ServiceGenericAttribute     = "1801"
	ServiceDeviceInformation    = "180a"
	ServiceHeartRate            = "180d"
	ServiceBattery              = "180f"
	ServiceEnvironmentalSensing = "181a"

	CharacteristicDeviceName   = "2a00"
	CharacteristicAppearance   = "2a01"
	CharacteristicBatteryLevel = "2a19"
)

var knownNames = map[string]string{
	ServiceGenericAccess:        "Generic Access",
	ServiceGenericAttribute:     "Generic Attribute",
	ServiceDeviceInformation:    "Device Information",
	ServiceHeartRate:            "Heart Rate",
	ServiceBattery:              "Battery Service",
	ServiceEnvironmentalSensing: "Environmental Sensing",
	CharacteristicDeviceName:    "Device Name",
	CharacteristicAppearance:    "Appearance",
	CharacteristicBatteryLevel:  "Battery Level",
	"2a37":                      "Heart Rate Measurement",
	"2a6e":                      "Temperature",
}

// KnownName returns the SIG name of a service or characteristic, or "" if unknown
func KnownName(u string) string {
	return knownNames[NormalizeUUID(u)]
}

// CharacteristicParser is a function that parses a characteristic value
type CharacteristicParser func([]byte) (interface{}, error)

var appearanceCategories = map[uint16]string{
	0x0000: "Unknown",
	0x0040: "Phone",
	0x0080: "Computer",
	0x00c0: "Watch",
	0x0340: "Heart Rate Sensor",
	0x0300: "Thermometer",
}

// parseAppearance parses the Appearance characteristic (0x2A01) value
// Returns the appearance category name, or nil if unknown
func parseAppearance(value []byte) (interface{}, error) {
	if len(value) != 2 {
		return nil, fmt.Errorf("appearance value must be 2 bytes, got %d", len(value))
	}
	code := binary.LittleEndian.Uint16(value)
	// the low 6 bits are the sub-category
	if name, ok := appearanceCategories[code&^0x3f]; ok {
		return name, nil
	}
	return nil, nil
}

func parseBatteryLevel(value []byte) (interface{}, error) {
	if len(value) != 1 {
		return nil, fmt.Errorf("battery level must be 1 byte, got %d", len(value))
	}
	if value[0] > 100 {
		return nil, fmt.Errorf("battery level %d out of range", value[0])
	}
	return int(value[0]), nil
}

func parseDeviceName(value []byte) (interface{}, error) {
	return strings.TrimRight(string(value), "\x00"), nil
}

// characteristicParsers maps normalized characteristic UUIDs to their parser functions
var characteristicParsers = map[string]CharacteristicParser{
	CharacteristicAppearance:   parseAppearance,
	CharacteristicBatteryLevel: parseBatteryLevel,
	CharacteristicDeviceName:   parseDeviceName,
}

// ParseCharacteristicValue parses a characteristic value based on its UUID.
// Returns (nil, nil) for unknown characteristics and for empty data.
func ParseCharacteristicValue(u string, value []byte) (interface{}, error) {
	if len(value) == 0 {
		return nil, nil
	}
	parser, exists := characteristicParsers[NormalizeUUID(u)]
	if !exists {
		return nil, nil
	}
	return parser(value)
}

var companyNames = map[uint16]string{
	0x004c: "Apple",
	0x0006: "Microsoft",
	0x0059: "Nordic Semiconductor",
	0xfffe: "Test/Internal",
}

// CompanyID extracts the company identifier from manufacturer data (first 2 bytes, little-endian)
func CompanyID(mfg []byte) (uint16, bool) {
	if len(mfg) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(mfg[0:2]), true
}

// VendorName returns the company name advertised in manufacturer data, or ""
func VendorName(mfg []byte) string {
	id, ok := CompanyID(mfg)
	if !ok {
		return ""
	}
	return companyNames[id]
}
