package sim

import (
	"encoding/binary"

	"github.com/srg/blecentral/internal/device"
)

const (
	vernierCommandService  = "f4bf14a6-c7d5-4b6d-8aa8-df1a7c83adcb"
	vernierResponseService = "b41e6675-a329-40e0-aa01-44d2f444babe"
	vernierCommandChar     = "f4bf14a6-c7d5-4b6d-8aa8-df1a7c83adcb"
	vernierResponseChar    = "b41e6675-a329-40e0-aa01-44d2f444babe"
)

// Characteristic is one simulated GATT characteristic
type Characteristic struct {
	ServiceUUID  string
	UUID         string
	Capabilities []string
	Value        []byte

	// Next produces the payload of the n-th notification; nil repeats Value.
	Next func(n int) []byte
}

// Peripheral is one simulated device: its advertisement and its GATT table
type Peripheral struct {
	Advertisement   device.Record
	Characteristics []Characteristic
}

func caps(names ...string) []string { return names }

func batteryLevel(start int) func(n int) []byte {
	return func(n int) []byte {
		level := start - n
		if level < 5 {
			level = 5
		}
		return []byte{byte(level)}
	}
}

func heartRate(n int) []byte {
	// flags 0: uint8 bpm
	return []byte{0x00, byte(62 + n%18)}
}

func temperature(n int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(2150+(n%10)*5)) // 0.01 degC
	return b
}

func genericAccess(name string, appearance uint16) []Characteristic {
	app := make([]byte, 2)
	binary.LittleEndian.PutUint16(app, appearance)
	return []Characteristic{
		{ServiceUUID: "1800", UUID: "2a00", Capabilities: caps("read"), Value: []byte(name)},
		{ServiceUUID: "1800", UUID: "2a01", Capabilities: caps("read"), Value: app},
	}
}

func battery(start int) Characteristic {
	return Characteristic{
		ServiceUUID:  "180f",
		UUID:         "2a19",
		Capabilities: caps("read", "notify"),
		Value:        []byte{byte(start)},
		Next:         batteryLevel(start),
	}
}

// DefaultPeripherals returns the built-in set of simulated devices
func DefaultPeripherals() []Peripheral {
	return []Peripheral{
		{
			Advertisement: device.Record{
				ID:               "simulated-device-001",
				Name:             "Fitness Tracker",
				RSSI:             -45,
				Connectable:      true,
				ServiceUUIDs:     []string{"180D", "180F"},
				ManufacturerData: []byte{0x4c, 0x00, 0x10, 0x05, 0x07, 0x1c, 0x12, 0x34, 0x56},
				LocalName:        "FitTracker Pro",
				TxPowerLevel:     4,
			},
			Characteristics: append(genericAccess("FitTracker Pro", 0x0340),
				Characteristic{ServiceUUID: "180d", UUID: "2a37", Capabilities: caps("notify"), Value: heartRate(0), Next: heartRate},
				Characteristic{ServiceUUID: "180d", UUID: "2a39", Capabilities: caps("write")},
				battery(87),
			),
		},
		{
			Advertisement: device.Record{
				ID:               "simulated-device-002",
				Name:             "Smart Watch",
				RSSI:             -62,
				Connectable:      true,
				ServiceUUIDs:     []string{"1800", "1801", "180F"},
				ManufacturerData: []byte{0x4c, 0x00, 0x10, 0x05, 0x07, 0xab, 0x65, 0x43, 0x21},
				LocalName:        "SmartWatch X1",
				TxPowerLevel:     0,
			},
			Characteristics: append(genericAccess("SmartWatch X1", 0x00c0),
				Characteristic{ServiceUUID: "1801", UUID: "2a05", Capabilities: caps("indicate")},
				battery(64),
			),
		},
		{
			Advertisement: device.Record{
				ID:           "simulated-device-003",
				Name:         "Temperature Sensor",
				RSSI:         -38,
				Connectable:  true,
				ServiceUUIDs: []string{"181A"},
				LocalName:    "TempSense v2",
				TxPowerLevel: -4,
			},
			Characteristics: append(genericAccess("TempSense v2", 0x0300),
				Characteristic{ServiceUUID: "181a", UUID: "2a6e", Capabilities: caps("read", "notify"), Value: temperature(0), Next: temperature},
			),
		},
		{
			Advertisement: device.Record{
				ID:               "vernier-gdx-tmp-001",
				Name:             "GDX-TMP 071000ABC",
				RSSI:             -52,
				Connectable:      true,
				ServiceUUIDs:     []string{vernierCommandService, vernierResponseService, "180F"},
				ManufacturerData: []byte{0x57, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
				LocalName:        "GDX-TMP 071000ABC",
			},
			Characteristics: []Characteristic{
				{ServiceUUID: vernierCommandService, UUID: vernierCommandChar, Capabilities: caps("write", "writeWithoutResponse")},
				{ServiceUUID: vernierResponseService, UUID: vernierResponseChar, Capabilities: caps("notify"), Value: []byte{0x20, 0x00}},
				battery(93),
			},
		},
		{
			Advertisement: device.Record{
				ID:               "vernier-gdx-for-002",
				Name:             "GDX-FOR 071000DEF",
				RSSI:             -48,
				Connectable:      true,
				ServiceUUIDs:     []string{vernierCommandService, vernierResponseService, "180A"},
				ManufacturerData: []byte{0x57, 0x00, 0x01, 0xab, 0xcd, 0xef, 0x12, 0x34},
				LocalName:        "GDX-FOR 071000DEF",
				TxPowerLevel:     2,
			},
			Characteristics: []Characteristic{
				{ServiceUUID: vernierCommandService, UUID: vernierCommandChar, Capabilities: caps("write", "writeWithoutResponse")},
				{ServiceUUID: vernierResponseService, UUID: vernierResponseChar, Capabilities: caps("notify"), Value: []byte{0x20, 0x00}},
				{ServiceUUID: "180a", UUID: "2a29", Capabilities: caps("read"), Value: []byte("Vernier Science Education")},
			},
		},
	}
}
