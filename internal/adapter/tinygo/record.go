//go:build tinygo_ble

package tinygo

import (
	"encoding/binary"
	"time"

	"github.com/srg/blecentral/internal/device"
	"tinygo.org/x/bluetooth"
)

// recordFromScan converts a scan result into a registry record. Manufacturer
// data is re-assembled in its on-air form: little-endian company ID, then payload.
func recordFromScan(result bluetooth.ScanResult) *device.Record {
	var mfg []byte
	if elements := result.ManufacturerData(); len(elements) > 0 {
		mfg = binary.LittleEndian.AppendUint16(mfg, elements[0].CompanyID)
		mfg = append(mfg, elements[0].Data...)
	}

	now := time.Now()
	rec := &device.Record{
		ID:               result.Address.String(),
		Name:             result.LocalName(),
		LocalName:        result.LocalName(),
		RSSI:             int(result.RSSI),
		Connectable:      true,
		ManufacturerData: mfg,
		ServiceUUIDs:     []string{},
		FirstSeen:        now,
		LastSeen:         now,
	}
	if rec.Name == "" {
		rec.Name = device.UnknownName
	}
	return rec
}
