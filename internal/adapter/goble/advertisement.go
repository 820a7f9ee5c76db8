package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
)

// noTxPower is what go-ble reports when the advertisement carries no TX power level
const noTxPower = 127

// recordFromAdvertisement converts a go-ble advertisement into a registry record
func recordFromAdvertisement(adv ble.Advertisement) *device.Record {
	services := adv.Services()
	uuids := make([]string, 0, len(services))
	for _, u := range services {
		uuids = append(uuids, u.String())
	}

	tx := adv.TxPowerLevel()
	if tx == noTxPower {
		tx = 0
	}

	now := time.Now()
	rec := &device.Record{
		ID:               adv.Addr().String(),
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		ServiceUUIDs:     device.NormalizeUUIDs(uuids),
		ManufacturerData: append([]byte(nil), adv.ManufacturerData()...),
		LocalName:        adv.LocalName(),
		TxPowerLevel:     tx,
		FirstSeen:        now,
		LastSeen:         now,
	}
	if rec.Name == "" {
		rec.Name = device.UnknownName
	}
	return rec
}

// capabilitiesOf maps go-ble property bits onto device capabilities
func capabilitiesOf(p ble.Property) device.Capabilities {
	var caps device.Capabilities
	if p&ble.CharRead != 0 {
		caps = caps.With(device.CapRead)
	}
	if p&ble.CharWrite != 0 {
		caps = caps.With(device.CapWrite)
	}
	if p&ble.CharWriteNR != 0 {
		caps = caps.With(device.CapWriteNoResponse)
	}
	if p&ble.CharNotify != 0 {
		caps = caps.With(device.CapNotify)
	}
	if p&ble.CharIndicate != 0 {
		caps = caps.With(device.CapIndicate)
	}
	return caps
}
