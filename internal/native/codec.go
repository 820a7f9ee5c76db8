package native

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/srg/blecentral/internal/device"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// UnknownError is the connection-failure message used when the native side sends none
const UnknownError = "Unknown error"

type devicePayload struct {
	DeviceID         string   `json:"deviceId"`
	Name             *string  `json:"name,omitempty"`
	RSSI             *int     `json:"rssi,omitempty"`
	IsConnectable    *bool    `json:"isConnectable,omitempty"`
	ServiceUUIDs     []string `json:"serviceUUIDs"`
	ManufacturerData string   `json:"manufacturerData"`
	LocalName        string   `json:"localName"`
	TxPowerLevel     *int     `json:"txPowerLevel,omitempty"`
}

type valuePayload struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUUID"`
	Data               string `json:"data"`
}

type writeResultPayload struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUUID"`
	Error              string `json:"error,omitempty"`
}

type notifyStatePayload struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUUID"`
	IsNotifying        bool   `json:"isNotifying"`
	Error              string `json:"error,omitempty"`
}

type characteristicPayload struct {
	ServiceUUID        string   `json:"serviceUUID"`
	CharacteristicUUID string   `json:"characteristicUUID"`
	Properties         []string `json:"properties"`
	IsNotifying        bool     `json:"isNotifying"`
}

type servicePayload struct {
	ServiceUUID         string `json:"serviceUUID"`
	CharacteristicCount int    `json:"characteristicCount"`
}

func decodeError(what string, err error) error {
	return &device.Error{Kind: device.KindDecode, Msg: "malformed " + what + " payload", Err: err}
}

func missingField(what, field string) error {
	return device.NewError(device.KindDecode, "%s payload is missing %q", what, field)
}

// DecodeBool parses the "1"/"0" booleans of state and permission callbacks
func DecodeBool(payload string) (bool, error) {
	switch strings.TrimSpace(payload) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, device.NewError(device.KindDecode, "expected \"1\" or \"0\", got %q", payload)
	}
}

// EncodeBool renders a boolean the way DecodeBool expects it
func EncodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// DecodeConnectionFailure parses "deviceId|error". A missing message becomes UnknownError.
func DecodeConnectionFailure(payload string) (string, string, error) {
	id, msg, _ := strings.Cut(payload, "|")
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", missingField("connection-failed", "deviceId")
	}
	if strings.TrimSpace(msg) == "" {
		msg = UnknownError
	}
	return id, msg, nil
}

// EncodeConnectionFailure renders a connection failure in the pipe-delimited form
func EncodeConnectionFailure(deviceID, message string) string {
	return deviceID + "|" + message
}

// DecodeDevice parses a discovered-device object. Absent optional fields take their
// defaults: name UnknownName, rssi 0, connectable true, tx power 0.
func DecodeDevice(payload string) (*device.Record, error) {
	var p devicePayload
	if err := json.UnmarshalFromString(payload, &p); err != nil {
		return nil, decodeError("device", err)
	}
	if p.DeviceID == "" {
		return nil, missingField("device", "deviceId")
	}

	rec := &device.Record{
		ID:           p.DeviceID,
		Name:         device.UnknownName,
		Connectable:  true,
		ServiceUUIDs: device.NormalizeUUIDs(p.ServiceUUIDs),
		LocalName:    p.LocalName,
	}
	if p.Name != nil && *p.Name != "" {
		rec.Name = *p.Name
	}
	if p.RSSI != nil {
		rec.RSSI = *p.RSSI
	}
	if p.IsConnectable != nil {
		rec.Connectable = *p.IsConnectable
	}
	if p.TxPowerLevel != nil {
		rec.TxPowerLevel = *p.TxPowerLevel
	}
	if p.ManufacturerData != "" {
		mfg, err := device.DecodeHex(p.ManufacturerData)
		if err != nil {
			return nil, decodeError("device manufacturerData", err)
		}
		rec.ManufacturerData = mfg
	}
	return rec, nil
}

// EncodeDevice renders a record as a discovered-device object
func EncodeDevice(rec *device.Record) (string, error) {
	name := rec.Name
	rssi := rec.RSSI
	connectable := rec.Connectable
	tx := rec.TxPowerLevel
	services := rec.ServiceUUIDs
	if services == nil {
		services = []string{}
	}
	return json.MarshalToString(devicePayload{
		DeviceID:         rec.ID,
		Name:             &name,
		RSSI:             &rssi,
		IsConnectable:    &connectable,
		ServiceUUIDs:     services,
		ManufacturerData: device.EncodeHex(rec.ManufacturerData),
		LocalName:        rec.LocalName,
		TxPowerLevel:     &tx,
	})
}

// DecodeValue parses a characteristic-value object. The data field stays hex encoded.
func DecodeValue(payload string) (Event, error) {
	var p valuePayload
	if err := json.UnmarshalFromString(payload, &p); err != nil {
		return recoverIDs(CharacteristicValue, payload), decodeError("characteristic-value", err)
	}
	if p.DeviceID == "" {
		return Event{}, missingField("characteristic-value", "deviceId")
	}
	if p.CharacteristicUUID == "" {
		return Event{}, missingField("characteristic-value", "characteristicUUID")
	}
	return Value(p.DeviceID, p.CharacteristicUUID, p.Data), nil
}

// EncodeValue renders a characteristic-value object
func EncodeValue(deviceID, charUUID, hexPayload string) (string, error) {
	return json.MarshalToString(valuePayload{DeviceID: deviceID, CharacteristicUUID: charUUID, Data: hexPayload})
}

// DecodeWriteResult parses a write-success or write-error object
func DecodeWriteResult(kind EventKind, payload string) (Event, error) {
	var p writeResultPayload
	if err := json.UnmarshalFromString(payload, &p); err != nil {
		return recoverIDs(kind, payload), decodeError(kind.String(), err)
	}
	if p.DeviceID == "" {
		return Event{}, missingField(kind.String(), "deviceId")
	}
	if kind == WriteError {
		msg := p.Error
		if msg == "" {
			msg = UnknownError
		}
		return WriteFailed(p.DeviceID, p.CharacteristicUUID, msg), nil
	}
	return Written(p.DeviceID, p.CharacteristicUUID), nil
}

// EncodeWriteResult renders a write result object; an empty message means success
func EncodeWriteResult(deviceID, charUUID, message string) (string, error) {
	return json.MarshalToString(writeResultPayload{DeviceID: deviceID, CharacteristicUUID: charUUID, Error: message})
}

// DecodeNotifyState parses a notification-state-changed object
func DecodeNotifyState(payload string) (Event, error) {
	var p notifyStatePayload
	if err := json.UnmarshalFromString(payload, &p); err != nil {
		return recoverIDs(NotificationStateChanged, payload), decodeError("notification-state", err)
	}
	if p.DeviceID == "" {
		return Event{}, missingField("notification-state", "deviceId")
	}
	return NotifyState(p.DeviceID, p.CharacteristicUUID, p.IsNotifying, p.Error), nil
}

// EncodeNotifyState renders a notification-state-changed object
func EncodeNotifyState(deviceID, charUUID string, notifying bool, message string) (string, error) {
	return json.MarshalToString(notifyStatePayload{
		DeviceID:           deviceID,
		CharacteristicUUID: charUUID,
		IsNotifying:        notifying,
		Error:              message,
	})
}

// DecodeCharacteristics parses the JSON array answered by characteristic queries.
// An empty payload is an empty list.
func DecodeCharacteristics(payload string) ([]device.Characteristic, error) {
	if strings.TrimSpace(payload) == "" {
		return []device.Characteristic{}, nil
	}
	var items []characteristicPayload
	if err := json.UnmarshalFromString(payload, &items); err != nil {
		return []device.Characteristic{}, decodeError("characteristics", err)
	}

	out := make([]device.Characteristic, 0, len(items))
	for _, it := range items {
		if it.CharacteristicUUID == "" {
			return []device.Characteristic{}, missingField("characteristic", "characteristicUUID")
		}
		caps, _ := device.ParseCapabilities(it.Properties)
		out = append(out, device.Characteristic{
			ServiceUUID:  device.NormalizeUUID(it.ServiceUUID),
			UUID:         device.NormalizeUUID(it.CharacteristicUUID),
			Capabilities: caps,
			Subscribed:   it.IsNotifying,
		})
	}
	return out, nil
}

// EncodeCharacteristics renders descriptors as a characteristic query answer
func EncodeCharacteristics(chars []device.Characteristic) (string, error) {
	items := make([]characteristicPayload, 0, len(chars))
	for _, c := range chars {
		items = append(items, characteristicPayload{
			ServiceUUID:        c.ServiceUUID,
			CharacteristicUUID: c.UUID,
			Properties:         c.Capabilities.Names(),
			IsNotifying:        c.Subscribed,
		})
	}
	return json.MarshalToString(items)
}

// DecodeServices parses the JSON array answered by service queries
func DecodeServices(payload string) ([]device.Service, error) {
	if strings.TrimSpace(payload) == "" {
		return []device.Service{}, nil
	}
	var items []servicePayload
	if err := json.UnmarshalFromString(payload, &items); err != nil {
		return []device.Service{}, decodeError("services", err)
	}
	out := make([]device.Service, 0, len(items))
	for _, it := range items {
		out = append(out, device.Service{
			UUID:                device.NormalizeUUID(it.ServiceUUID),
			CharacteristicCount: it.CharacteristicCount,
		})
	}
	return out, nil
}

// EncodeServices renders service summaries as a service query answer
func EncodeServices(services []device.Service) (string, error) {
	items := make([]servicePayload, 0, len(services))
	for _, s := range services {
		items = append(items, servicePayload{ServiceUUID: s.UUID, CharacteristicCount: s.CharacteristicCount})
	}
	return json.MarshalToString(items)
}

// recoverIDs salvages the identifiers of a payload that failed schema decoding,
// so a best-effort error record can still be attributed to its device.
func recoverIDs(kind EventKind, payload string) Event {
	data := []byte(payload)
	ev := newEvent(kind, jsoniter.Get(data, "deviceId").ToString())
	ev.CharUUID = jsoniter.Get(data, "characteristicUUID").ToString()
	return ev
}
