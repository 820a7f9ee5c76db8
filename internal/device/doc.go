// Package device holds the data model shared by the session core and the native adapters:
// discovered-device records and their registry, GATT characteristic and service descriptors,
// the error kinds reported by every layer, and the hexadecimal wire codec used for payloads
// crossing the native boundary.
//
// The Registry is written only from the session's serial queue; its read methods are safe
// to call from any goroutine.
package device
