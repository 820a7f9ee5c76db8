package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb
const sigBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID converts a GATT identifier to the form used for keying and comparison:
// lower-case, no 0x prefix, 16-bit short form for SIG base UUIDs and the canonical dashed
// form for any other 128-bit UUID. Returns "" for malformed input.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4, 8:
		if !isHex(s) {
			return ""
		}
		return s
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	canonical := u.String()
	if strings.HasPrefix(canonical, "0000") && strings.HasSuffix(canonical, sigBaseSuffix) {
		return canonical[4:8]
	}
	return canonical
}

// NormalizeUUIDs normalizes every entry, dropping malformed ones
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or a KindInvalidRequest error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, NewError(KindInvalidRequest, "at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if u == "" {
			return nil, NewError(KindInvalidRequest, "UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(u)
		if normalized == "" {
			return nil, NewError(KindInvalidRequest, "invalid UUID format at index %d: %s", i, u)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

// DisplayUUID renders a UUID with its well-known name when there is one
func DisplayUUID(u string) string {
	if name := KnownName(u); name != "" {
		return fmt.Sprintf("%s (%s)", u, name)
	}
	return u
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
