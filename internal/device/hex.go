package device

import (
	"encoding/hex"
)

// EncodeHex renders payload bytes in the native wire form: lower-case, no separators.
func EncodeHex(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodeHex parses a wire-form payload. Upper-case digits are accepted.
// Malformed input yields an empty (non-nil) slice and a KindDecode error.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return []byte{}, NewError(KindDecode, "hex payload has odd length %d", len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return []byte{}, &Error{Kind: KindDecode, Msg: "malformed hex payload", Err: err}
	}
	return data, nil
}
