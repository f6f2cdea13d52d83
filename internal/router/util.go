package router

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// jsonRemarshal re-encodes a decoded request body back to canonical JSON,
// used when a handler needs to persist the raw body rather than its
// decoded map[string]any form.
func jsonRemarshal(body map[string]any) (json.RawMessage, error) {
	return json.Marshal(body)
}

// jsonRemarshalValue is jsonRemarshal for an arbitrary already-decoded value
// (e.g. a body field pulled out of the top-level map rather than the whole
// body).
func jsonRemarshalValue(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// jsonUnmarshalString parses a JSON document carried as a string body field
// (e.g. a submitted detailsFile) into out.
func jsonUnmarshalString(raw string, out any) error {
	return json.Unmarshal([]byte(raw), out)
}

// decodeSignature accepts a 0x-prefixed or bare hex-encoded signature, the
// convention wallets use for personal_sign output.
func decodeSignature(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}

func scanInt64(raw string, out *int64) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	*out = v
	return v, nil
}
