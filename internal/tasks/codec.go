package tasks

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// payloadVersion is bumped whenever the payload envelope shape changes.
// Stored alongside the data so old rows remain decodable after upgrades.
const payloadVersion = 1

// payloadEnvelope wraps an opaque payload map with a schema version.
type payloadEnvelope struct {
	Version int            `msgpack:"v"`
	Data    map[string]any `msgpack:"d"`
}

// EncodePayload serializes an opaque parameter/result map to a msgpack blob.
// Nil maps encode to nil (stored as NULL).
func EncodePayload(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	blob, err := msgpack.Marshal(payloadEnvelope{
		Version: payloadVersion,
		Data:    data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return blob, nil
}

// DecodePayload deserializes a msgpack blob back into a payload map.
// Nil or empty blobs decode to nil.
func DecodePayload(blob []byte) (map[string]any, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	var env payloadEnvelope
	if err := msgpack.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if env.Version > payloadVersion {
		return nil, fmt.Errorf("payload version %d is newer than supported version %d", env.Version, payloadVersion)
	}
	return env.Data, nil
}

// PayloadString extracts a string field from a payload map.
func PayloadString(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PayloadStrings extracts a string-slice field from a payload map.
// msgpack round-trips []string as []any, so both shapes are accepted.
func PayloadStrings(data map[string]any, key string) ([]string, bool) {
	v, ok := data[key]
	if !ok {
		return nil, false
	}
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// PayloadFloat extracts a numeric field from a payload map.
// msgpack may decode numbers as any integer or float width.
func PayloadFloat(data map[string]any, key string) (float64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
