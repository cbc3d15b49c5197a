package commsutil

import (
	"encoding/json"
	"errors"
)

// ErrEmptyPayload is returned when a message carries no data.
var ErrEmptyPayload = errors.New("empty payload")

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(data, v)
}

// DecodeObject decodes a JSON object. Empty input and JSON null decode to an empty map so that
// optional params can be passed as nothing at all.
func DecodeObject(data []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}
