package commsutil

import (
	"encoding/json"
	"fmt"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode %T: %w", codecLogPrefix, v, err)
	}
	return data, nil
}

// DecodePayload deserializes JSON bytes into the given target. An empty
// payload is an error.
func DecodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%s - empty payload", codecLogPrefix)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - failed to decode into %T: %w", codecLogPrefix, v, err)
	}
	return nil
}
