package commsutil

import (
	"strings"
	"testing"
)

const codecTestPrefix = "commsutil:codec_test"

func TestEncodePayload(t *testing.T) {
	data, err := EncodePayload(map[string]int{"index": 2})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if string(data) != `{"index":2}` {
		t.Errorf("%s - got %s", codecTestPrefix, data)
	}

	_, err = EncodePayload(make(chan int))
	if err == nil || !strings.Contains(err.Error(), codecLogPrefix) {
		t.Errorf("%s - expected wrapped error for channel, got %v", codecTestPrefix, err)
	}
}

func TestDecodePayload(t *testing.T) {
	var out struct {
		BatchID string `json:"batchId"`
		Index   int    `json:"index"`
	}
	if err := DecodePayload([]byte(`{"batchId":"b1","index":3}`), &out); err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if out.BatchID != "b1" || out.Index != 3 {
		t.Errorf("%s - decoded %+v", codecTestPrefix, out)
	}

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"malformed", `{"batchId":`},
		{"wrong type", `{"index":"three"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := DecodePayload([]byte(tt.data), &out); err == nil {
				t.Errorf("%s - expected error", codecTestPrefix)
			}
		})
	}
}
