package db

import (
	"encoding/json"
	"testing"
)

const journalTestPrefix = "db:journal_test"

func TestMarshalDetail(t *testing.T) {
	got, err := marshalDetail(nil)
	if err != nil || string(got) != "{}" {
		t.Errorf("%s - marshalDetail(nil) = %q, %v", journalTestPrefix, got, err)
	}

	got, err = marshalDetail(map[string]interface{}{"code": "LATE_RESULT", "pending": 2})
	if err != nil {
		t.Fatalf("%s - marshalDetail: %v", journalTestPrefix, err)
	}
	var back map[string]interface{}
	if err := json.Unmarshal(got, &back); err != nil {
		t.Fatalf("%s - detail is not JSON: %v", journalTestPrefix, err)
	}
	if back["code"] != "LATE_RESULT" || back["pending"] != float64(2) {
		t.Errorf("%s - detail = %v", journalTestPrefix, back)
	}

	if _, err := marshalDetail(map[string]interface{}{"bad": make(chan int)}); err == nil {
		t.Errorf("%s - expected error for unmarshalable detail", journalTestPrefix)
	}
}
