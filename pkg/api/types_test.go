package api

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTaskStatusJSONUsesVariantNames(t *testing.T) {
	for _, s := range []TaskStatus{TaskCreated, TaskDownloaded, TaskRunning, TaskSuccessful, TaskFailed} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		if string(data) != `"`+s.String()+`"` {
			t.Fatalf("marshal %v = %s", s, data)
		}
		var back TaskStatus
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != s {
			t.Fatalf("round trip %v -> %v", s, back)
		}
	}
}

func TestTaskStatusRejectsUnknownAndNumeric(t *testing.T) {
	var s TaskStatus
	if err := json.Unmarshal([]byte(`"Paused"`), &s); err == nil {
		t.Fatal("expected error for unknown status name")
	}
	if err := json.Unmarshal([]byte(`2`), &s); err == nil {
		t.Fatal("expected error for numeric status")
	}
	if _, err := json.Marshal(TaskStatus(9)); err == nil {
		t.Fatal("expected error marshalling out-of-range status")
	}
}

func TestTaskStatusRank(t *testing.T) {
	if TaskSuccessful.Rank() != TaskFailed.Rank() {
		t.Fatal("Successful and Failed must share the terminal rank")
	}
	order := []TaskStatus{TaskCreated, TaskDownloaded, TaskRunning, TaskSuccessful}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("rank(%v) <= rank(%v)", order[i], order[i-1])
		}
	}
	if !TaskFailed.Terminal() || TaskRunning.Terminal() {
		t.Fatal("Terminal() misclassifies statuses")
	}
}

func TestTaskPayloadStringParam(t *testing.T) {
	var p TaskPayload
	if err := json.Unmarshal([]byte(`{"name":"delete-user-profile","parameters":{"sid":"S-1-5-21-1","n":3,"blank":"  "}}`), &p); err != nil {
		t.Fatal(err)
	}
	if sid, ok := p.StringParam("sid"); !ok || sid != "S-1-5-21-1" {
		t.Fatalf("sid = %q, %v", sid, ok)
	}
	if _, ok := p.StringParam("n"); ok {
		t.Fatal("numeric parameter should not be returned as string")
	}
	if _, ok := p.StringParam("blank"); ok {
		t.Fatal("blank parameter should be treated as missing")
	}
	if _, ok := p.StringParam("missing"); ok {
		t.Fatal("missing parameter reported present")
	}
}

func TestProfileStatusFlags(t *testing.T) {
	got := ProfileStatusFlags(ProfileTemporary | ProfileCorrupted)
	want := []string{"Temporary", "Corrupted"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("flags = %v, want %v", got, want)
	}
	if len(ProfileStatusFlags(0)) != 0 {
		t.Fatal("zero status should have no flags")
	}
}

func TestProfileHealthName(t *testing.T) {
	cases := map[uint8]string{0: "healthy", 1: "unhealthy", 2: "attention", 7: ""}
	for code, want := range cases {
		if got := ProfileHealthName(code); got != want {
			t.Errorf("ProfileHealthName(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestProfileInfoOmitsAbsentSize(t *testing.T) {
	data, err := json.Marshal(ProfileInfo{SID: "S-1-5-21-9"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["size"]; ok {
		t.Fatal("absent size must not serialize as 0")
	}
}
