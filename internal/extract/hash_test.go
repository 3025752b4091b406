package extract

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a := []byte(`{"b":1,"a":{"z":true,"y":[1,2]}}`)
	b := []byte(`{"a":{"y":[1,2],"z":true},"b":1}`)

	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatal(err)
	}

	ca, err := CanonicalJSON(va)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := CanonicalJSON(vb)
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}
}

func TestInputHashStableAcrossCalls(t *testing.T) {
	date := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	details := MeetingDetails{
		MeetingSeries:   MeetingSeries{ID: "s1", Name: "Standup", Type: "recurring"},
		MeetingInstance: MeetingInstance{ID: "m1", SeriesID: "s1", Date: &date, Notes: []MeetingNote{{Text: "hello"}}},
	}

	h1, c1, err := InputHash(details)
	if err != nil {
		t.Fatal(err)
	}
	h2, _, err := InputHash(details)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
	if !json.Valid(c1) {
		t.Errorf("canonical form is not valid JSON: %s", c1)
	}
}

func TestInputHashDiffersOnContent(t *testing.T) {
	base := MeetingDetails{
		MeetingInstance: MeetingInstance{ID: "m1", Notes: []MeetingNote{{Text: "hello"}}},
	}
	changed := MeetingDetails{
		MeetingInstance: MeetingInstance{ID: "m1", Notes: []MeetingNote{{Text: "hello!"}}},
	}

	h1, _, err := InputHash(base)
	if err != nil {
		t.Fatal(err)
	}
	h2, _, err := InputHash(changed)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("different note text produced the same hash")
	}
}
