package provider

import (
	"testing"

	"github.com/popouts/backend/internal/extract"
)

func sampleDetails(noteTexts ...string) extract.MeetingDetails {
	notes := make([]extract.MeetingNote, len(noteTexts))
	for i, text := range noteTexts {
		notes[i] = extract.MeetingNote{Text: text}
	}
	return extract.MeetingDetails{
		MeetingSeries:   extract.MeetingSeries{ID: "series-1", Name: "Weekly sync", Type: "recurring"},
		MeetingInstance: extract.MeetingInstance{ID: "meeting-1", SeriesID: "series-1", Notes: notes},
	}
}

func TestParseAnswerMapsActionsToNotes(t *testing.T) {
	details := sampleDetails("Review the budget", "Just an FYI", "Ship the release")
	answer := `{"notes_with_actions":[
		{"note_index":0,"action_items":[{"text":"Review the Q1 budget"}]},
		{"note_index":2,"action_items":[{"text":"Ship release 2.0"},{"text":"Announce the release"}]}
	]}`

	got := parseAnswer(details, answer)
	if len(got) != 3 {
		t.Fatalf("got %d notes, want 3", len(got))
	}
	if len(got[0].ActionItems) != 1 || got[0].ActionItems[0].Text != "Review the Q1 budget" {
		t.Errorf("note 0 actions = %v", got[0].ActionItems)
	}
	if len(got[1].ActionItems) != 0 {
		t.Errorf("note 1 should have no actions, got %v", got[1].ActionItems)
	}
	if len(got[2].ActionItems) != 2 {
		t.Errorf("note 2 actions = %v", got[2].ActionItems)
	}
	// Order and identity of input notes are preserved.
	for i, want := range []string{"Review the budget", "Just an FYI", "Ship the release"} {
		if got[i].Note.Text != want {
			t.Errorf("note %d text = %q, want %q", i, got[i].Note.Text, want)
		}
	}
}

func TestParseAnswerJSONCodeFence(t *testing.T) {
	details := sampleDetails("Do the thing")
	answer := "Here is the result:\n```json\n{\"notes_with_actions\":[{\"note_index\":0,\"action_items\":[{\"text\":\"Do the thing\"}]}]}\n```\nLet me know if you need more."

	got := parseAnswer(details, answer)
	if len(got) != 1 || len(got[0].ActionItems) != 1 {
		t.Fatalf("fenced answer not parsed: %v", got)
	}
}

func TestParseAnswerBareCodeFence(t *testing.T) {
	details := sampleDetails("Do the thing")
	answer := "```\n{\"notes_with_actions\":[{\"note_index\":0,\"action_items\":[{\"text\":\"Do the thing\"}]}]}\n```"

	got := parseAnswer(details, answer)
	if len(got) != 1 || len(got[0].ActionItems) != 1 {
		t.Fatalf("fenced answer not parsed: %v", got)
	}
}

func TestParseAnswerUnparseableFallsBackToEmpty(t *testing.T) {
	details := sampleDetails("First note", "Second note")

	got := parseAnswer(details, "I could not produce JSON, sorry.")
	if len(got) != 2 {
		t.Fatalf("got %d notes, want 2", len(got))
	}
	for i, n := range got {
		if n.ActionItems == nil || len(n.ActionItems) != 0 {
			t.Errorf("note %d actions = %v, want empty non-nil list", i, n.ActionItems)
		}
	}
}

func TestParseAnswerSkipsBlankActionText(t *testing.T) {
	details := sampleDetails("A note")
	answer := `{"notes_with_actions":[{"note_index":0,"action_items":[{"text":""},{"text":"Real action"}]}]}`

	got := parseAnswer(details, answer)
	if len(got[0].ActionItems) != 1 || got[0].ActionItems[0].Text != "Real action" {
		t.Errorf("actions = %v, want only the non-blank one", got[0].ActionItems)
	}
}

func TestParseAnswerIgnoresOutOfRangeIndex(t *testing.T) {
	details := sampleDetails("Only note")
	answer := `{"notes_with_actions":[{"note_index":7,"action_items":[{"text":"Phantom"}]}]}`

	got := parseAnswer(details, answer)
	if len(got) != 1 || len(got[0].ActionItems) != 0 {
		t.Errorf("out-of-range index leaked into output: %v", got)
	}
}
