package extract

import "time"

// MeetingNote is one free-form note taken during a meeting.
type MeetingNote struct {
	Text      string     `json:"text"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// MeetingSeries identifies a recurring meeting (1:1s, recurring, adhoc).
type MeetingSeries struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// MeetingInstance is one occurrence of a series, carrying its notes.
type MeetingInstance struct {
	ID        string        `json:"id"`
	SeriesID  string        `json:"series_id"`
	Date      *time.Time    `json:"date,omitempty"`
	Notes     []MeetingNote `json:"notes"`
	CreatedAt *time.Time    `json:"created_at,omitempty"`
}

type AgendaItem struct {
	ID        string     `json:"id"`
	SeriesID  string     `json:"series_id"`
	Text      string     `json:"text"`
	Status    string     `json:"status,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// ActionItem is a single extracted action, text only.
type ActionItem struct {
	Text string `json:"text"`
}

// NoteWithActions pairs a meeting note with the actions extracted from it.
// A note can carry zero, one, or multiple actions.
type NoteWithActions struct {
	Note        MeetingNote  `json:"note"`
	ActionItems []ActionItem `json:"action_items"`
}

// MeetingDetails is the complete extraction input: the meeting, its notes,
// and supporting context the model can draw on.
type MeetingDetails struct {
	MeetingSeries   MeetingSeries   `json:"meeting_series"`
	MeetingInstance MeetingInstance `json:"meeting_instance"`
	AgendaItems     []AgendaItem    `json:"agenda_items"`
	ExistingActions []ActionItem    `json:"existing_actions"`
}

// Result is the extraction outcome: every input note appears exactly once,
// in order, with its actions. Cached reports whether the result was served
// from a prior identical request.
type Result struct {
	SeriesID         string            `json:"series_id"`
	MeetingID        string            `json:"meeting_id"`
	NotesWithActions []NoteWithActions `json:"notes_with_actions"`
	Cached           bool              `json:"-"`
}
