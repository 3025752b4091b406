package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/popouts/backend/internal/extract"
)

const extractionInstructions = `For each note in meeting_instance.notes, identify whether it contains action items; a note may have zero, one, or multiple actions. Action items can match the original text or be structured, improved versions with correct grammar and spelling. Write each action so it stands alone: resolve pronouns such as "it", "this", and "that" to the closest antecedent within the note, and append the nearest relevant context from the same note or the meeting title when clearly implied. Do not invent information beyond the note and meeting metadata. Use imperative voice and keep wording brief.
Return a JSON object with a "notes_with_actions" array. Each item must have:
- "note_index": the index of the note (0-based)
- "note": the original note object
- "action_items": array of action items extracted from this note, each with only a "text" field`

// buildPrompt renders the meeting content and extraction instructions into a
// single user message.
func buildPrompt(details extract.MeetingDetails) (string, error) {
	payload, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding meeting details: %w", err)
	}
	return fmt.Sprintf("Extract action items from the following meeting notes.\n\nMeeting Details (JSON):\n%s\n\n%s", payload, extractionInstructions), nil
}

// extractionPayload mirrors the JSON structure the model is asked to return.
type extractionPayload struct {
	NotesWithActions []struct {
		NoteIndex   *int `json:"note_index"`
		ActionItems []struct {
			Text string `json:"text"`
		} `json:"action_items"`
	} `json:"notes_with_actions"`
}

// parseAnswer maps a model answer onto the input notes. Answers wrapped in
// markdown code fences are unwrapped first; an answer that still doesn't
// parse yields every note with an empty action list rather than an error.
func parseAnswer(details extract.MeetingDetails, answer string) []extract.NoteWithActions {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(answer), &payload); err != nil {
		stripped, ok := stripCodeFence(answer)
		if !ok || json.Unmarshal([]byte(stripped), &payload) != nil {
			return emptyActions(details)
		}
	}

	actionsByIndex := make(map[int][]extract.ActionItem)
	for _, entry := range payload.NotesWithActions {
		if entry.NoteIndex == nil {
			continue
		}
		var items []extract.ActionItem
		for _, a := range entry.ActionItems {
			if a.Text != "" {
				items = append(items, extract.ActionItem{Text: a.Text})
			}
		}
		actionsByIndex[*entry.NoteIndex] = items
	}

	notes := details.MeetingInstance.Notes
	result := make([]extract.NoteWithActions, len(notes))
	for i, note := range notes {
		actions := actionsByIndex[i]
		if actions == nil {
			actions = []extract.ActionItem{}
		}
		result[i] = extract.NoteWithActions{Note: note, ActionItems: actions}
	}
	return result
}

// stripCodeFence pulls the body out of a ```json or ``` fenced block.
func stripCodeFence(s string) (string, bool) {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(s, marker)
		if start < 0 {
			continue
		}
		body := s[start+len(marker):]
		end := strings.Index(body, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(body[:end]), true
	}
	return "", false
}

// emptyActions returns every input note with no actions, preserving order.
func emptyActions(details extract.MeetingDetails) []extract.NoteWithActions {
	notes := details.MeetingInstance.Notes
	result := make([]extract.NoteWithActions, len(notes))
	for i, note := range notes {
		result[i] = extract.NoteWithActions{Note: note, ActionItems: []extract.ActionItem{}}
	}
	return result
}
