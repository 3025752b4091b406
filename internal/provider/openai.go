package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/popouts/backend/internal/extract"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"
const defaultOpenAIModel = "gpt-4o-mini"

const openAISystemPrompt = "You are an AI assistant that extracts action items from meeting notes. " +
	"For each meeting note, identify if it contains action items. " +
	"A single note can have 0, 1, or multiple action items. " +
	"Action items can be exactly the same as the note text, or structured, improved versions. " +
	"Return a JSON object with a 'notes_with_actions' array. " +
	"Each item must have 'note_index' (0-based), 'note' (original note object), " +
	"and 'action_items' with only a 'text' field per item."

// OpenAIClient is the direct request/response provider: one chat-completions
// call returns the structured answer.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI-backed provider.
func NewOpenAIClient(opts Options) *OpenAIClient {
	baseURL := opts.OpenAIBaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := opts.OpenAIModel
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		apiKey:     opts.OpenAIAPIKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /chat/completions.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ExtractActions sends the meeting content in one structured-output chat
// request and maps the answer onto the input notes.
func (c *OpenAIClient) ExtractActions(ctx context.Context, details extract.MeetingDetails) ([]extract.NoteWithActions, error) {
	prompt, err := buildPrompt(details)
	if err != nil {
		return nil, err
	}

	cr := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: openAISystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
	}
	cr.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", extract.ErrBackendTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", extract.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: chat completions returned status %d", extract.ErrBackendUnavailable, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: decoding chat response: %v", extract.ErrBackendMalformed, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: chat response has no choices", extract.ErrBackendMalformed)
	}

	return parseAnswer(details, chat.Choices[0].Message.Content), nil
}
