package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/popouts/backend/internal/extract"
)

const defaultToqanBaseURL = "https://api.coco.prod.toqan.ai/api"

// ToqanClient is the create-job-then-poll provider: a conversation is
// created with the full prompt, then the answer endpoint is polled until the
// job finishes.
type ToqanClient struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

// NewToqanClient creates a Toqan-backed provider.
func NewToqanClient(opts Options) *ToqanClient {
	baseURL := opts.ToqanBaseURL
	if baseURL == "" {
		baseURL = defaultToqanBaseURL
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ToqanClient{
		apiKey:       opts.ToqanAPIKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: pollInterval,
		timeout:      timeout,
		// Per-request timeouts come from the polling context.
		httpClient: &http.Client{Timeout: 0},
	}
}

func (c *ToqanClient) Name() string { return "toqan" }

// ExtractActions creates a conversation with the meeting content, polls for
// the answer until the job finishes or the budget elapses, and maps the
// answer onto the input notes.
func (c *ToqanClient) ExtractActions(ctx context.Context, details extract.MeetingDetails) ([]extract.NoteWithActions, error) {
	prompt, err := buildPrompt(details)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conversationID, requestID, err := c.createConversation(ctx, prompt)
	if err != nil {
		return nil, err
	}

	answer, err := c.pollAnswer(ctx, conversationID, requestID)
	if err != nil {
		return nil, err
	}

	return parseAnswer(details, answer), nil
}

type createConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id"`
}

func (c *ToqanClient) createConversation(ctx context.Context, userMessage string) (conversationID, requestID string, err error) {
	body, err := json.Marshal(map[string]string{"user_message": userMessage})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create_conversation", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("creating conversation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: create_conversation returned status %d", extract.ErrBackendUnavailable, resp.StatusCode)
	}

	var created createConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", "", fmt.Errorf("%w: decoding create_conversation response: %v", extract.ErrBackendMalformed, err)
	}
	if created.ConversationID == "" || created.RequestID == "" {
		return "", "", fmt.Errorf("%w: create_conversation response missing ids", extract.ErrBackendMalformed)
	}
	return created.ConversationID, created.RequestID, nil
}

type answerResponse struct {
	Status string `json:"status"`
	Answer string `json:"answer"`
	Error  string `json:"error"`
}

// pollAnswer polls get_answer until the job reports finished. An in-progress
// status is tolerated indefinitely within the context budget. When get_answer
// itself errors, find_conversation serves as a fallback.
func (c *ToqanClient) pollAnswer(ctx context.Context, conversationID, requestID string) (string, error) {
	params := url.Values{
		"conversation_id": {conversationID},
		"request_id":      {requestID},
	}
	endpoint := c.baseURL + "/get_answer?" + params.Encode()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("creating answer request: %w", err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", c.transportError(ctx, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			// Some deployments don't expose get_answer; fall back to
			// reading the conversation itself.
			return c.findConversationAnswer(ctx, conversationID)
		}

		var answer answerResponse
		err = json.NewDecoder(resp.Body).Decode(&answer)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("%w: decoding answer response: %v", extract.ErrBackendMalformed, err)
		}

		switch answer.Status {
		case "finished":
			return answer.Answer, nil
		case "error":
			msg := answer.Error
			if msg == "" {
				msg = "unknown error"
			}
			return "", fmt.Errorf("%w: %s", extract.ErrBackendUnavailable, msg)
		}

		// "in_progress" or anything unrecognized: wait and poll again.
		select {
		case <-ctx.Done():
			return "", c.transportError(ctx, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

type conversationEntry struct {
	Message string `json:"message"`
}

// findConversationAnswer polls find_conversation until a second entry (the
// model's reply) appears.
func (c *ToqanClient) findConversationAnswer(ctx context.Context, conversationID string) (string, error) {
	body, err := json.Marshal(map[string]string{"conversation_id": conversationID})
	if err != nil {
		return "", err
	}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/find_conversation", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("creating find_conversation request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", c.transportError(ctx, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return "", fmt.Errorf("%w: find_conversation returned status %d", extract.ErrBackendUnavailable, resp.StatusCode)
		}

		var entries []conversationEntry
		err = json.NewDecoder(resp.Body).Decode(&entries)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("%w: decoding find_conversation response: %v", extract.ErrBackendMalformed, err)
		}

		// More than one entry means the reply has arrived.
		if len(entries) > 1 {
			return entries[len(entries)-1].Message, nil
		}

		select {
		case <-ctx.Done():
			return "", c.transportError(ctx, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *ToqanClient) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", extract.ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", extract.ErrBackendUnavailable, err)
}
