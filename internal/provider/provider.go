// Package provider implements the LLM backends that perform action-item
// extraction. Two interchangeable variants exist: an OpenAI-style
// request/response client and a Toqan-style create-job-then-poll client.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/popouts/backend/internal/extract"
)

// Provider extracts action items from meeting content.
type Provider interface {
	// ExtractActions returns one entry per input note, in input order.
	// Notes without actions appear with an empty action list.
	ExtractActions(ctx context.Context, details extract.MeetingDetails) ([]extract.NoteWithActions, error)

	// Name identifies the provider in logs and status output.
	Name() string
}

// Options configures provider construction.
type Options struct {
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string // defaults to the public API

	ToqanAPIKey  string
	ToqanBaseURL string // defaults to the public API

	PollInterval time.Duration // Toqan answer polling; defaults to 2s
	Timeout      time.Duration // per-extraction budget; defaults to 120s
}

// New selects a provider by name ("openai" or "toqan").
func New(name string, opts Options) (Provider, error) {
	switch name {
	case "openai":
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured")
		}
		return NewOpenAIClient(opts), nil
	case "toqan":
		if opts.ToqanAPIKey == "" {
			return nil, fmt.Errorf("toqan provider selected but no API key configured")
		}
		return NewToqanClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}
