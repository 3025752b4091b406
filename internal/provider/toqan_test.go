package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/popouts/backend/internal/extract"
)

const toqanAnswer = `{"notes_with_actions":[{"note_index":0,"action_items":[{"text":"Send the report"}]}]}`

func TestToqanExtractActionsPollsUntilFinished(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create_conversation":
			if r.Header.Get("X-Api-Key") != "tq-test" {
				t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
			}
			json.NewEncoder(w).Encode(map[string]string{
				"conversation_id": "conv-1",
				"request_id":      "req-1",
			})
		case "/get_answer":
			if got := r.URL.Query().Get("conversation_id"); got != "conv-1" {
				t.Errorf("conversation_id = %q", got)
			}
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(map[string]string{"status": "in_progress"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "finished", "answer": toqanAnswer})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewToqanClient(Options{
		ToqanAPIKey:  "tq-test",
		ToqanBaseURL: srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	})
	got, err := client.ExtractActions(context.Background(), sampleDetails("Report is due"))
	if err != nil {
		t.Fatalf("ExtractActions: %v", err)
	}
	if len(got) != 1 || len(got[0].ActionItems) != 1 || got[0].ActionItems[0].Text != "Send the report" {
		t.Errorf("result = %v", got)
	}
	if polls.Load() < 3 {
		t.Errorf("polled %d times, want at least 3", polls.Load())
	}
}

func TestToqanJobErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create_conversation":
			json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-1", "request_id": "req-1"})
		case "/get_answer":
			json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "model overloaded"})
		}
	}))
	defer srv.Close()

	client := NewToqanClient(Options{ToqanAPIKey: "tq-test", ToqanBaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	_, err := client.ExtractActions(context.Background(), sampleDetails("note"))
	if !errors.Is(err, extract.ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestToqanFallsBackToFindConversation(t *testing.T) {
	var finds atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create_conversation":
			json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-1", "request_id": "req-1"})
		case "/get_answer":
			w.WriteHeader(http.StatusNotFound)
		case "/find_conversation":
			if finds.Add(1) < 2 {
				// Only the user message so far.
				json.NewEncoder(w).Encode([]map[string]string{{"message": "prompt"}})
				return
			}
			json.NewEncoder(w).Encode([]map[string]string{
				{"message": "prompt"},
				{"message": toqanAnswer},
			})
		}
	}))
	defer srv.Close()

	client := NewToqanClient(Options{
		ToqanAPIKey:  "tq-test",
		ToqanBaseURL: srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	})
	got, err := client.ExtractActions(context.Background(), sampleDetails("Report is due"))
	if err != nil {
		t.Fatalf("ExtractActions: %v", err)
	}
	if len(got) != 1 || len(got[0].ActionItems) != 1 {
		t.Errorf("result = %v", got)
	}
	if finds.Load() < 2 {
		t.Errorf("find_conversation called %d times, want at least 2", finds.Load())
	}
}

func TestToqanBudgetExhaustedIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create_conversation":
			json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-1", "request_id": "req-1"})
		case "/get_answer":
			json.NewEncoder(w).Encode(map[string]string{"status": "in_progress"})
		}
	}))
	defer srv.Close()

	client := NewToqanClient(Options{
		ToqanAPIKey:  "tq-test",
		ToqanBaseURL: srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
	})
	_, err := client.ExtractActions(context.Background(), sampleDetails("note"))
	if !errors.Is(err, extract.ErrBackendTimeout) {
		t.Errorf("err = %v, want ErrBackendTimeout", err)
	}
}

func TestToqanCreateFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewToqanClient(Options{ToqanAPIKey: "tq-test", ToqanBaseURL: srv.URL})
	_, err := client.ExtractActions(context.Background(), sampleDetails("note"))
	if !errors.Is(err, extract.ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}
