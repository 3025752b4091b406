package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/popouts/backend/internal/metrics"
	"github.com/popouts/backend/internal/storage"
)

// auditBodyLimit caps how much of each body is captured for the audit log.
const auditBodyLimit = 2000

// RequestLogger records every request passing through it to the api_requests
// audit log. The write happens in a detached goroutine after the response is
// sent; a failed write is logged and never affects the response.
func RequestLogger(store *storage.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var reqBody []byte
			if r.Body != nil {
				captured, err := io.ReadAll(r.Body)
				r.Body.Close()
				if err == nil {
					reqBody = captured
					r.Body = io.NopCloser(bytes.NewReader(captured))
				}
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())

			entry := storage.APIRequest{
				Timestamp:      start.UTC(),
				Service:        serviceName,
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				UserIdentifier: userIdentifier(r, reqBody),
				RequestBody:    string(clip(reqBody, auditBodyLimit)),
				ResponseBody:   string(clip(rec.body.Bytes(), auditBodyLimit)),
				StatusCode:     rec.status,
				DurationMS:     time.Since(start).Milliseconds(),
			}
			go func() {
				if _, err := store.InsertAPIRequest(entry); err != nil {
					slog.Warn("writing request audit log", "endpoint", entry.Endpoint, "error", err)
				}
			}()
		})
	}
}

// responseRecorder captures the status code and a bounded copy of the body.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.body.Len() < auditBodyLimit {
		r.body.Write(clip(b, auditBodyLimit-r.body.Len()))
	}
	return r.ResponseWriter.Write(b)
}

func clip(b []byte, limit int) []byte {
	if len(b) > limit {
		return b[:limit]
	}
	return b
}

// userIdentifier pulls the requester's email from the query string or the
// JSON body when present.
func userIdentifier(r *http.Request, body []byte) string {
	if email := r.URL.Query().Get("email"); email != "" {
		return email
	}
	if len(body) == 0 {
		return ""
	}
	var probe struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Email
}
