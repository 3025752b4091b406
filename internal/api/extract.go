package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/popouts/backend/internal/extract"
	"github.com/popouts/backend/internal/metrics"
)

const maxExtractBodySize = 5 << 20 // 5MB

func handleExtractActions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxExtractBodySize)
		defer r.Body.Close()

		var req extract.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.MeetingDetails.MeetingInstance.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "meeting_details.meeting_instance.id is required")
			return
		}

		metrics.ExtractionRequestsTotal.Inc()
		start := time.Now()
		result, err := deps.Coordinator.Extract(r.Context(), req)
		metrics.ExtractionDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.ExtractionFailuresTotal.Inc()
			code, errType := extractionErrorStatus(err)
			httpError(w, code, errType, "failed to extract actions: %v", err)
			return
		}
		if result.Cached {
			metrics.ExtractionCacheHitsTotal.Inc()
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func extractionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, extract.ErrBackendTimeout), errors.Is(err, extract.ErrDedupTimeout):
		return http.StatusGatewayTimeout, "timeout_error"
	case errors.Is(err, extract.ErrBackendUnavailable), errors.Is(err, extract.ErrBackendMalformed):
		return http.StatusBadGateway, "api_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}
