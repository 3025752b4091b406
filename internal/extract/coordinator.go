// Package extract deduplicates and memoizes LLM action-item extraction.
// Identical meeting content (by canonical hash) triggers at most one backend
// call; concurrent duplicates wait for the in-flight winner's result.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/popouts/backend/internal/storage"
)

// ErrDedupTimeout is returned when an in-flight duplicate does not reach a
// terminal state within the poll window.
var ErrDedupTimeout = errors.New("timed out waiting for in-flight extraction")

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 120 * time.Second
)

// Store is the persistence surface the coordinator needs.
type Store interface {
	GetExtractItemByHash(hash string) (storage.ExtractItem, error)
	CreateExtractItem(correlationID, licenseKey, installationID, inputJSON, inputHash string) (storage.ExtractItem, bool, error)
	CompleteExtractItem(correlationID, outputJSON string, httpCode int, durationMS int64) error
	FailExtractItem(correlationID, errMsg string, httpCode int, durationMS int64) error
}

// Backend performs the actual extraction. Implemented by the provider package.
type Backend interface {
	ExtractActions(ctx context.Context, details MeetingDetails) ([]NoteWithActions, error)
	Name() string
}

// Request carries the extraction payload plus the requester context recorded
// on the extract item.
type Request struct {
	MeetingDetails MeetingDetails `json:"meeting_details"`
	LicenseKey     string         `json:"license_key,omitempty"`
	InstallationID string         `json:"installation_id,omitempty"`
}

// Coordinator runs the dedup protocol in front of a Backend.
type Coordinator struct {
	store   Store
	backend Backend
	logger  *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewCoordinator creates a Coordinator. Non-positive intervals fall back to
// the defaults (2s poll, 120s window).
func NewCoordinator(store Store, backend Backend, pollInterval, pollTimeout time.Duration) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Coordinator{
		store:        store,
		backend:      backend,
		logger:       slog.Default(),
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// Extract returns action items for the request, reusing a completed prior
// result for identical content, waiting on an in-flight duplicate, or
// performing a new backend call when this request is the first occurrence.
// Exactly one caller per unique input reaches the backend.
func (c *Coordinator) Extract(ctx context.Context, req Request) (Result, error) {
	hash, canonical, err := InputHash(req.MeetingDetails)
	if err != nil {
		return Result{}, err
	}

	item, err := c.store.GetExtractItemByHash(hash)
	switch {
	case err == storage.ErrNotFound:
		// First occurrence; fall through to create.
	case err != nil:
		return Result{}, fmt.Errorf("looking up extraction by hash: %w", err)
	default:
		switch item.Status {
		case storage.ExtractCompleted:
			c.logger.Info("extraction cache hit", "hash", hash, "correlation_id", item.CorrelationID)
			return c.cachedResult(item)
		case storage.ExtractPending:
			c.logger.Info("duplicate extraction in flight, waiting", "hash", hash, "correlation_id", item.CorrelationID)
			return c.waitForResult(ctx, hash)
		case storage.ExtractFailed:
			// Failures are not memoized: retry under the existing row's
			// correlation id so the unique hash is preserved.
			c.logger.Info("retrying previously failed extraction", "hash", hash, "correlation_id", item.CorrelationID)
			return c.runExtraction(ctx, req.MeetingDetails, item.CorrelationID)
		}
	}

	correlationID := uuid.New().String()
	created, wasNew, err := c.store.CreateExtractItem(correlationID, req.LicenseKey, req.InstallationID, string(canonical), hash)
	if err != nil {
		return Result{}, fmt.Errorf("creating extraction record: %w", err)
	}
	if !wasNew {
		// A concurrent request created the record first. Use the row the
		// conflict returned rather than looking the hash up again.
		switch created.Status {
		case storage.ExtractCompleted:
			return c.cachedResult(created)
		case storage.ExtractFailed:
			return c.runExtraction(ctx, req.MeetingDetails, created.CorrelationID)
		default:
			return c.waitForResult(ctx, hash)
		}
	}

	return c.runExtraction(ctx, req.MeetingDetails, correlationID)
}

// cachedResult deserializes a completed item's stored output.
func (c *Coordinator) cachedResult(item storage.ExtractItem) (Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(item.OutputJSON), &res); err != nil {
		return Result{}, fmt.Errorf("decoding cached extraction output: %w", err)
	}
	res.Cached = true
	return res, nil
}

// waitForResult polls the record for the given hash until the in-flight
// writer finishes or the window elapses.
func (c *Coordinator) waitForResult(ctx context.Context, hash string) (Result, error) {
	deadline := time.Now().Add(c.pollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		item, err := c.store.GetExtractItemByHash(hash)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("polling extraction record: %w", err)
		}
		switch item.Status {
		case storage.ExtractCompleted:
			return c.cachedResult(item)
		case storage.ExtractFailed:
			return Result{}, fmt.Errorf("%w: in-flight attempt failed: %s", ErrDedupTimeout, item.ErrorMessage)
		}
	}
	return Result{}, ErrDedupTimeout
}

// runExtraction is the winner path: call the backend, then record the
// outcome. The bookkeeping update is best-effort; the caller's response
// depends only on the backend call itself.
func (c *Coordinator) runExtraction(ctx context.Context, details MeetingDetails, correlationID string) (Result, error) {
	start := time.Now()
	notes, err := c.backend.ExtractActions(ctx, details)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		code := statusForBackendError(err)
		if updateErr := c.store.FailExtractItem(correlationID, err.Error(), code, duration); updateErr != nil {
			c.logger.Warn("recording failed extraction", "correlation_id", correlationID, "error", updateErr)
		}
		c.logger.Error("extraction failed", "correlation_id", correlationID, "provider", c.backend.Name(), "duration_ms", duration, "error", err)
		return Result{}, err
	}

	res := Result{
		SeriesID:         details.MeetingSeries.ID,
		MeetingID:        details.MeetingInstance.ID,
		NotesWithActions: notes,
	}
	output, err := json.Marshal(res)
	if err != nil {
		if updateErr := c.store.FailExtractItem(correlationID, err.Error(), http.StatusInternalServerError, duration); updateErr != nil {
			c.logger.Warn("recording failed extraction", "correlation_id", correlationID, "error", updateErr)
		}
		return Result{}, fmt.Errorf("encoding extraction output: %w", err)
	}

	if updateErr := c.store.CompleteExtractItem(correlationID, string(output), http.StatusOK, duration); updateErr != nil {
		c.logger.Warn("recording completed extraction", "correlation_id", correlationID, "error", updateErr)
	}
	c.logger.Info("extraction completed", "correlation_id", correlationID, "provider", c.backend.Name(), "notes", len(notes), "duration_ms", duration)
	return res, nil
}

func statusForBackendError(err error) int {
	switch {
	case errors.Is(err, ErrBackendTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrBackendMalformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
