package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert would violate a uniqueness constraint.
var ErrConflict = errors.New("already exists")

// License statuses.
const (
	LicenseActive  = "active"
	LicenseRevoked = "revoked"
)

// Extract item statuses.
const (
	ExtractPending   = "pending"
	ExtractCompleted = "completed"
	ExtractFailed    = "failed"
)

type License struct {
	ID         int64
	Email      string // stored lowercased
	LicenseKey string
	ExpiryDate time.Time
	Status     string // "active" or "revoked"
	CreatedAt  time.Time
}

type Installation struct {
	ID             int64
	Email          string
	InstallationID string
	ActivatedAt    time.Time
	LastSeen       time.Time // zero when never recorded
}

// ExtractItem tracks one extract-actions request lifecycle, keyed by
// correlation ID, with a unique input hash used for deduplication.
type ExtractItem struct {
	ID             int64
	CorrelationID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LicenseKey     string
	InstallationID string
	InputJSON      string
	InputHash      string // empty stored as NULL; unique among non-NULL values
	OutputJSON     string
	Status         string // "pending", "completed", "failed"
	ErrorMessage   string
	HTTPStatusCode int
	DurationMS     int64
}

// APIRequest is one append-only audit log entry.
type APIRequest struct {
	ID             int64
	Timestamp      time.Time
	Service        string
	Endpoint       string
	Method         string
	UserIdentifier string
	RequestBody    string
	ResponseBody   string
	StatusCode     int
	DurationMS     int64
}
