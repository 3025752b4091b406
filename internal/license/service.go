// Package license implements license activation and installation validation:
// a license key is bound to an owner email and at most MaxInstallations
// device installations, with the oldest installation evicted when a new
// device activates at capacity.
package license

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/popouts/backend/internal/storage"
)

// MaxInstallations is the per-owner cap on concurrently active installations.
const MaxInstallations = 2

// Failure reason codes returned in ActivationResult and ValidationResult.
const (
	ReasonInvalidLicense       = "invalid_license"
	ReasonEmailMismatch        = "email_mismatch"
	ReasonLicenseExpired       = "license_expired"
	ReasonInstallationNotFound = "installation_not_found"
	ReasonNoActiveLicense      = "no_active_license"
	ReasonServerError          = "server_error"
)

// Store is the persistence surface the license service needs.
type Store interface {
	GetLicenseByKey(key string) (storage.License, error)
	GetLicenseByEmail(email string) (storage.License, error)
	ListInstallationsOldestFirst(email string) ([]storage.Installation, error)
	InsertInstallation(email, installationID string, now time.Time) error
	ReplaceInstallationSlot(rowID int64, newInstallationID string, now time.Time) error
	TouchLastSeen(email, installationID string, now time.Time) error
}

// ActivationResult is the outcome of an activation attempt. Valid=false
// results carry a machine-readable Reason; Valid=true results carry the
// license expiry and the number of live installations.
type ActivationResult struct {
	Valid       bool      `json:"valid"`
	Expiry      time.Time `json:"expiry,omitzero"`
	ActiveCount int       `json:"active_count,omitempty"`
	Replaced    string    `json:"replaced,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Message     string    `json:"message"`
}

// ValidationResult is the outcome of an installation validation check.
type ValidationResult struct {
	Valid   bool      `json:"valid"`
	Expiry  time.Time `json:"expiry,omitzero"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message"`
}

// Service validates license keys and manages installation slots.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewService creates a Service backed by the given store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		owners: make(map[string]*sync.Mutex),
	}
}

// ownerLock returns the mutex serializing slot mutations for one owner.
// Two concurrent activations for the same owner must not both observe a free
// slot and both insert.
func (s *Service) ownerLock(email string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.owners[email]
	if !ok {
		l = &sync.Mutex{}
		s.owners[email] = l
	}
	return l
}

// Activate validates the license key against the owner and expiry, then
// claims an installation slot. Checks run in order and short-circuit: key
// lookup, email match, expiry, slot logic. Failure branches perform no
// mutations.
func (s *Service) Activate(email, installationID, licenseKey string) ActivationResult {
	email = strings.ToLower(email)

	lic, err := s.store.GetLicenseByKey(licenseKey)
	if err == storage.ErrNotFound {
		s.logger.Warn("activation failed: license key not found or inactive", "email", email)
		return ActivationResult{
			Reason:  ReasonInvalidLicense,
			Message: "License key not found or inactive",
		}
	}
	if err != nil {
		return s.serverError("looking up license", err)
	}

	if lic.Email != email {
		s.logger.Warn("activation failed: email mismatch", "license_email", lic.Email, "request_email", email)
		return ActivationResult{
			Reason:  ReasonEmailMismatch,
			Message: "Email does not match license key",
		}
	}

	if lic.ExpiryDate.Before(s.now()) {
		s.logger.Warn("activation failed: license expired", "email", email, "expiry", lic.ExpiryDate)
		return ActivationResult{
			Reason:  ReasonLicenseExpired,
			Message: fmt.Sprintf("License expired on %s", lic.ExpiryDate.Format(time.RFC3339)),
		}
	}

	slot, err := s.activateSlot(email, installationID)
	if err != nil {
		return s.serverError("activating installation slot", err)
	}

	res := ActivationResult{
		Valid:       true,
		Expiry:      lic.ExpiryDate,
		ActiveCount: slot.ActiveCount,
		Replaced:    slot.ReplacedID,
	}
	switch {
	case slot.Reinstall:
		res.Message = "License activated (reinstall detected)"
	case slot.ReplacedID != "":
		res.Message = "License activated (replaced oldest installation)"
	default:
		res.Message = "License activated successfully"
	}
	s.logger.Info("license activated", "email", email, "active_count", slot.ActiveCount, "replaced", slot.ReplacedID)
	return res
}

// ValidateInstallation checks that an installation is still registered and
// that its owner holds an unexpired active license. The installation's
// last_seen is refreshed as a side effect. Validation never re-creates a
// missing installation; an evicted device must activate again.
func (s *Service) ValidateInstallation(email, installationID string) ValidationResult {
	email = strings.ToLower(email)

	err := s.store.TouchLastSeen(email, installationID, s.now())
	if err == storage.ErrNotFound {
		return ValidationResult{
			Reason:  ReasonInstallationNotFound,
			Message: "Installation not found or deactivated",
		}
	}
	if err != nil {
		return ValidationResult{
			Reason:  ReasonServerError,
			Message: fmt.Sprintf("updating installation: %v", err),
		}
	}

	lic, err := s.store.GetLicenseByEmail(email)
	if err == storage.ErrNotFound {
		return ValidationResult{
			Reason:  ReasonNoActiveLicense,
			Message: "No active license found",
		}
	}
	if err != nil {
		return ValidationResult{
			Reason:  ReasonServerError,
			Message: fmt.Sprintf("looking up license: %v", err),
		}
	}

	if lic.ExpiryDate.Before(s.now()) {
		return ValidationResult{
			Expiry:  lic.ExpiryDate,
			Reason:  ReasonLicenseExpired,
			Message: fmt.Sprintf("License expired on %s", lic.ExpiryDate.Format(time.RFC3339)),
		}
	}

	return ValidationResult{
		Valid:   true,
		Expiry:  lic.ExpiryDate,
		Message: "Installation validated",
	}
}

func (s *Service) serverError(action string, err error) ActivationResult {
	s.logger.Error("activation failed: "+action, "error", err)
	return ActivationResult{
		Reason:  ReasonServerError,
		Message: fmt.Sprintf("%s: %v", action, err),
	}
}
