package api

import (
	"encoding/json"
	"net/http"

	"github.com/popouts/backend/internal/license"
	"github.com/popouts/backend/internal/metrics"
)

type activateRequest struct {
	Email          string `json:"email"`
	InstallationID string `json:"installation_id"`
	LicenseKey     string `json:"license_key"`
}

type validateRequest struct {
	Email          string `json:"email"`
	InstallationID string `json:"installation_id"`
}

func handleActivate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req activateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Email == "" || req.InstallationID == "" || req.LicenseKey == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email, installation_id and license_key are required")
			return
		}

		result := deps.Licenses.Activate(req.Email, req.InstallationID, req.LicenseKey)
		metrics.ActivationsTotal.WithLabelValues(activationOutcome(result.Valid, result.Reason)).Inc()
		if result.Replaced != "" {
			metrics.InstallationsReplacedTotal.Inc()
		}

		writeJSON(w, activationStatus(result), result)
	}
}

func handleValidatePost(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		validate(deps, w, req.Email, req.InstallationID)
	}
}

// handleValidateGet serves the query-parameter variant used by older
// extension builds.
func handleValidateGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		validate(deps, w, r.URL.Query().Get("email"), r.URL.Query().Get("installation_id"))
	}
}

func validate(deps Deps, w http.ResponseWriter, email, installationID string) {
	if email == "" || installationID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "email and installation_id are required")
		return
	}

	result := deps.Licenses.ValidateInstallation(email, installationID)
	metrics.ValidationsTotal.WithLabelValues(activationOutcome(result.Valid, result.Reason)).Inc()

	code := http.StatusOK
	switch {
	case result.Reason == license.ReasonServerError:
		code = http.StatusInternalServerError
	case !result.Valid:
		code = http.StatusForbidden
	}
	writeJSON(w, code, result)
}

func activationStatus(result license.ActivationResult) int {
	switch {
	case result.Valid:
		return http.StatusOK
	case result.Reason == license.ReasonServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func activationOutcome(valid bool, reason string) string {
	if valid {
		return "ok"
	}
	return reason
}
