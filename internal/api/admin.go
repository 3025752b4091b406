package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/popouts/backend/internal/license"
	"github.com/popouts/backend/internal/storage"
)

// licenseJSON is the admin wire form of a license row. Days is derived from
// the creation and expiry dates.
type licenseJSON struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	LicenseKey string `json:"license_key"`
	ExpiryDate string `json:"expiry_date"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	Days       int    `json:"days"`
}

func toLicenseJSON(l storage.License) licenseJSON {
	return licenseJSON{
		ID:         l.ID,
		Email:      l.Email,
		LicenseKey: l.LicenseKey,
		ExpiryDate: l.ExpiryDate.Format(time.RFC3339),
		Status:     l.Status,
		CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		Days:       int(l.ExpiryDate.Sub(l.CreatedAt).Hours() / 24),
	}
}

func handleListLicenses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		licenses, err := deps.Store.ListLicenses()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list licenses: %v", err)
			return
		}

		out := make([]licenseJSON, len(licenses))
		for i, l := range licenses {
			out[i] = toLicenseJSON(l)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"licenses": out,
			"count":    len(out),
		})
	}
}

type createLicenseRequest struct {
	Email      string `json:"email"`
	LicenseKey string `json:"license_key"`
	ExpiryDate string `json:"expiry_date"`
	Status     string `json:"status"`
}

func handleCreateLicense(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createLicenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Email == "" || req.LicenseKey == "" || req.ExpiryDate == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email, license_key and expiry_date are required")
			return
		}
		expiry, err := time.Parse(time.RFC3339, req.ExpiryDate)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid expiry_date: %v", err)
			return
		}

		lic, err := deps.Store.CreateLicense(req.Email, req.LicenseKey, expiry, req.Status)
		if err != nil {
			httpError(w, http.StatusBadRequest, "api_error", "failed to create license: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"license": toLicenseJSON(lic),
		})
	}
}

type createLicenseWithDaysRequest struct {
	Email string `json:"email"`
	Days  int    `json:"days"`
}

// handleCreateLicenseWithDays generates the key server-side from the email
// and requested validity window.
func handleCreateLicenseWithDays(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createLicenseWithDaysRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Email == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email is required")
			return
		}
		if req.Days <= 0 {
			req.Days = 365
		}
		if req.Days > 3650 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "days must be at most 3650")
			return
		}

		key, expiry := license.GenerateKey(req.Email, req.Days)
		lic, err := deps.Store.CreateLicense(req.Email, key, expiry, storage.LicenseActive)
		if err != nil {
			httpError(w, http.StatusBadRequest, "api_error", "failed to create license: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"email":       lic.Email,
			"license_key": lic.LicenseKey,
			"expiry":      lic.ExpiryDate.Format(time.RFC3339),
		})
	}
}

type updateLicenseRequest struct {
	Email      *string `json:"email"`
	LicenseKey *string `json:"license_key"`
	ExpiryDate *string `json:"expiry_date"`
}

func handleUpdateLicense(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid license id")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req updateLicenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		lic, err := deps.Store.GetLicenseByID(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "license not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get license: %v", err)
			return
		}

		// Absent fields keep their current value.
		if req.Email != nil {
			lic.Email = *req.Email
		}
		if req.LicenseKey != nil {
			lic.LicenseKey = *req.LicenseKey
		}
		if req.ExpiryDate != nil {
			expiry, err := time.Parse(time.RFC3339, *req.ExpiryDate)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid expiry_date: %v", err)
				return
			}
			lic.ExpiryDate = expiry
		}

		err = deps.Store.UpdateLicense(id, lic.Email, lic.LicenseKey, lic.ExpiryDate)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "license not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "api_error", "failed to update license: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func handleDeleteLicense(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid license id")
			return
		}

		err = deps.Store.DeleteLicense(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "license not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete license: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

type installationJSON struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	InstallationID string `json:"installation_id"`
	ActivatedAt    string `json:"activated_at"`
	LastSeen       string `json:"last_seen,omitempty"`
}

func handleListInstallations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		if email == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email is required")
			return
		}

		installations, err := deps.Store.ListInstallations(email)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list installations: %v", err)
			return
		}

		out := make([]installationJSON, len(installations))
		for i, inst := range installations {
			out[i] = installationJSON{
				ID:             inst.ID,
				Email:          inst.Email,
				InstallationID: inst.InstallationID,
				ActivatedAt:    inst.ActivatedAt.Format(time.RFC3339),
			}
			if !inst.LastSeen.IsZero() {
				out[i].LastSeen = inst.LastSeen.Format(time.RFC3339)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"email":         email,
			"installations": out,
			"count":         len(out),
		})
	}
}

type apiRequestJSON struct {
	ID             int64  `json:"id"`
	Timestamp      string `json:"timestamp"`
	Service        string `json:"service"`
	Endpoint       string `json:"endpoint"`
	Method         string `json:"method"`
	UserIdentifier string `json:"user_identifier,omitempty"`
	RequestBody    string `json:"request_body,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	StatusCode     int    `json:"status_code"`
	DurationMS     int64  `json:"duration_ms"`
}

func handleListAPIRequests(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)
		service := r.URL.Query().Get("service")

		requests, total, err := deps.Store.ListAPIRequests(limit, offset, service)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list requests: %v", err)
			return
		}

		out := make([]apiRequestJSON, len(requests))
		for i, req := range requests {
			out[i] = apiRequestJSON{
				ID:             req.ID,
				Timestamp:      req.Timestamp.Format(time.RFC3339),
				Service:        req.Service,
				Endpoint:       req.Endpoint,
				Method:         req.Method,
				UserIdentifier: req.UserIdentifier,
				RequestBody:    req.RequestBody,
				ResponseBody:   req.ResponseBody,
				StatusCode:     req.StatusCode,
				DurationMS:     req.DurationMS,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"requests": out,
			"count":    len(out),
			"total":    total,
		})
	}
}

type extractItemJSON struct {
	ID             int64  `json:"id"`
	CorrelationID  string `json:"correlation_id"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	LicenseKey     string `json:"license_key,omitempty"`
	InstallationID string `json:"installation_id,omitempty"`
	InputJSON      string `json:"input_json,omitempty"`
	OutputJSON     string `json:"output_json,omitempty"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"error_message,omitempty"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	DurationMS     int64  `json:"duration_ms,omitempty"`
}

func handleListExtractItems(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		offset := parseIntParam(r, "offset", 0, 0)
		status := r.URL.Query().Get("status")
		search := r.URL.Query().Get("search")

		items, total, err := deps.Store.ListExtractItems(limit, offset, status, search)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list extract items: %v", err)
			return
		}

		out := make([]extractItemJSON, len(items))
		for i, item := range items {
			out[i] = extractItemJSON{
				ID:             item.ID,
				CorrelationID:  item.CorrelationID,
				CreatedAt:      item.CreatedAt.Format(time.RFC3339),
				UpdatedAt:      item.UpdatedAt.Format(time.RFC3339),
				LicenseKey:     item.LicenseKey,
				InstallationID: item.InstallationID,
				InputJSON:      item.InputJSON,
				OutputJSON:     item.OutputJSON,
				Status:         item.Status,
				ErrorMessage:   item.ErrorMessage,
				HTTPStatusCode: item.HTTPStatusCode,
				DurationMS:     item.DurationMS,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": out,
			"count": len(out),
			"total": total,
		})
	}
}
