// Package api implements the HTTP surface: license activation and
// validation, action-item extraction, and the bearer-protected admin
// endpoints, plus the MCP tool server for admin access over stdio.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/popouts/backend/internal/extract"
	"github.com/popouts/backend/internal/license"
	"github.com/popouts/backend/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const serviceName = "popouts"

// Deps holds the wiring for the HTTP handler.
type Deps struct {
	Store       *storage.Store
	Licenses    *license.Service
	Coordinator *extract.Coordinator
	AdminToken  string
	Version     string
}

// NewHandler assembles the full router: public license and extraction
// endpoints, the /api/v1/db admin surface behind bearer auth, health, and
// Prometheus metrics. All /api/v1 traffic is audited to the request log.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps.Version))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequestLogger(deps.Store))

		r.Post("/license/activate", handleActivate(deps))
		r.Post("/license/validate", handleValidatePost(deps))
		r.Get("/license/validate", handleValidateGet(deps))
		r.Post("/extract-actions", handleExtractActions(deps))

		r.Route("/db", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))

			r.Get("/license/list", handleListLicenses(deps))
			r.Post("/license", handleCreateLicense(deps))
			r.Post("/license/create", handleCreateLicenseWithDays(deps))
			r.Patch("/license/{id}", handleUpdateLicense(deps))
			r.Delete("/license/{id}", handleDeleteLicense(deps))
			r.Get("/installations", handleListInstallations(deps))
			r.Get("/requests", handleListAPIRequests(deps))
			r.Get("/extract-action-items", handleListExtractItems(deps))
		})
	})

	return r
}

func handleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": serviceName,
			"version": version,
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
