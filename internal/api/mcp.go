package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/popouts/backend/internal/license"
	"github.com/popouts/backend/internal/storage"
)

// MCPDeps holds dependencies for the MCP admin server.
type MCPDeps struct {
	Store   *storage.Store
	Version string
}

// NewMCPServer creates an MCP server exposing the admin lookups as tools, so
// license support can happen from an MCP-capable client without curl.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"popouts",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("License administration and extraction inspection for the Popouts backend."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("license_status",
			mcp.WithDescription("Look up a user's licenses and active installations by email."),
			mcp.WithString("email", mcp.Description("Owner email address"), mcp.Required()),
		),
		mcpLicenseStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("create_license",
			mcp.WithDescription("Create a license for an email with a generated key."),
			mcp.WithString("email", mcp.Description("Owner email address"), mcp.Required()),
			mcp.WithNumber("days", mcp.Description("Validity in days (default 365)")),
		),
		mcpCreateLicense(deps),
	)

	s.AddTool(
		mcp.NewTool("list_extractions",
			mcp.WithDescription("List recent extract-actions requests, optionally filtered by status."),
			mcp.WithString("status", mcp.Description("Filter: pending, completed, or failed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListExtractions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"popouts://licenses",
			"Licenses",
			mcp.WithResourceDescription("All licenses, most recently created first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLicenses(deps),
	)

	return s
}

func mcpLicenseStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		email, err := req.RequireString("email")
		if err != nil {
			return mcpError("email is required"), nil
		}

		lic, err := deps.Store.GetLicenseByEmail(email)
		if err == storage.ErrNotFound {
			return mcpText(fmt.Sprintf("No active license for %s", email)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("license lookup failed: %v", err)), nil
		}

		installations, err := deps.Store.ListInstallations(email)
		if err != nil {
			return mcpError(fmt.Sprintf("installation lookup failed: %v", err)), nil
		}

		type installationStatus struct {
			InstallationID string `json:"installation_id"`
			ActivatedAt    string `json:"activated_at"`
			LastSeen       string `json:"last_seen,omitempty"`
		}
		status := struct {
			Email         string               `json:"email"`
			LicenseKey    string               `json:"license_key"`
			Expiry        string               `json:"expiry"`
			Expired       bool                 `json:"expired"`
			Installations []installationStatus `json:"installations"`
		}{
			Email:      lic.Email,
			LicenseKey: lic.LicenseKey,
			Expiry:     lic.ExpiryDate.Format(time.RFC3339),
			Expired:    lic.ExpiryDate.Before(time.Now()),
		}
		for _, inst := range installations {
			is := installationStatus{
				InstallationID: inst.InstallationID,
				ActivatedAt:    inst.ActivatedAt.Format(time.RFC3339),
			}
			if !inst.LastSeen.IsZero() {
				is.LastSeen = inst.LastSeen.Format(time.RFC3339)
			}
			status.Installations = append(status.Installations, is)
		}

		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCreateLicense(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		email, err := req.RequireString("email")
		if err != nil {
			return mcpError("email is required"), nil
		}
		days := req.GetInt("days", 365)
		if days <= 0 {
			days = 365
		}
		if days > 3650 {
			return mcpError("days must be at most 3650"), nil
		}

		key, expiry := license.GenerateKey(email, days)
		lic, err := deps.Store.CreateLicense(email, key, expiry, storage.LicenseActive)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create license: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Created license %s for %s, expires %s",
			lic.LicenseKey, lic.Email, lic.ExpiryDate.Format("2006-01-02"))), nil
	}
}

func mcpListExtractions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "")
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		items, total, err := deps.Store.ListExtractItems(limit, 0, status, "")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list extractions: %v", err)), nil
		}

		type extractionSummary struct {
			CorrelationID string `json:"correlation_id"`
			CreatedAt     string `json:"created_at"`
			Status        string `json:"status"`
			HTTPCode      int    `json:"http_code,omitempty"`
			DurationMS    int64  `json:"duration_ms,omitempty"`
			Error         string `json:"error,omitempty"`
		}
		summaries := make([]extractionSummary, len(items))
		for i, item := range items {
			summaries[i] = extractionSummary{
				CorrelationID: item.CorrelationID,
				CreatedAt:     item.CreatedAt.Format(time.RFC3339),
				Status:        item.Status,
				HTTPCode:      item.HTTPStatusCode,
				DurationMS:    item.DurationMS,
				Error:         item.ErrorMessage,
			}
		}

		b, err := json.Marshal(map[string]any{"items": summaries, "total": total})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal extractions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceLicenses(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		licenses, err := deps.Store.ListLicenses()
		if err != nil {
			return nil, fmt.Errorf("failed to list licenses: %w", err)
		}

		out := make([]licenseJSON, len(licenses))
		for i, l := range licenses {
			out[i] = toLicenseJSON(l)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal licenses: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
