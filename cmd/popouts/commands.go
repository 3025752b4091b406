package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/popouts/backend/internal/config"
	"github.com/popouts/backend/internal/license"
	"github.com/popouts/backend/internal/storage"
)

// --- license ---

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Manage licenses",
}

var licenseCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a license with a generated key",
	Long: `Create a license with a generated key.

Examples:
  popouts license create --email alice@example.com
  popouts license create --email alice@example.com --days 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		days, _ := cmd.Flags().GetInt("days")
		if email == "" {
			return fmt.Errorf("--email is required")
		}
		if days <= 0 || days > 3650 {
			return fmt.Errorf("--days must be between 1 and 3650")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		key, expiry := license.GenerateKey(email, days)
		lic, err := store.CreateLicense(email, key, expiry, storage.LicenseActive)
		if err != nil {
			return fmt.Errorf("creating license: %w", err)
		}

		printSuccess("Created license for %s", lic.Email)
		printStatus("Key", "%s", lic.LicenseKey)
		printStatus("Expires", "%s", lic.ExpiryDate.Format("2006-01-02"))
		return nil
	},
}

var licenseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all licenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		licenses, err := store.ListLicenses()
		if err != nil {
			return fmt.Errorf("listing licenses: %w", err)
		}
		if len(licenses) == 0 {
			printWarning("no licenses found")
			return nil
		}

		for _, lic := range licenses {
			expired := ""
			if lic.ExpiryDate.Before(time.Now()) {
				expired = " (expired)"
			}
			printStatus(lic.Email, "%s  %s  expires %s%s",
				lic.LicenseKey, lic.Status, lic.ExpiryDate.Format("2006-01-02"), expired)
		}
		return nil
	},
}

func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func init() {
	licenseCreateCmd.Flags().String("email", "", "owner email address")
	licenseCreateCmd.Flags().Int("days", 365, "validity in days")
	licenseCmd.AddCommand(licenseCreateCmd)
	licenseCmd.AddCommand(licenseListCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)

		resp, err := client.Get(healthURL)
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			var health map[string]string
			json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				printStatus("Server", "running on port %d (version %s)", cfg.Server.Port, health["version"])
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		printStatus("Provider", "%s", cfg.LLM.Provider)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}
