package main

import (
	"strings"
	"testing"

	"github.com/popouts/backend/internal/storage"
)

func setTestEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("POPOUTS_STORAGE_DATA_DIR", dataDir)
	t.Setenv("POPOUTS_TOQAN_API_KEY", "tq-test")
	t.Setenv("POPOUTS_ADMIN_TOKEN", "admin-test")
	return dataDir
}

func TestLicenseCreateCommand(t *testing.T) {
	dataDir := setTestEnv(t)

	rootCmd.SetArgs([]string{"license", "create", "--email", "alice@example.com", "--days", "30"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	store, err := storage.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	lic, err := store.GetLicenseByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("license not created: %v", err)
	}
	if !strings.HasPrefix(lic.LicenseKey, "alice-example-com-") {
		t.Errorf("license_key = %q", lic.LicenseKey)
	}
}

func TestLicenseCreateRequiresEmail(t *testing.T) {
	setTestEnv(t)

	// Flag values persist across Execute calls in-process.
	licenseCreateCmd.Flags().Set("email", "")

	rootCmd.SetArgs([]string{"license", "create"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("create without --email should fail")
	}
	rootCmd.SetArgs(nil)
}
