package license

import (
	"strings"
	"testing"
	"time"

	"github.com/popouts/backend/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewService(store), store
}

func createActiveLicense(t *testing.T, store *storage.Store, email, key string) storage.License {
	t.Helper()
	lic, err := store.CreateLicense(email, key, time.Now().UTC().AddDate(1, 0, 0).Truncate(time.Second), storage.LicenseActive)
	if err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
	return lic
}

func countInstallations(t *testing.T, store *storage.Store, email string) int {
	t.Helper()
	insts, err := store.ListInstallations(email)
	if err != nil {
		t.Fatalf("ListInstallations: %v", err)
	}
	return len(insts)
}

func TestActivateUnknownKey(t *testing.T) {
	svc, store := newTestService(t)

	res := svc.Activate("a@example.com", "dev-1", "no-such-key")
	if res.Valid {
		t.Fatal("expected activation to fail")
	}
	if res.Reason != ReasonInvalidLicense {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonInvalidLicense)
	}
	if n := countInstallations(t, store, "a@example.com"); n != 0 {
		t.Errorf("failed activation mutated installations: count = %d", n)
	}
}

func TestActivateEmailMismatchBeforeExpiry(t *testing.T) {
	svc, store := newTestService(t)

	// License is both expired and owned by someone else; the email check
	// must win because it runs before the expiry check.
	if _, err := store.CreateLicense("owner@example.com", "key-1", time.Now().UTC().Add(-24*time.Hour), storage.LicenseActive); err != nil {
		t.Fatal(err)
	}

	res := svc.Activate("intruder@example.com", "dev-1", "key-1")
	if res.Reason != ReasonEmailMismatch {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonEmailMismatch)
	}
	if n := countInstallations(t, store, "intruder@example.com"); n != 0 {
		t.Errorf("failed activation mutated installations: count = %d", n)
	}
}

func TestActivateEmailCaseInsensitive(t *testing.T) {
	svc, store := newTestService(t)
	createActiveLicense(t, store, "alice@example.com", "key-1")

	res := svc.Activate("Alice@Example.COM", "dev-1", "key-1")
	if !res.Valid {
		t.Fatalf("activation failed: %s", res.Message)
	}
	if res.ActiveCount != 1 {
		t.Errorf("active_count = %d, want 1", res.ActiveCount)
	}
}

func TestActivateExpiredLicense(t *testing.T) {
	svc, store := newTestService(t)

	expiry := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	if _, err := store.CreateLicense("a@example.com", "key-1", expiry, storage.LicenseActive); err != nil {
		t.Fatal(err)
	}

	res := svc.Activate("a@example.com", "dev-1", "key-1")
	if res.Reason != ReasonLicenseExpired {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonLicenseExpired)
	}
	// The message carries the literal expiry so the user knows when it lapsed.
	if !strings.Contains(res.Message, expiry.Format(time.RFC3339)) {
		t.Errorf("message %q does not contain expiry %s", res.Message, expiry.Format(time.RFC3339))
	}
	if n := countInstallations(t, store, "a@example.com"); n != 0 {
		t.Errorf("failed activation mutated installations: count = %d", n)
	}
}

// TestActivationScenario walks the canonical slot lifecycle: two devices fill
// the slots, a third evicts the oldest, and a reinstall changes nothing.
func TestActivationScenario(t *testing.T) {
	svc, store := newTestService(t)
	createActiveLicense(t, store, "a@example.com", "key-1")

	// Deterministic clock so last_seen strictly increases per step.
	clock := time.Now().UTC().Truncate(time.Second)
	svc.now = func() time.Time { return clock }

	res := svc.Activate("a@example.com", "dev-1", "key-1")
	if !res.Valid || res.ActiveCount != 1 || res.Replaced != "" {
		t.Fatalf("dev-1: %+v", res)
	}

	clock = clock.Add(time.Minute)
	res = svc.Activate("a@example.com", "dev-2", "key-1")
	if !res.Valid || res.ActiveCount != 2 || res.Replaced != "" {
		t.Fatalf("dev-2: %+v", res)
	}

	clock = clock.Add(time.Minute)
	res = svc.Activate("a@example.com", "dev-3", "key-1")
	if !res.Valid || res.ActiveCount != 2 {
		t.Fatalf("dev-3: %+v", res)
	}
	if res.Replaced != "dev-1" {
		t.Errorf("replaced = %q, want dev-1 (oldest last_seen)", res.Replaced)
	}
	if !strings.Contains(res.Message, "replaced oldest") {
		t.Errorf("message = %q, want replacement notice", res.Message)
	}

	clock = clock.Add(time.Minute)
	res = svc.Activate("a@example.com", "dev-2", "key-1")
	if !res.Valid || res.ActiveCount != 2 || res.Replaced != "" {
		t.Fatalf("dev-2 reinstall: %+v", res)
	}
	if !strings.Contains(res.Message, "reinstall") {
		t.Errorf("message = %q, want reinstall notice", res.Message)
	}

	if n := countInstallations(t, store, "a@example.com"); n != 2 {
		t.Errorf("installation count = %d, want 2", n)
	}
}

// TestSlotCapNeverExceeded activates many distinct devices and verifies the
// bounded-membership invariant holds after every step.
func TestSlotCapNeverExceeded(t *testing.T) {
	svc, store := newTestService(t)
	createActiveLicense(t, store, "a@example.com", "key-1")

	clock := time.Now().UTC().Truncate(time.Second)
	svc.now = func() time.Time { return clock }

	devices := []string{"dev-1", "dev-2", "dev-3", "dev-4", "dev-2", "dev-5", "dev-1"}
	for _, dev := range devices {
		res := svc.Activate("a@example.com", dev, "key-1")
		if !res.Valid {
			t.Fatalf("activate %s: %s", dev, res.Message)
		}
		if n := countInstallations(t, store, "a@example.com"); n > MaxInstallations {
			t.Fatalf("after %s: %d installations, cap is %d", dev, n, MaxInstallations)
		}
		clock = clock.Add(time.Minute)
	}
}

func TestReinstallDoesNotEvict(t *testing.T) {
	svc, store := newTestService(t)
	createActiveLicense(t, store, "a@example.com", "key-1")

	clock := time.Now().UTC().Truncate(time.Second)
	svc.now = func() time.Time { return clock }

	svc.Activate("a@example.com", "dev-1", "key-1")
	clock = clock.Add(time.Minute)
	svc.Activate("a@example.com", "dev-2", "key-1")

	clock = clock.Add(time.Minute)
	res := svc.Activate("a@example.com", "dev-1", "key-1")
	if !res.Valid || res.ActiveCount != 2 || res.Replaced != "" {
		t.Fatalf("reinstall: %+v", res)
	}

	// Both original devices must still be present.
	for _, dev := range []string{"dev-1", "dev-2"} {
		if _, err := store.GetInstallation("a@example.com", dev); err != nil {
			t.Errorf("installation %s missing after reinstall: %v", dev, err)
		}
	}
}

// TestConcurrentActivationsSameOwner races two fresh device activations for
// one owner; the per-owner lock must keep the count at the cap.
func TestConcurrentActivationsSameOwner(t *testing.T) {
	svc, store := newTestService(t)
	createActiveLicense(t, store, "a@example.com", "key-1")

	const workers = 8
	done := make(chan ActivationResult, workers)
	for i := 0; i < workers; i++ {
		dev := "dev-" + strings.Repeat("x", i+1)
		go func() {
			done <- svc.Activate("a@example.com", dev, "key-1")
		}()
	}
	for i := 0; i < workers; i++ {
		res := <-done
		if !res.Valid {
			t.Errorf("concurrent activation failed: %s", res.Message)
		}
	}

	if n := countInstallations(t, store, "a@example.com"); n > MaxInstallations {
		t.Errorf("installation count = %d, cap is %d", n, MaxInstallations)
	}
}

func TestValidateInstallation(t *testing.T) {
	svc, store := newTestService(t)
	lic := createActiveLicense(t, store, "a@example.com", "key-1")
	svc.Activate("a@example.com", "dev-1", "key-1")

	res := svc.ValidateInstallation("a@example.com", "dev-1")
	if !res.Valid {
		t.Fatalf("validation failed: %s", res.Message)
	}
	if !res.Expiry.Equal(lic.ExpiryDate) {
		t.Errorf("expiry = %v, want %v", res.Expiry, lic.ExpiryDate)
	}
}

func TestValidateUnknownInstallation(t *testing.T) {
	svc, store := newTestService(t)
	createActiveLicense(t, store, "a@example.com", "key-1")

	res := svc.ValidateInstallation("a@example.com", "never-activated")
	if res.Valid || res.Reason != ReasonInstallationNotFound {
		t.Errorf("result = %+v, want installation_not_found", res)
	}
	_ = store
}

func TestValidateNoActiveLicense(t *testing.T) {
	svc, store := newTestService(t)

	// Installation exists but the owner has no license at all.
	if err := store.InsertInstallation("a@example.com", "dev-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	res := svc.ValidateInstallation("a@example.com", "dev-1")
	if res.Valid || res.Reason != ReasonNoActiveLicense {
		t.Errorf("result = %+v, want no_active_license", res)
	}
}

func TestValidateExpiredLicense(t *testing.T) {
	svc, store := newTestService(t)

	if _, err := store.CreateLicense("a@example.com", "key-1", time.Now().UTC().Add(-time.Hour), storage.LicenseActive); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertInstallation("a@example.com", "dev-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	res := svc.ValidateInstallation("a@example.com", "dev-1")
	if res.Valid || res.Reason != ReasonLicenseExpired {
		t.Errorf("result = %+v, want license_expired", res)
	}
}

func TestValidateRefreshesLastSeen(t *testing.T) {
	svc, store := newTestService(t)
	createActiveLicense(t, store, "a@example.com", "key-1")

	past := time.Now().UTC().Add(-24 * time.Hour)
	if err := store.InsertInstallation("a@example.com", "dev-1", past); err != nil {
		t.Fatal(err)
	}

	if res := svc.ValidateInstallation("a@example.com", "dev-1"); !res.Valid {
		t.Fatalf("validation failed: %s", res.Message)
	}

	inst, err := store.GetInstallation("a@example.com", "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if !inst.LastSeen.After(past) {
		t.Errorf("last_seen not refreshed: %v", inst.LastSeen)
	}
}
