package license

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateKeyShape(t *testing.T) {
	key, expiry := GenerateKey("Alice@Example.com", 365)

	if !strings.HasPrefix(key, "alice-example-com-") {
		t.Errorf("key = %q, want cleaned email prefix", key)
	}
	if !strings.Contains(key, expiry.Format("20060102")) {
		t.Errorf("key = %q, missing expiry date %s", key, expiry.Format("20060102"))
	}

	parts := strings.Split(key, "-")
	check := parts[len(parts)-1]
	if len(check) != 8 || check != strings.ToUpper(check) {
		t.Errorf("checksum = %q, want 8 uppercase hex chars", check)
	}

	wantExpiry := time.Now().UTC().AddDate(0, 0, 365)
	if d := expiry.Sub(wantExpiry); d < -time.Minute || d > time.Minute {
		t.Errorf("expiry = %v, want ~%v", expiry, wantExpiry)
	}
}

func TestGenerateKeyDeterministicPerDay(t *testing.T) {
	k1, _ := GenerateKey("a@example.com", 30)
	k2, _ := GenerateKey("A@EXAMPLE.COM", 30)
	if k1 != k2 {
		t.Errorf("keys differ for same email (case folded): %q vs %q", k1, k2)
	}

	k3, _ := GenerateKey("b@example.com", 30)
	if k1 == k3 {
		t.Error("keys identical for different emails")
	}
}
