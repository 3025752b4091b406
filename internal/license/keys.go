package license

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// keySalt is mixed into generated license keys so a key cannot be forged
// from the email and expiry alone.
const keySalt = "popouts-license-salt-change-in-production"

// GenerateKey derives a license key for the email valid for the given number
// of days. The key embeds the cleaned email, the expiry date, and a short
// checksum: "alice-example-com-20270101-ABCD1234".
func GenerateKey(email string, days int) (key string, expiry time.Time) {
	expiry = time.Now().UTC().AddDate(0, 0, days)
	expiryStr := expiry.Format("20060102")

	sum := sha256.Sum256([]byte(strings.ToLower(email) + keySalt + expiryStr))
	check := strings.ToUpper(hex.EncodeToString(sum[:]))[:8]

	cleaned := strings.NewReplacer("@", "-", ".", "-").Replace(strings.ToLower(email))
	return cleaned + "-" + expiryStr + "-" + check, expiry
}
