package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes v with all object keys in sorted order, so two
// semantically identical payloads produce byte-identical output regardless
// of the key order they arrived in.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling content: %w", err)
	}
	// Round-trip through untyped maps; encoding/json emits map keys sorted.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalizing content: %w", err)
	}
	return json.Marshal(generic)
}

// InputHash returns the dedup key for an extraction payload: the SHA-256 hex
// digest of its canonical JSON form.
func InputHash(details MeetingDetails) (hash string, canonical []byte, err error) {
	canonical, err = CanonicalJSON(details)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), canonical, nil
}
