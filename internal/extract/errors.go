package extract

import "errors"

// Backend error taxonomy. Provider implementations wrap one of these so the
// coordinator can classify failures without knowing the provider.
var (
	ErrBackendUnavailable = errors.New("extraction backend unavailable")
	ErrBackendTimeout     = errors.New("extraction backend timed out")
	ErrBackendMalformed   = errors.New("extraction backend returned malformed response")
)
