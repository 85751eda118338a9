package bizlogic

import "github.com/pkg/errors"

var (
	// ErrConfig reports an unusable request configuration: malformed base URL
	// or an undeterminable suite name.
	ErrConfig = errors.New("bizlogic: invalid request config")
	// ErrConfigMissing reports that no versioned file carries the suite's
	// dynamic config.
	ErrConfigMissing = errors.New("bizlogic: dynamic config not found")
	// ErrMalformedConfig reports dynamic config content that cannot be parsed.
	ErrMalformedConfig = errors.New("bizlogic: malformed dynamic config")
)

// IsConfigError reports whether err aborts request construction because of
// configuration rather than device access.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrConfigMissing) || errors.Is(err, ErrMalformedConfig)
}
