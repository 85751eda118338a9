package bizlogic

import (
	"net/url"
	"strings"

	"github.com/httprunner/bizlogic/internal/config"
	"github.com/pkg/errors"
)

// URL template placeholders.
const (
	SuitePlaceholder   = "{suite-name}"
	ModulePlaceholder  = "{module}"
	VersionPlaceholder = "{version}"
)

// DefaultContentProviderURI is queried for properties the device does not
// expose through getprop.
const DefaultContentProviderURI = "content://com.google.settings/partner"

// Environment keys for RequestSpecFromEnv.
const (
	EnvURL        = "BUSINESS_LOGIC_URL"
	EnvAPIKey     = "BUSINESS_LOGIC_API_KEY"
	EnvModule     = "BUSINESS_LOGIC_MODULE"
	EnvContentURI = "BUSINESS_LOGIC_CONTENT_URI"
)

// Probes lists the names the builder tries to resolve against device facts.
// DeviceInfo keys have the form <InfoClass>:<fieldName>.
type Probes struct {
	Features   []string
	Properties []string
	DeviceInfo []string
}

// RequestSpec is the per-invocation request configuration.
type RequestSpec struct {
	URL                string
	APIKey             string
	Module             string
	ContentProviderURI string
	// Probes overrides the suite's dynamic config when set.
	Probes *Probes
}

// NewRequestSpec returns a spec querying the default content provider.
func NewRequestSpec(urlTemplate, apiKey, module string) RequestSpec {
	return RequestSpec{
		URL:                strings.TrimSpace(urlTemplate),
		APIKey:             strings.TrimSpace(apiKey),
		Module:             strings.TrimSpace(module),
		ContentProviderURI: DefaultContentProviderURI,
	}
}

// RequestSpecFromEnv reads the spec from BUSINESS_LOGIC_* variables.
func RequestSpecFromEnv() RequestSpec {
	spec := NewRequestSpec(
		config.String(EnvURL, ""),
		config.String(EnvAPIKey, ""),
		config.String(EnvModule, ""),
	)
	spec.ContentProviderURI = config.String(EnvContentURI, DefaultContentProviderURI)
	return spec
}

// BaseURL substitutes suite name, module and suite version into the URL
// template and validates the result. A query carried by the template is kept.
func (s RequestSpec) BaseURL(suiteName, suiteVersion string) (string, error) {
	tpl := strings.TrimSpace(s.URL)
	if tpl == "" {
		return "", errors.Wrap(ErrConfig, "business logic url is empty")
	}
	if strings.Contains(tpl, VersionPlaceholder) && strings.TrimSpace(suiteVersion) == "" {
		return "", errors.Wrapf(ErrConfig, "business logic url %q needs build attribute %s", tpl, AttrSuiteVersion)
	}
	resolved := strings.NewReplacer(
		SuitePlaceholder, url.PathEscape(suiteName),
		ModulePlaceholder, url.PathEscape(s.Module),
		VersionPlaceholder, url.PathEscape(strings.TrimSpace(suiteVersion)),
	).Replace(tpl)
	parsed, err := url.Parse(resolved)
	if err != nil {
		return "", errors.Wrapf(ErrConfig, "parse business logic url %q: %v", resolved, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.Wrapf(ErrConfig, "business logic url %q: unsupported scheme %q", resolved, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.Wrapf(ErrConfig, "business logic url %q: missing host", resolved)
	}
	if parsed.Fragment != "" {
		return "", errors.Wrapf(ErrConfig, "business logic url %q: must not carry a fragment", resolved)
	}
	if _, err := url.ParseQuery(parsed.RawQuery); err != nil {
		return "", errors.Wrapf(ErrConfig, "business logic url %q: bad query: %v", resolved, err)
	}
	return resolved, nil
}
