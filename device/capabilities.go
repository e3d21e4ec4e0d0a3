package device

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/browser-go/extension-bridge/cdp"
)

// Capabilities describes what a device's browser and extension can do.  The
// v2 registration path validates these; the legacy path fills in whatever the
// extension reported and leaves the rest zero.
type Capabilities struct {
	Name                  string          `json:"name,omitempty"`
	Version               string          `json:"version,omitempty"`
	UserAgent             string          `json:"userAgent,omitempty"`
	BrowserName           string          `json:"browserName,omitempty"`
	BrowserVersion        string          `json:"browserVersion,omitempty"`
	Platform              string          `json:"platform,omitempty"`
	SupportedDomains      []string        `json:"supportedDomains,omitempty"`
	MaxConcurrentRequests int             `json:"maxConcurrentRequests,omitempty"`
	FeatureFlags          map[string]bool `json:"featureFlags,omitempty"`
}

// FromDeviceInfo builds the minimal capability set carried by a legacy
// device_register message.
func FromDeviceInfo(info *cdp.DeviceInfo) Capabilities {
	if info == nil {
		return Capabilities{}
	}

	return Capabilities{
		Name:      info.Name,
		Version:   info.Version,
		UserAgent: info.UserAgent,
	}
}

// ParseCapabilities builds a Capabilities from the loosely-typed deviceInfo
// object of a v2 registration.  JSON numbers arrive as float64 and lists as
// []interface{}, so conversion goes through cast and conversion failures are
// reported as validation errors.
func ParseCapabilities(id ID, raw map[string]interface{}) (Capabilities, error) {
	c := Capabilities{
		Name:           cast.ToString(raw["name"]),
		Version:        cast.ToString(raw["version"]),
		UserAgent:      cast.ToString(raw["userAgent"]),
		BrowserName:    cast.ToString(raw["browserName"]),
		BrowserVersion: cast.ToString(raw["browserVersion"]),
		Platform:       cast.ToString(raw["platform"]),
	}

	if v, ok := raw["supportedDomains"]; ok {
		domains, err := cast.ToStringSliceE(v)
		if err != nil {
			return c, NewValidationError(id, "supportedDomains must be a list of CDP domains")
		}

		c.SupportedDomains = domains
	}

	if v, ok := raw["maxConcurrentRequests"]; ok {
		max, err := cast.ToIntE(v)
		if err != nil {
			return c, NewValidationError(id, "maxConcurrentRequests must be numeric")
		}

		c.MaxConcurrentRequests = max
	}

	if v, ok := raw["featureFlags"]; ok {
		flags, err := cast.ToStringMapBoolE(v)
		if err != nil {
			return c, NewValidationError(id, "featureFlags must map names to booleans")
		}

		c.FeatureFlags = flags
	}

	return c, c.Validate(id)
}

// Validate enforces the required fields of a v2 registration.
func (c Capabilities) Validate(id ID) error {
	for _, required := range []struct {
		name  string
		value string
	}{
		{"browserName", c.BrowserName},
		{"browserVersion", c.BrowserVersion},
		{"platform", c.Platform},
		{"userAgent", c.UserAgent},
	} {
		if len(required.value) == 0 {
			return NewValidationError(id, fmt.Sprintf("deviceInfo is missing %s", required.name))
		}
	}

	return nil
}
