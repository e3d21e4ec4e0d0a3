package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browser-go/extension-bridge/cdp"
)

func testParseCapabilitiesValid(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	c, err := ParseCapabilities(ID("device-1"), map[string]interface{}{
		"browserName":           "Chrome",
		"browserVersion":        "120.0.6099.109",
		"platform":              "Android",
		"userAgent":             "Mozilla/5.0",
		"supportedDomains":      []interface{}{"Page", "Runtime"},
		"maxConcurrentRequests": float64(4),
		"featureFlags":          map[string]interface{}{"screencast": true},
	})

	require.NoError(err)
	assert.Equal("Chrome", c.BrowserName)
	assert.Equal([]string{"Page", "Runtime"}, c.SupportedDomains)
	assert.Equal(4, c.MaxConcurrentRequests)
	assert.Equal(map[string]bool{"screencast": true}, c.FeatureFlags)
}

func testParseCapabilitiesMissingRequired(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	_, err := ParseCapabilities(ID("device-1"), map[string]interface{}{
		"browserName":    "Chrome",
		"browserVersion": "120.0.6099.109",
		"platform":       "Android",
	})

	require.Error(err)
	relayErr, ok := err.(*Error)
	require.True(ok)
	assert.Equal(CodeValidationFailed, relayErr.Code)
	assert.Equal(ClassBusiness, relayErr.Class)
}

func testParseCapabilitiesBadTypes(t *testing.T) {
	assert := assert.New(t)

	badInputs := []map[string]interface{}{
		{"supportedDomains": 17},
		{"maxConcurrentRequests": "not a number"},
		{"featureFlags": []interface{}{"screencast"}},
	}

	for _, raw := range badInputs {
		raw["browserName"] = "Chrome"
		raw["browserVersion"] = "120"
		raw["platform"] = "Android"
		raw["userAgent"] = "Mozilla/5.0"

		_, err := ParseCapabilities(ID("device-1"), raw)
		assert.Error(err)
	}
}

func TestParseCapabilities(t *testing.T) {
	t.Run("Valid", testParseCapabilitiesValid)
	t.Run("MissingRequired", testParseCapabilitiesMissingRequired)
	t.Run("BadTypes", testParseCapabilitiesBadTypes)
}

func TestFromDeviceInfo(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(Capabilities{}, FromDeviceInfo(nil))
	assert.Equal(
		Capabilities{Name: "pixel", Version: "1.2.3", UserAgent: "Mozilla/5.0"},
		FromDeviceInfo(&cdp.DeviceInfo{Name: "pixel", Version: "1.2.3", UserAgent: "Mozilla/5.0"}),
	)
}
