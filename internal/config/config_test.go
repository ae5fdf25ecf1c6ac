package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/internal/provider"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile_AppliesDefaultsAndOverlay(t *testing.T) {
	path := writeConfig(t, `{
		"http": {"port": 9999},
		"providers": {"anthropic": {"apiKey": "sk-ant-test"}},
		"modelCatalogPath": "catalog.json",
		"routingTablePath": "routing.json"
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, "sk-ant-test", cfg.Providers[provider.TagAnthropic].APIKey)
	assert.Equal(t, "memory", cfg.Dedup.Backend) // default preserved
}

func TestLoadFromFile_EnvOverridesAPIKey(t *testing.T) {
	path := writeConfig(t, `{
		"modelCatalogPath": "catalog.json",
		"routingTablePath": "routing.json"
	}`)

	t.Setenv("THROTTLE_OPENAI_API_KEY", "sk-from-env")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Providers[provider.TagOpenAI].APIKey)
}

func TestValidate_RejectsInvalidPort(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvertedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Classifier.SimpleMax = 0.8
	cfg.Classifier.ComplexMin = 0.2
	assert.Error(t, cfg.Validate())
}

func TestBindings_MapsProviderConfigToBinding(t *testing.T) {
	cfg := Default()
	cfg.Providers[provider.TagAnthropic] = ProviderConfig{APIKey: "k", SetupToken: "s", AuthType: "api-key"}

	bindings := cfg.Bindings()
	b := bindings[provider.TagAnthropic]
	assert.Equal(t, "k", b.APIKey)
	assert.Equal(t, "s", b.SetupToken)
	assert.Equal(t, provider.AuthAPIKey, b.AuthType)
}
