// Package config loads the process configuration file described in
// spec.md §6: provider bindings, the classifier's weights/threshold
// overrides, the catalog and routing-table file paths, logging, and the
// optional ambient surfaces (metrics, tracing, dedup backend). Grounded on
// the teacher's internal/config/config.go — same Config/sub-struct
// layout, Validate pass, and DefaultConfig — but JSON rather than YAML
// (spec.md §6 mandates JSON for every on-disk artifact) and providers
// keyed by tag rather than a name+type list, since this module's provider
// set is a closed enumeration, not an open plugin list.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Config is the root configuration shape.
type Config struct {
	HTTP       HTTPConfig                      `json:"http"`
	Mode       types.Mode                      `json:"mode"`
	Providers  map[provider.Tag]ProviderConfig  `json:"providers"`
	Catalog    string                           `json:"modelCatalogPath"`
	RoutingTab string                           `json:"routingTablePath"`
	Classifier ClassifierConfig                 `json:"classifier"`
	Session    SessionConfig                    `json:"session"`
	Dedup      DedupConfig                      `json:"dedup"`
	RoutingLog RoutingLogConfig                 `json:"routingLog"`
	Logging    LoggingConfig                    `json:"logging"`
	Metrics    MetricsConfig                    `json:"metrics"`
	Tracing    TracingConfig                    `json:"tracing"`
	RateLimit  RateLimitConfig                  `json:"anonymousRateLimit"`
}

// RateLimitConfig controls the anonymous per-client-id throttle guarding
// the ingress surface. It is independent of the model-level cooldowns the
// router consults (internal/ratelimit).
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	Burst             int `json:"burst"`
}

// HTTPConfig controls the listen address.
type HTTPConfig struct {
	Port int `json:"port"`
}

// ProviderConfig is one provider tag's binding, mirroring provider.Binding
// plus the raw JSON fields env overrides read from.
type ProviderConfig struct {
	APIKey           string `json:"apiKey"`
	BaseURL          string `json:"baseUrl"`
	SetupToken       string `json:"setupToken"`
	PreferSetupToken bool   `json:"preferSetupToken"`
	AuthType         string `json:"authType"`
}

// ClassifierConfig points at the weights override file and carries
// threshold overrides; zero thresholds fall back to classifier defaults.
type ClassifierConfig struct {
	WeightsPath string  `json:"weightsPath"`
	SimpleMax   float64 `json:"simpleMax"`
	ComplexMin  float64 `json:"complexMin"`
}

// SessionConfig controls the per-session pin store.
type SessionConfig struct {
	IdleTTL time.Duration `json:"idleTtl"`
}

// DedupConfig controls the in-flight/completed request cache.
type DedupConfig struct {
	TTL     time.Duration `json:"ttl"`
	Backend string        `json:"backend"` // "memory" (default) or "redis"
	RedisURL string       `json:"redisUrl"`
}

// RoutingLogConfig controls the append-only routing log file.
type RoutingLogConfig struct {
	Path string `json:"path"`
}

// LoggingConfig controls the root observability.Logger.
type LoggingConfig struct {
	Level      string `json:"level"` // debug, info, warn, error
	JSONFormat bool   `json:"jsonFormat"`
}

// MetricsConfig controls the optional /metrics surface.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TracingConfig controls the optional OTLP/HTTP tracing export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"serviceName"`
	Insecure    bool    `json:"insecure"`
}

// Default returns a configuration with sensible defaults; LoadFromFile
// starts from this and overlays the file contents on top.
func Default() *Config {
	return &Config{
		HTTP:       HTTPConfig{Port: 8484},
		Mode:       types.ModeStandard,
		Providers:  make(map[provider.Tag]ProviderConfig),
		Catalog:    "catalog.json",
		RoutingTab: "routing-table.json",
		Session:    SessionConfig{IdleTTL: 30 * time.Minute},
		Dedup:      DedupConfig{TTL: 30 * time.Second, Backend: "memory"},
		RoutingLog: RoutingLogConfig{Path: "routing.jsonl"},
		Logging:    LoggingConfig{Level: "info", JSONFormat: true},
		Metrics:    MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing:    TracingConfig{Enabled: false, Endpoint: "localhost:4318", ServiceName: "clawd-throttle"},
		RateLimit:  RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
	}
}

// LoadFromFile reads and parses the JSON configuration file at path,
// overlays environment variable overrides, and validates the result.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets (API keys) and the routing
// mode be supplied out-of-band instead of committed to the config file.
func applyEnvOverrides(cfg *Config) {
	for _, tag := range []provider.Tag{
		provider.TagAnthropic, provider.TagGoogle, provider.TagOpenAI,
		provider.TagDeepSeek, provider.TagXAI, provider.TagMoonshot,
		provider.TagMistral, provider.TagOllama,
	} {
		envKey := fmt.Sprintf("THROTTLE_%s_API_KEY", envName(tag))
		if v := os.Getenv(envKey); v != "" {
			pc := cfg.Providers[tag]
			pc.APIKey = v
			cfg.Providers[tag] = pc
		}
	}
	if v := os.Getenv("THROTTLE_ANTHROPIC_SETUP_TOKEN"); v != "" {
		pc := cfg.Providers[provider.TagAnthropic]
		pc.SetupToken = v
		cfg.Providers[provider.TagAnthropic] = pc
	}
	if v := os.Getenv("THROTTLE_MODE"); v != "" {
		cfg.Mode = types.NormalizeMode(v)
	}
}

func envName(tag provider.Tag) string {
	s := string(tag)
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Validate checks structural invariants Load cannot otherwise catch
// before the catalog/routing-table cross-validation happens in main.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	switch c.Mode {
	case types.ModeEco, types.ModeStandard, types.ModeGigachad:
	default:
		return fmt.Errorf("invalid mode: %q", c.Mode)
	}
	if c.Catalog == "" {
		return fmt.Errorf("modelCatalogPath is required")
	}
	if c.RoutingTab == "" {
		return fmt.Errorf("routingTablePath is required")
	}
	if c.Classifier.SimpleMax != 0 && c.Classifier.ComplexMin != 0 && c.Classifier.SimpleMax >= c.Classifier.ComplexMin {
		return fmt.Errorf("classifier.simpleMax must be less than classifier.complexMin")
	}
	for tag, pc := range c.Providers {
		if pc.AuthType != "" {
			switch provider.AuthType(pc.AuthType) {
			case provider.AuthAPIKey, provider.AuthBearer, provider.AuthAuto:
			default:
				return fmt.Errorf("providers.%s: invalid authType %q", tag, pc.AuthType)
			}
		}
	}
	return nil
}

// Bindings converts the configured providers into provider.Binding values
// keyed by tag, ready to feed provider.NewRegistry.
func (c *Config) Bindings() map[provider.Tag]provider.Binding {
	out := make(map[provider.Tag]provider.Binding, len(c.Providers))
	for tag, pc := range c.Providers {
		out[tag] = provider.Binding{
			APIKey:           pc.APIKey,
			BaseURL:          pc.BaseURL,
			SetupToken:       pc.SetupToken,
			PreferSetupToken: pc.PreferSetupToken,
			AuthType:         provider.AuthType(pc.AuthType),
		}
	}
	return out
}
