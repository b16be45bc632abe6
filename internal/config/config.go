package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptcanvas/aibridge/internal/ratelimit"
)

type Config struct {
	Server          ServerConfig     `yaml:"server"`
	Providers       []ProviderConfig `yaml:"providers"`
	DefaultProvider string           `yaml:"default_provider"`
	RateLimits      RateLimitConfig  `yaml:"rate_limits"`
	CatalogCache    CatalogConfig    `yaml:"catalog_cache"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ProviderConfig struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	Fallback []string      `yaml:"fallback_models"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
	RequestsPerDay    int `yaml:"requests_per_day"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
	TokensPerHour     int `yaml:"tokens_per_hour"`
	TokensPerDay      int `yaml:"tokens_per_day"`
}

type CatalogConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// providerTypes are the adapter implementations main knows how to build.
var providerTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"google":    true,
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Limits converts the YAML block into the limiter's config, filling
// unset values from the limiter defaults.
func (c *Config) Limits() ratelimit.Config {
	def := ratelimit.DefaultConfig()
	rl := c.RateLimits
	if rl.RequestsPerMinute > 0 {
		def.RequestsPerMinute = rl.RequestsPerMinute
	}
	if rl.RequestsPerHour > 0 {
		def.RequestsPerHour = rl.RequestsPerHour
	}
	if rl.RequestsPerDay > 0 {
		def.RequestsPerDay = rl.RequestsPerDay
	}
	if rl.TokensPerMinute > 0 {
		def.TokensPerMinute = rl.TokensPerMinute
	}
	if rl.TokensPerHour > 0 {
		def.TokensPerHour = rl.TokensPerHour
	}
	if rl.TokensPerDay > 0 {
		def.TokensPerDay = rl.TokensPerDay
	}
	return def
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Streams stay open well past a single request timeout.
		cfg.Server.WriteTimeout = 300 * time.Second
	}
	if cfg.DefaultProvider == "" && len(cfg.Providers) > 0 {
		cfg.DefaultProvider = cfg.Providers[0].Name
	}
	if cfg.CatalogCache.TTL == 0 {
		cfg.CatalogCache.TTL = 5 * time.Minute
	}
	if cfg.CatalogCache.MaxEntries == 0 {
		cfg.CatalogCache.MaxEntries = 16
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	names := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("providers[%d].name %q is duplicated", i, p.Name)
		}
		names[p.Name] = true
		if !providerTypes[p.Type] {
			return fmt.Errorf("providers[%d].type must be one of openai, anthropic, google, got %q", i, p.Type)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers[%d].base_url is required", i)
		}
	}
	if !names[cfg.DefaultProvider] {
		return fmt.Errorf("default_provider %q does not match any configured provider", cfg.DefaultProvider)
	}
	rl := cfg.RateLimits
	for _, v := range []int{rl.RequestsPerMinute, rl.RequestsPerHour, rl.RequestsPerDay, rl.TokensPerMinute, rl.TokensPerHour, rl.TokensPerDay} {
		if v < 0 {
			return fmt.Errorf("rate_limits values must not be negative")
		}
	}
	return nil
}
