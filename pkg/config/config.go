package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/messaging"
)

// SecurityConfig selects and parameterizes the security layer.
type SecurityConfig struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"secret,omitempty"`
}

// Config is the full node configuration.
type Config struct {
	// PlatformID is the identity of the platform this process represents.
	PlatformID string `json:"platform_id"`

	// HTTPAddr is the listen address of the /subscriptionManager surface.
	HTTPAddr string `json:"http_addr"`

	// MetricsAddr is the listen address of the Prometheus endpoint.
	MetricsAddr string `json:"metrics_addr"`

	Security SecurityConfig   `json:"security"`
	Rabbit   messaging.Config `json:"rabbit"`
}

// Default returns a runnable local configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8128",
		MetricsAddr: ":9128",
		Security:    SecurityConfig{Enabled: false},
		Rabbit:      messaging.DefaultConfig(),
	}
}

// LoadConfig reads a JSON config file and applies environment overrides on
// top of it.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if cfg.PlatformID == "" {
		return nil, fmt.Errorf("platform_id must be set")
	}
	return cfg, nil
}

// LoadFromEnv builds a configuration from environment variables alone.
func LoadFromEnv() (*Config, error) {
	return LoadConfig("")
}

func (c *Config) applyEnv() {
	c.PlatformID = getEnv("SUBMAN_PLATFORM_ID", c.PlatformID)
	c.HTTPAddr = getEnv("SUBMAN_HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("SUBMAN_METRICS_ADDR", c.MetricsAddr)
	c.Rabbit.URL = getEnv("SUBMAN_RABBIT_URL", c.Rabbit.URL)
	c.Security.Secret = getEnv("SUBMAN_SECURITY_SECRET", c.Security.Secret)
	if v := os.Getenv("SUBMAN_SECURITY_ENABLED"); v != "" {
		c.Security.Enabled = v == "true" || v == "1"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
