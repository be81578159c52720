// Package config loads HUB configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the HUB configuration.
type Config struct {
	// ServerID is this HUB's 12-bit identity (0-4095). Required.
	ServerID int `yaml:"server_id"`
	// Realm selects the ISCC-ID header subtype: 0 sandbox, 1 operational.
	Realm int `yaml:"realm"`
	// Seckey is the HUB Ed25519 private key in multibase form ("z...").
	Seckey string `yaml:"seckey"`
	// Domain is used for the did:web controller in receipts.
	Domain string `yaml:"domain"`
	// SkewSeconds is the declaration timestamp tolerance.
	SkewSeconds int `yaml:"skew_seconds"`
	// DBPath is the event store location.
	DBPath string `yaml:"db_path"`

	Listen     string `yaml:"listen"`
	LogLevel   string `yaml:"log_level"`
	RateRPS    int    `yaml:"rate_rps"`
	RateBurst  int    `yaml:"rate_burst"`
	QueueDepth int    `yaml:"queue_depth"`

	// OTLPEndpoint enables OpenTelemetry export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// RedisAddr enables the committed-event feed when non-empty.
	RedisAddr string `yaml:"redis_addr"`
}

func defaults() *Config {
	return &Config{
		ServerID:    -1,
		Realm:       0,
		SkewSeconds: 600,
		DBPath:      "iscc-hub.db",
		Listen:      ":8080",
		LogLevel:    "INFO",
		RateRPS:     10,
		RateBurst:   20,
		QueueDepth:  128,
	}
}

// Load reads the optional YAML file at path (skipped when empty), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	intVars := map[string]*int{
		"ISCC_HUB_ID":          &cfg.ServerID,
		"ISCC_HUB_REALM":       &cfg.Realm,
		"ISCC_HUB_SKEW":        &cfg.SkewSeconds,
		"ISCC_HUB_RATE_RPS":    &cfg.RateRPS,
		"ISCC_HUB_RATE_BURST":  &cfg.RateBurst,
		"ISCC_HUB_QUEUE_DEPTH": &cfg.QueueDepth,
	}
	for name, dst := range intVars {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s must be an integer: %w", name, err)
			}
			*dst = n
		}
	}
	strVars := map[string]*string{
		"ISCC_HUB_SECKEY":    &cfg.Seckey,
		"ISCC_HUB_DOMAIN":    &cfg.Domain,
		"ISCC_HUB_DB_PATH":   &cfg.DBPath,
		"ISCC_HUB_LISTEN":    &cfg.Listen,
		"ISCC_HUB_LOG_LEVEL": &cfg.LogLevel,
		"ISCC_HUB_OTLP":      &cfg.OTLPEndpoint,
		"ISCC_HUB_REDIS":     &cfg.RedisAddr,
	}
	for name, dst := range strVars {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.ServerID < 0 || c.ServerID > 4095 {
		return fmt.Errorf("server_id is required and must be 0-4095, got %d", c.ServerID)
	}
	if c.Realm != 0 && c.Realm != 1 {
		return fmt.Errorf("realm must be 0 (sandbox) or 1 (operational), got %d", c.Realm)
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required for receipt issuance")
	}
	if c.SkewSeconds <= 0 {
		return fmt.Errorf("skew_seconds must be positive, got %d", c.SkewSeconds)
	}
	return nil
}
