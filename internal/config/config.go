// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package config loads and validates the Gatewatch runtime configuration.
// Values are layered: struct defaults, then an optional YAML file, then
// GATEWATCH_* environment variables, each layer overriding the previous.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the complete runtime configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Scoring ScoringConfig `koanf:"scoring"`
	Gate    GateConfig    `koanf:"gate"`
	Store   StoreConfig   `koanf:"store"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"`
	RateWindow      time.Duration `koanf:"rate_window"`
}

// ScoringConfig selects and tunes the anomaly scorer.
type ScoringConfig struct {
	// Mode is "local" to score in-process from the artifact directory, or
	// "remote" to call an external scoring service over HTTP.
	Mode string `koanf:"mode"`

	// ArtifactDir holds scaler.json, forest.json, and metadata.json.
	ArtifactDir string `koanf:"artifact_dir"`

	// RemoteURL is the base URL of the scoring service in remote mode.
	RemoteURL     string        `koanf:"remote_url"`
	RemoteTimeout time.Duration `koanf:"remote_timeout"`

	// TrustedThreshold and SuspiciousThreshold bound the ambiguous band
	// of the trust score. At or above trusted the verdict is passed; at
	// or below suspicious it is flagged; between them it stays analyzing.
	TrustedThreshold    float64 `koanf:"trusted_threshold"`
	SuspiciousThreshold float64 `koanf:"suspicious_threshold"`
}

// GateConfig tunes the per-session decision gate.
type GateConfig struct {
	RescoreInterval time.Duration `koanf:"rescore_interval"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
	MaxSessions     int           `koanf:"max_sessions"`
}

// StoreConfig controls feature and decision persistence.
type StoreConfig struct {
	// FeatureDB is the DuckDB file for collected feature vectors.
	// Empty disables the feature sink.
	FeatureDB string `koanf:"feature_db"`

	// DecisionDir is the Badger directory for the decision log.
	// Empty disables decision logging.
	DecisionDir string `koanf:"decision_dir"`
}

// LoggingConfig mirrors the logging package configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       300,
			RateWindow:      time.Minute,
		},
		Scoring: ScoringConfig{
			Mode:                "local",
			ArtifactDir:         "artifacts",
			RemoteTimeout:       5 * time.Second,
			TrustedThreshold:    0.55,
			SuspiciousThreshold: 0.45,
		},
		Gate: GateConfig{
			RescoreInterval: 10 * time.Second,
			SessionTTL:      30 * time.Minute,
			SweepInterval:   time.Minute,
			MaxSessions:     100000,
		},
		Store: StoreConfig{
			FeatureDB:   "gatewatch.duckdb",
			DecisionDir: "decisions",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is empty, the first of GATEWATCH_CONFIG, ./config.yaml, and
// /etc/gatewatch/config.yaml that exists), and GATEWATCH_* environment
// variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// GATEWATCH_SERVER_PORT=9000 -> server.port. Section and key names
	// contain no underscores except inside leaf names, so replace only
	// the first separator.
	if err := k.Load(env.Provider("GATEWATCH_", ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "GATEWATCH_"))
	return strings.Replace(s, "_", ".", 1)
}

func findConfigFile() string {
	if p := os.Getenv("GATEWATCH_CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"config.yaml", "/etc/gatewatch/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks cross-field constraints the type system cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Scoring.Mode {
	case "local":
		if c.Scoring.ArtifactDir == "" {
			return fmt.Errorf("scoring.artifact_dir required in local mode")
		}
	case "remote":
		if c.Scoring.RemoteURL == "" {
			return fmt.Errorf("scoring.remote_url required in remote mode")
		}
	default:
		return fmt.Errorf("scoring.mode must be local or remote, got %q", c.Scoring.Mode)
	}
	if c.Scoring.TrustedThreshold < 0 || c.Scoring.TrustedThreshold > 1 {
		return fmt.Errorf("scoring.trusted_threshold %v out of [0,1]", c.Scoring.TrustedThreshold)
	}
	if c.Scoring.SuspiciousThreshold < 0 || c.Scoring.SuspiciousThreshold > 1 {
		return fmt.Errorf("scoring.suspicious_threshold %v out of [0,1]", c.Scoring.SuspiciousThreshold)
	}
	if c.Scoring.SuspiciousThreshold > c.Scoring.TrustedThreshold {
		return fmt.Errorf("scoring.suspicious_threshold %v exceeds trusted_threshold %v",
			c.Scoring.SuspiciousThreshold, c.Scoring.TrustedThreshold)
	}
	if c.Gate.RescoreInterval <= 0 {
		return fmt.Errorf("gate.rescore_interval must be positive")
	}
	if c.Gate.SessionTTL <= 0 {
		return fmt.Errorf("gate.session_ttl must be positive")
	}
	if c.Gate.MaxSessions < 1 {
		return fmt.Errorf("gate.max_sessions must be at least 1")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
