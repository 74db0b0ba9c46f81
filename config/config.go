// Package config loads the orchestrator's configuration: the auth secret
// and algorithm, and batch-system adapter settings, from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	svcerrors "github.com/r3e-network/dronectl/infrastructure/errors"
)

// RestAPIConfig carries the auth subsystem's secret and algorithm.
// Services.restapi in the original configuration surface.
type RestAPIConfig struct {
	SecretKey string `yaml:"secret_key" env:"DRONECTL_SECRET_KEY"`
	Algorithm string `yaml:"algorithm" env:"DRONECTL_ALGORITHM"`
}

// ServicesConfig groups every named external service's settings.
type ServicesConfig struct {
	RestAPI *RestAPIConfig `yaml:"restapi"`
}

// BatchSystemConfig controls the batch-system adapter and its query cache.
type BatchSystemConfig struct {
	Adapter string            `yaml:"adapter" env:"DRONECTL_BATCHSYSTEM_ADAPTER"`
	MaxAge  int               `yaml:"max_age" env:"DRONECTL_BATCHSYSTEM_MAX_AGE"`
	Options map[string]string `yaml:"options"`
}

// MaxAgeDuration returns MaxAge as a time.Duration.
func (b BatchSystemConfig) MaxAgeDuration() time.Duration {
	return time.Duration(b.MaxAge) * time.Second
}

// Config is the top-level configuration structure.
type Config struct {
	Services                    ServicesConfig    `yaml:"services"`
	BatchSystem                 BatchSystemConfig `yaml:"batch_system"`
	AvailabilityIntervalSeconds int               `yaml:"availability_interval_seconds" env:"DRONECTL_AVAILABILITY_INTERVAL_SECONDS"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		BatchSystem: BatchSystemConfig{
			Adapter: "mock",
			MaxAge:  300,
		},
		AvailabilityIntervalSeconds: 10,
	}
}

// Load reads .env (if present), then a YAML file (DRONECTL_CONFIG env var,
// or "config/services.yaml" by default; a missing file is skipped), then
// applies env overrides tagged on the struct.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("DRONECTL_CONFIG"))
	if path == "" {
		path = "config/services.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "no target field") {
			return nil, fmt.Errorf("decode env overrides: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// secretSource adapts *Config to auth.SecretSource, with the one-shot
// caching and explicit reload hook §4.6/§5 require.
type secretSource struct {
	cfg *Config

	mu        sync.Mutex
	loaded    bool
	secretKey string
	algorithm string
	loadErr   error
}

// NewSecretSource builds an auth.SecretSource backed by cfg.Services.RestAPI.
// Absence of Services.restapi when first accessed is a fatal ConfigError,
// matching §6's "Absence of Services.restapi ... is a fatal configuration
// error" rule.
func NewSecretSource(cfg *Config) *secretSource {
	return &secretSource{cfg: cfg}
}

func (s *secretSource) load() {
	s.loaded = true
	if s.cfg.Services.RestAPI == nil {
		s.loadErr = svcerrors.Config("Services.restapi is not configured")
		return
	}
	if s.cfg.Services.RestAPI.SecretKey == "" {
		s.loadErr = svcerrors.Config("Services.restapi.secret_key is not configured")
		return
	}
	if s.cfg.Services.RestAPI.Algorithm == "" {
		s.loadErr = svcerrors.Config("Services.restapi.algorithm is not configured")
		return
	}
	s.secretKey = s.cfg.Services.RestAPI.SecretKey
	s.algorithm = s.cfg.Services.RestAPI.Algorithm
}

func (s *secretSource) SecretKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.load()
	}
	if s.loadErr != nil {
		return "", s.loadErr
	}
	return s.secretKey, nil
}

func (s *secretSource) Algorithm() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.load()
	}
	if s.loadErr != nil {
		return "", s.loadErr
	}
	return s.algorithm, nil
}

// Reload invalidates the cached secret/algorithm.
func (s *secretSource) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.secretKey = ""
	s.algorithm = ""
	s.loadErr = nil
}
