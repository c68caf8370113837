// Package config provides configuration parsing for the sentinel.
//
// It handles command-line flags with environment variable fallbacks
// (flags win), plus an optional YAML service file for monitoring several
// services from one process. The Config struct covers:
//   - HTTP listen address and logging (level, format)
//   - Snapshot storage backend (memory or redis) and Redis settings
//   - Single-service mode: service name, adapter kind, adapter config
//     from ADAPTER_* environment variables and per-signal queries from
//     SIGNAL_* environment variables
//   - Multi-service mode via -config-file
//
// The detector thresholds and tuner guardrails are deliberately not
// configurable here: they are the conformance-tested reference constants
// owned by pkg/anomaly and pkg/tuning.
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OverLab-Group/olwsx-sentinel/pkg/adapters"
)

// AdapterPush names the pseudo-adapter for services fed exclusively
// through the POST /ingest API instead of a poll loop.
const AdapterPush = "push"

var serviceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// Config holds all sentinel configuration.
type Config struct {
	Listen    string
	LogLevel  string
	LogFormat string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	ConfigFile string

	// Single-service mode fields, ignored when ConfigFile is set.
	Service       string
	Adapter       string
	AdapterConfig map[string]string
	Signals       map[string]string
	Interval      time.Duration
	AutoApply     bool
}

// ServiceConfig describes one monitored service: its metric source and
// loop settings. Each service gets its own detector/tuner pair.
type ServiceConfig struct {
	Name          string            `yaml:"name"`
	Adapter       string            `yaml:"adapter"`
	AdapterConfig map[string]string `yaml:"adapterConfig"`
	Signals       map[string]string `yaml:"signals"`
	Interval      Duration          `yaml:"interval"`
	AutoApply     *bool             `yaml:"autoApply"`
}

// Duration wraps time.Duration with YAML decoding of strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ParseFlags parses command-line flags with environment variable
// fallbacks into a Config.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8082"), "HTTP listen address")

	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Snapshot storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 5*time.Minute), "Redis snapshot TTL")

	flag.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "YAML service file for multi-service mode")

	flag.StringVar(&cfg.Service, "service", getEnv("SERVICE", ""), "Service name (required in single-service mode)")
	flag.StringVar(&cfg.Adapter, "adapter", getEnv("ADAPTER", ""), "Adapter kind: prometheus, victoriametrics, http, or push")
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 10*time.Second), "Monitoring interval")
	flag.BoolVar(&cfg.AutoApply, "auto-apply", getEnvBool("AUTO_APPLY", true), "Apply recommendations to the local desired state")

	flag.Parse()

	cfg.AdapterConfig = envMap("ADAPTER_", camelKey)
	cfg.Signals = envMap("SIGNAL_", strings.ToLower)

	return cfg
}

// LoadServices resolves the monitored services from the config file if
// one is set, otherwise from the single-service flags. Every service is
// validated and defaulted.
func LoadServices(cfg *Config) ([]ServiceConfig, error) {
	var services []ServiceConfig

	if cfg.ConfigFile != "" {
		data, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var file struct {
			Services []ServiceConfig `yaml:"services"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		services = file.Services
	} else {
		autoApply := cfg.AutoApply
		services = []ServiceConfig{{
			Name:          cfg.Service,
			Adapter:       cfg.Adapter,
			AdapterConfig: cfg.AdapterConfig,
			Signals:       cfg.Signals,
			Interval:      Duration(cfg.Interval),
			AutoApply:     &autoApply,
		}}
	}

	if len(services) == 0 {
		return nil, fmt.Errorf("no services configured")
	}

	seen := make(map[string]bool, len(services))
	for i := range services {
		if err := validateService(&services[i], i); err != nil {
			return nil, err
		}
		if seen[services[i].Name] {
			return nil, fmt.Errorf("duplicate service name %q", services[i].Name)
		}
		seen[services[i].Name] = true
	}

	return services, nil
}

// Apply reports the effective auto-apply setting (default true).
func (s *ServiceConfig) Apply() bool {
	return s.AutoApply == nil || *s.AutoApply
}

func validateService(s *ServiceConfig, index int) error {
	if s.Name == "" {
		return fmt.Errorf("service[%d]: name cannot be empty", index)
	}
	if !serviceNameRegex.MatchString(s.Name) {
		return fmt.Errorf("service[%d]: invalid name %q (must be alphanumeric with dash/underscore, 1-253 chars)", index, s.Name)
	}

	if s.Adapter == "" {
		return fmt.Errorf("service %q: adapter cannot be empty", s.Name)
	}

	if s.Interval <= 0 {
		s.Interval = Duration(10 * time.Second)
	}

	if s.Adapter == AdapterPush {
		return nil
	}

	for _, signal := range adapters.RequiredSignals() {
		if s.Signals[signal] == "" {
			return fmt.Errorf("service %q: signal %q is not configured", s.Name, signal)
		}
	}
	return nil
}

// envMap collects environment variables with the given prefix into a
// map, transforming the stripped key with keyFn.
func envMap(prefix string, keyFn func(string) string) map[string]string {
	out := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		key, value, ok := strings.Cut(env[len(prefix):], "=")
		if !ok || key == "" {
			continue
		}
		out[keyFn(key)] = value
	}
	return out
}

// camelKey converts SNAKE_CASE environment suffixes to camelCase config
// keys (BEARER_TOKEN -> bearerToken).
func camelKey(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
