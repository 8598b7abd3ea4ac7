package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	envPrefix       = "SEIJIWATCH"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database DatabaseConfig    `yaml:"database"`
	Sources  SourcesConfig     `yaml:"sources"`
	Ingest   IngestConfig      `yaml:"ingest"`
	Detector DetectorConfig    `yaml:"detector"`
	Digest   DigestConfig      `yaml:"digest"`
	Delivery DeliveryConfig    `yaml:"delivery"`
	Tokens   TokenConfig       `yaml:"tokens"`
	Logging  LoggingConfig     `yaml:"logging"`
	Members  []MemberConfig    `yaml:"members"`
	Labels   map[string]string `yaml:"labels"`
}

// DatabaseConfig describes the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"DATABASE_PATH"`
}

// SourcesConfig groups the two upstream source pairs.
type SourcesConfig struct {
	Minutes    SourceConfig `yaml:"minutes"`
	Transcript SourceConfig `yaml:"transcript"`
}

// SourceConfig describes one upstream endpoint plus its connector limits.
type SourceConfig struct {
	BaseURL   string          `yaml:"baseUrl"`
	PageSize  int             `yaml:"pageSize"`
	Connector ConnectorConfig `yaml:"connector"`
}

// ConnectorConfig carries per-connector rate, retry and breaker settings as
// named fields.
type ConnectorConfig struct {
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int64         `yaml:"burst"`
	MaxRetries        int           `yaml:"maxRetries"`
	BackoffBase       time.Duration `yaml:"backoffBase"`
	BackoffMax        time.Duration `yaml:"backoffMax"`
	CircuitThreshold  int           `yaml:"circuitThreshold"`
	CircuitCooldown   time.Duration `yaml:"circuitCooldown"`
}

// IngestConfig defines routing between the two sources. Ranges at or before
// the cutover date go to the minutes source, later ranges to the transcript
// source.
type IngestConfig struct {
	CutoverDate string `yaml:"cutoverDate"`
	Timezone    string `yaml:"timezone"`
}

// Cutover parses the configured boundary in the configured timezone.
func (c IngestConfig) Cutover() (time.Time, error) {
	tz := c.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("ingest timezone %q: %w", tz, err)
	}
	t, err := time.ParseInLocation("2006-01-02", c.CutoverDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("cutover date %q: %w", c.CutoverDate, err)
	}
	return t, nil
}

// DetectorConfig defines how often change detection polls.
type DetectorConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
}

// DigestConfig defines the aggregation window.
type DigestConfig struct {
	Window time.Duration `yaml:"window"`
}

// DeliveryConfig wires the external delivery collaborator.
type DeliveryConfig struct {
	Endpoint          string  `yaml:"endpoint" envconfig:"DELIVERY_ENDPOINT"`
	APIKey            string  `yaml:"apiKey" envconfig:"DELIVERY_API_KEY"`
	MessagesPerMinute float64 `yaml:"messagesPerMinute"`
	Burst             int64   `yaml:"burst"`
}

// TokenConfig defines confirmation/unsubscribe token signing.
type TokenConfig struct {
	SigningKey string        `yaml:"signingKey" envconfig:"TOKEN_SIGNING_KEY"`
	TTL        time.Duration `yaml:"ttl"`
	BaseURL    string        `yaml:"baseUrl"`
}

// LoggingConfig controls the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MemberConfig is one row of the member directory used for speaker
// resolution.
type MemberConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Party string `yaml:"party"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides for secrets and endpoints.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg.Database); err != nil {
		return Config{}, fmt.Errorf("database env overrides: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg.Delivery); err != nil {
		return Config{}, fmt.Errorf("delivery env overrides: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg.Tokens); err != nil {
		return Config{}, fmt.Errorf("token env overrides: %w", err)
	}

	return cfg, nil
}

func defaultConnector(rps float64) ConnectorConfig {
	return ConnectorConfig{
		RequestsPerSecond: rps,
		Burst:             1,
		MaxRetries:        4,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
		CircuitThreshold:  5,
		CircuitCooldown:   2 * time.Minute,
	}
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "seijiwatch.db"},
		Sources: SourcesConfig{
			Minutes: SourceConfig{
				BaseURL:   "https://kokkai.ndl.go.jp/api/speech",
				PageSize:  100,
				Connector: defaultConnector(3),
			},
			Transcript: SourceConfig{
				BaseURL:   "http://localhost:8090/transcripts",
				PageSize:  200,
				Connector: defaultConnector(10),
			},
		},
		Ingest:   IngestConfig{CutoverDate: "2025-04-01", Timezone: "Asia/Tokyo"},
		Detector: DetectorConfig{PollInterval: 15 * time.Minute},
		Digest:   DigestConfig{Window: 24 * time.Hour},
		Delivery: DeliveryConfig{
			Endpoint:          "http://localhost:8091/send",
			MessagesPerMinute: 100,
			Burst:             5,
		},
		Tokens: TokenConfig{
			TTL:     72 * time.Hour,
			BaseURL: "http://localhost:8080",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
