package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env            string
	ServiceName    string
	ServiceVersion string

	DatabaseURL string

	RedisURL string

	// TenantID is the tenant this deployment assesses.
	TenantID string

	AuthJWTSecret string
	AuthIssuer    string

	// ProgressWebhookURL receives run status updates when set.
	ProgressWebhookURL   string
	ProgressWebhookToken string

	OtelExporterOTLPEndpoint string
	OtelExporterOTLPHeaders  string
	SentryDSN                string

	Port string

	Assessment AssessmentConfig
}

// AssessmentConfig tunes how runs execute. It comes from the assessment
// section of config.yaml.
type AssessmentConfig struct {
	MaxConcurrentChecks int      `yaml:"max_concurrent_checks"`
	CheckTimeoutSeconds int      `yaml:"check_timeout_seconds"`
	CacheTTLSeconds     int      `yaml:"cache_ttl_seconds"`
	RetentionDays       int      `yaml:"retention_days"`
	Schedule            string   `yaml:"schedule"` // cron spec; empty disables scheduled runs
	Checks              []string `yaml:"checks"`   // checks for scheduled runs; empty means heartbeat only
}

// CheckTimeout returns the per-wave check deadline.
func (a *AssessmentConfig) CheckTimeout() time.Duration {
	return time.Duration(a.CheckTimeoutSeconds) * time.Second
}

// CacheTTL returns the default lifetime for cached backend lookups.
func (a *AssessmentConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLSeconds) * time.Second
}

// OTLPHeaders parses OTEL_EXPORTER_OTLP_HEADERS ("key=value,key2=value2")
// into the header map the exporters take. Returns nil when unset.
func (c *Config) OTLPHeaders() map[string]string {
	if c.OtelExporterOTLPHeaders == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(c.OtelExporterOTLPHeaders, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                      os.Getenv("ENV"),
		ServiceName:              os.Getenv("SERVICE_NAME"),
		ServiceVersion:           os.Getenv("SERVICE_VERSION"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisURL:                 os.Getenv("REDIS_URL"),
		TenantID:                 os.Getenv("TENANT_ID"),
		AuthJWTSecret:            os.Getenv("AUTH_JWT_SECRET"),
		AuthIssuer:               os.Getenv("AUTH_ISSUER"),
		ProgressWebhookURL:       os.Getenv("PROGRESS_WEBHOOK_URL"),
		ProgressWebhookToken:     os.Getenv("PROGRESS_WEBHOOK_TOKEN"),
		OtelExporterOTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OtelExporterOTLPHeaders:  os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		SentryDSN:                os.Getenv("SENTRY_DSN"),
		Port:                     os.Getenv("PORT"),
	}

	// Load from YAML file if available
	if err := cfg.LoadFromYAML("config.yaml"); err != nil {
		return nil, fmt.Errorf("failed to load YAML config: %w", err)
	}

	// Set defaults
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "argus"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "1.0.0"
	}
	if cfg.AuthIssuer == "" {
		cfg.AuthIssuer = "argus"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.SetAssessmentDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func (c *Config) LoadFromYAML(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is not an error
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlConfig struct {
		Assessment AssessmentConfig `yaml:"assessment"`
	}

	if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Only set values actually present in the file; zero values keep
	// whatever was configured before.
	if yamlConfig.Assessment.MaxConcurrentChecks > 0 {
		c.Assessment.MaxConcurrentChecks = yamlConfig.Assessment.MaxConcurrentChecks
	}
	if yamlConfig.Assessment.CheckTimeoutSeconds > 0 {
		c.Assessment.CheckTimeoutSeconds = yamlConfig.Assessment.CheckTimeoutSeconds
	}
	if yamlConfig.Assessment.CacheTTLSeconds > 0 {
		c.Assessment.CacheTTLSeconds = yamlConfig.Assessment.CacheTTLSeconds
	}
	if yamlConfig.Assessment.RetentionDays > 0 {
		c.Assessment.RetentionDays = yamlConfig.Assessment.RetentionDays
	}
	if yamlConfig.Assessment.Schedule != "" {
		c.Assessment.Schedule = yamlConfig.Assessment.Schedule
	}
	if len(yamlConfig.Assessment.Checks) > 0 {
		c.Assessment.Checks = yamlConfig.Assessment.Checks
	}

	return nil
}

func (c *Config) SetAssessmentDefaults() {
	if c.Assessment.MaxConcurrentChecks == 0 {
		c.Assessment.MaxConcurrentChecks = 4
	}
	if c.Assessment.CheckTimeoutSeconds == 0 {
		c.Assessment.CheckTimeoutSeconds = 120
	}
	if c.Assessment.CacheTTLSeconds == 0 {
		c.Assessment.CacheTTLSeconds = 300
	}
	if c.Assessment.RetentionDays == 0 {
		c.Assessment.RetentionDays = 30
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("TENANT_ID is required")
	}
	if c.Assessment.MaxConcurrentChecks < 0 {
		return fmt.Errorf("assessment.max_concurrent_checks must be positive")
	}
	return nil
}
