// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds configuration shared by the clinic binaries.
type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"`
	KafkaBrokers       []string      `mapstructure:"-"`
	OTLPEndpoint       string        `mapstructure:"OTLP_ENDPOINT"`
	TracingEnabled     bool          `mapstructure:"TRACING_ENABLED"`
	TraceSampleRate    float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	SessionSecret      string        `mapstructure:"SESSION_SECRET"`
	CORSOrigin         string        `mapstructure:"CORS_ORIGIN"`
	PharmacyWebhookURL string        `mapstructure:"PHARMACY_WEBHOOK_URL"`
	DispatchWorkers    int           `mapstructure:"DISPATCH_WORKERS"`
	DispatchTimeout    time.Duration `mapstructure:"DISPATCH_TIMEOUT"`
	Currency           string        `mapstructure:"CURRENCY"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MIGRATIONS_DIR", "KAFKA_BROKERS", "OTLP_ENDPOINT", "TRACING_ENABLED",
	"TRACE_SAMPLE_RATE", "SESSION_SECRET", "CORS_ORIGIN",
	"PHARMACY_WEBHOOK_URL", "DISPATCH_WORKERS", "DISPATCH_TIMEOUT", "CURRENCY",
}

// Load reads the configuration. DATABASE_URL is required.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("CORS_ORIGIN", "*")
	v.SetDefault("DISPATCH_WORKERS", 4)
	v.SetDefault("DISPATCH_TIMEOUT", "10s")
	v.SetDefault("CURRENCY", "USD")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDev reports whether ENV=development.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks settings that only matter for a running server.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes outside development (ENV=%q)", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0,1], got %v", c.TraceSampleRate)
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.DispatchWorkers)
	}
	return nil
}
