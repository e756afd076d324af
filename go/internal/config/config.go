// Package config loads the service configuration: quiz rules and thresholds
// from a YAML file, secrets and connection settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/quizpot/go/internal/fraud"
	"github.com/mcdev12/quizpot/go/internal/gateway"
	"github.com/mcdev12/quizpot/go/internal/outbox"
	"github.com/mcdev12/quizpot/go/internal/payment"
	"github.com/mcdev12/quizpot/go/internal/settlement"
	"github.com/mcdev12/quizpot/go/internal/timing"
)

const defaultPath = "config.yaml"

type Config struct {
	Fraud      fraud.Config             `yaml:"fraud"`
	Timing     timing.Config            `yaml:"timing"`
	Settlement settlement.Config        `yaml:"settlement"`
	Payment    payment.Config           `yaml:"payment"`
	Gateway    gateway.ConnectionConfig `yaml:"gateway"`
	JetStream  outbox.JetStreamConfig   `yaml:"jetstream"`

	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	AdminToken string `yaml:"-"`
}

type ProviderConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"-"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		Fraud:      fraud.DefaultConfig(),
		Timing:     timing.DefaultConfig(),
		Settlement: settlement.DefaultConfig(),
		Payment:    payment.DefaultConfig(),
		Gateway:    gateway.DefaultConnectionConfig(),
		JetStream:  outbox.DefaultJetStreamConfig(),
		Server:     ServerConfig{Port: "8080"},
		LogLevel:   "info",
	}
}

// Load reads .env if present, then the YAML file at CONFIG_PATH (default
// config.yaml) over the defaults, then environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	return LoadFile(path)
}

// LoadFile is Load without the .env step. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.Settlement.QuestionTimeLimit = cfg.Timing.QuestionTimeLimit
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Payment.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	c.Server.AdminToken = os.Getenv("ADMIN_TOKEN")
	c.Provider.APIKey = os.Getenv("PAYMENT_PROVIDER_API_KEY")

	if v := os.Getenv("PAYMENT_PROVIDER_URL"); v != "" {
		c.Provider.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.JetStream.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WEBHOOK_ALLOWED_CIDRS"); v != "" {
		c.Payment.AllowedCIDRs = strings.Split(v, ",")
	}
}

// Validate rejects settings that would break settlement or retries.
func (c Config) Validate() error {
	var errs []error
	if c.Timing.QuestionTimeLimit <= 0 {
		errs = append(errs, errors.New("timing.question_time_limit must be positive"))
	}
	if c.Timing.SweepInterval <= 0 {
		errs = append(errs, errors.New("timing.sweep_interval must be positive"))
	}
	if c.Settlement.DurationTolerance < 0 {
		errs = append(errs, errors.New("settlement.duration_tolerance must not be negative"))
	}
	if c.Settlement.QuestionTimeLimit != c.Timing.QuestionTimeLimit {
		errs = append(errs, fmt.Errorf("settlement question time limit %s differs from timing.question_time_limit %s",
			c.Settlement.QuestionTimeLimit, c.Timing.QuestionTimeLimit))
	}
	if c.Payment.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("payment.retry.max_attempts must be at least 1"))
	}
	if c.Payment.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("payment.retry.base_delay must be positive"))
	}
	if c.Payment.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("payment.max_body_bytes must be positive"))
	}
	if c.Fraud.Threshold <= 0 {
		errs = append(errs, errors.New("fraud.threshold must be positive"))
	}
	if _, err := payment.NewAllowList(c.Payment.AllowedCIDRs); err != nil {
		errs = append(errs, err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SetupLogging points the global zerolog logger at a console writer on
// stderr with the configured level.
func (c Config) SetupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
