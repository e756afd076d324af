package dbconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns    int32
	LockTimeout time.Duration
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	maxConns, err := strconv.Atoi(getEnv("DB_MAX_CONNS", "20"))
	if err != nil {
		maxConns = 20
	}
	lockTimeout, err := time.ParseDuration(getEnv("DB_LOCK_TIMEOUT", "2s"))
	if err != nil {
		lockTimeout = 2 * time.Second
	}

	return Config{
		Host:        getEnv("DB_HOST", "localhost"),
		Port:        port,
		User:        getEnv("DB_USER", "postgres"),
		Password:    getEnv("DB_PASSWORD", "postgres"),
		Database:    getEnv("DB_NAME", "quizpot"),
		SSLMode:     getEnv("DB_SSLMODE", "disable"),
		MaxConns:    int32(maxConns),
		LockTimeout: lockTimeout,
	}
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// PoolDSN is DSN with pgxpool sizing appended.
func (c Config) PoolDSN() string {
	if c.MaxConns <= 0 {
		return c.DSN()
	}
	return fmt.Sprintf("%s&pool_max_conns=%d", c.DSN(), c.MaxConns)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
