package database

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from environment
// variables with validation and production-ready defaults. SUPABASE_DB_URL
// (a full postgres URL) takes precedence over the discrete DB_* vars.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		User:     getEnvOrDefault("DB_USER", "cvflow"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: getEnvOrDefault("DB_NAME", "cvflow"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}

	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.Port = port

	if raw := os.Getenv("SUPABASE_DB_URL"); raw != "" {
		if err := cfg.applyURL(raw); err != nil {
			return Config{}, fmt.Errorf("invalid SUPABASE_DB_URL: %w", err)
		}
	}

	cfg.MaxOpenConns, _ = strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	cfg.MaxIdleConns, _ = strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))

	cfg.ConnMaxLifetime, err = time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	cfg.ConnMaxIdleTime, err = time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DSN renders the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	return nil
}

func (c *Config) applyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	c.Host = u.Hostname()
	if p := u.Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			c.Port = port
		}
	}
	if u.User != nil {
		c.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.Password = pw
		}
	}
	if len(u.Path) > 1 {
		c.Database = u.Path[1:]
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.SSLMode = mode
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
