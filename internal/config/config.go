// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL   string `koanf:"database_url"`
	MigrationsDir string `koanf:"migrations_dir"`
	AutoMigrate   bool   `koanf:"auto_migrate"`

	// JWT Authentication
	JWTSecret        string `koanf:"jwt_secret"`
	JWTExpiryMinutes int    `koanf:"jwt_expiry_minutes"`

	// Password hashing
	BcryptCost int `koanf:"bcrypt_cost"`

	// Rate limiting (requests per minute per client)
	IngestRateLimit int `koanf:"ingest_rate_limit"`
	LoginRateLimit  int `koanf:"login_rate_limit"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrPortOutOfRange     = errors.New("PORT must be between 1 and 65535")
)

// Default values for non-secret configuration.
const (
	DefaultPort             = 8080
	DefaultEnv              = "development"
	DefaultJWTExpiryMinutes = 60
	DefaultBcryptCost       = 12
	DefaultIngestRateLimit  = 600
	DefaultLoginRateLimit   = 30
	DefaultMigrationsDir    = "migrations"
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try TRUSTPIPE_PORT first, then PORT for platform compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"TRUSTPIPE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	jwtExpiry, expiryErr := getEnvIntOrDefault("JWT_EXPIRY_MINUTES", k.Int("jwt_expiry_minutes"), DefaultJWTExpiryMinutes)
	if expiryErr != nil {
		loadErrs = append(loadErrs, expiryErr)
	}
	bcryptCost, costErr := getEnvIntOrDefault("BCRYPT_COST", k.Int("bcrypt_cost"), DefaultBcryptCost)
	if costErr != nil {
		loadErrs = append(loadErrs, costErr)
	}
	ingestLimit, ingestErr := getEnvIntOrDefault("INGEST_RATE_LIMIT", k.Int("ingest_rate_limit"), DefaultIngestRateLimit)
	if ingestErr != nil {
		loadErrs = append(loadErrs, ingestErr)
	}
	loginLimit, loginErr := getEnvIntOrDefault("LOGIN_RATE_LIMIT", k.Int("login_rate_limit"), DefaultLoginRateLimit)
	if loginErr != nil {
		loadErrs = append(loadErrs, loginErr)
	}

	autoMigrate := false
	if k.Exists("auto_migrate") {
		autoMigrate = k.Bool("auto_migrate")
	}
	if val := os.Getenv("AUTO_MIGRATE"); val != "" {
		// Env var takes precedence over file config
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			autoMigrate = true
		case "false", "0", "no", "off":
			autoMigrate = false
		}
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:             port,
		Env:              getEnvOrDefaultMulti([]string{"TRUSTPIPE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:      getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		MigrationsDir:    getEnvOrDefault("MIGRATIONS_DIR", k.String("migrations_dir"), DefaultMigrationsDir),
		AutoMigrate:      autoMigrate,
		JWTSecret:        getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTExpiryMinutes: jwtExpiry,
		BcryptCost:       bcryptCost,
		IngestRateLimit:  ingestLimit,
		LoginRateLimit:   loginLimit,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrPortOutOfRange)
	}

	return errs
}

// IsProduction reports whether the server runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":               fmt.Sprintf("%d", c.Port),
		"env":                c.Env,
		"database_url":       maskDatabaseURL(c.DatabaseURL),
		"migrations_dir":     c.MigrationsDir,
		"auto_migrate":       fmt.Sprintf("%t", c.AutoMigrate),
		"jwt_secret":         maskSecret(c.JWTSecret),
		"jwt_expiry_minutes": fmt.Sprintf("%d", c.JWTExpiryMinutes),
		"bcrypt_cost":        fmt.Sprintf("%d", c.BcryptCost),
		"ingest_rate_limit":  fmt.Sprintf("%d", c.IngestRateLimit),
		"login_rate_limit":   fmt.Sprintf("%d", c.LoginRateLimit),
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
