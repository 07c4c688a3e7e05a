// Package config loads the gateway configuration from environment variables
// (prefix RELAY_) and an optional relay.yaml file. The resulting Config is
// read-only after startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the gateway process.
type Config struct {
	Debug bool

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBPoolMin  int
	DBPoolMax  int

	// Policy evaluator
	OPAURL        string
	PolicyPath    string
	PolicyVersion string // fallback when the evaluator's metadata is unreachable
	PolicyTimeout time.Duration

	// Cryptography
	PrivateKey string // base64 Ed25519 signing key
	SealTTL    time.Duration

	// Auth
	JWTSecret    string
	JWTExpiry    time.Duration
	AuthRequired bool

	// API
	APIHost      string
	APIPort      int
	CORSOrigins  []string
	RateLimitRPS int
}

// Load reads configuration with viper. Defaults cover local development;
// RELAY_PRIVATE_KEY and RELAY_JWT_SECRET have no defaults and are validated
// by the caller before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("relay")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("debug", false)
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "relay")
	v.SetDefault("db_user", "relay")
	v.SetDefault("db_password", "relay_password")
	v.SetDefault("db_pool_min", 2)
	v.SetDefault("db_pool_max", 10)
	v.SetDefault("opa_url", "http://localhost:8181")
	v.SetDefault("policy_path", "relay/policies/main")
	v.SetDefault("policy_version", "v1.0.0")
	v.SetDefault("policy_timeout_seconds", 5)
	v.SetDefault("private_key", "")
	v.SetDefault("seal_ttl_minutes", 5)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_expiry_hours", 1)
	v.SetDefault("auth_required", false)
	v.SetDefault("api_host", "0.0.0.0")
	v.SetDefault("api_port", 8000)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("rate_limit_rps", 20)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file: env vars and defaults only.
	}

	return &Config{
		Debug:         v.GetBool("debug"),
		DBHost:        v.GetString("db_host"),
		DBPort:        v.GetInt("db_port"),
		DBName:        v.GetString("db_name"),
		DBUser:        v.GetString("db_user"),
		DBPassword:    v.GetString("db_password"),
		DBPoolMin:     v.GetInt("db_pool_min"),
		DBPoolMax:     v.GetInt("db_pool_max"),
		OPAURL:        v.GetString("opa_url"),
		PolicyPath:    v.GetString("policy_path"),
		PolicyVersion: v.GetString("policy_version"),
		PolicyTimeout: time.Duration(v.GetInt("policy_timeout_seconds")) * time.Second,
		PrivateKey:    v.GetString("private_key"),
		SealTTL:       time.Duration(v.GetInt("seal_ttl_minutes")) * time.Minute,
		JWTSecret:     v.GetString("jwt_secret"),
		JWTExpiry:     time.Duration(v.GetInt("jwt_expiry_hours")) * time.Hour,
		AuthRequired:  v.GetBool("auth_required"),
		APIHost:       v.GetString("api_host"),
		APIPort:       v.GetInt("api_port"),
		CORSOrigins:   v.GetStringSlice("cors_origins"),
		RateLimitRPS:  v.GetInt("rate_limit_rps"),
	}, nil
}

// DatabaseURL builds the PostgreSQL connection string, including pool sizing
// understood by pgxpool.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?pool_min_conns=%d&pool_max_conns=%d",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBPoolMin, c.DBPoolMax,
	)
}

// Validate checks the fatal startup requirements: the signing key and the
// JWT secret must be present before the gateway will serve.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("RELAY_PRIVATE_KEY is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("RELAY_JWT_SECRET is required")
	}
	return nil
}
