package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the auth backend.
// Tags use mapstructure for Viper unmarshalling; every key can also be set
// through the environment (dots replaced by underscores).
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	MongoURI        string `mapstructure:"MONGO_URI"`
	MongoDBName     string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	JWTSecretKey        string `mapstructure:"JWT_SECRET_KEY"`
	JWTIssuer           string `mapstructure:"JWT_ISSUER"`
	AccessTokenTTLMin   int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour int    `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`
	ResetTicketTTLMin   int    `mapstructure:"RESET_TICKET_TTL_MIN"`
	BcryptCost          int    `mapstructure:"BCRYPT_COST"`

	// RefreshReuseRevokesAll controls the replay policy: when a revoked
	// refresh token is presented again, revoke every session of the account
	// instead of only rejecting the request.
	RefreshReuseRevokesAll bool `mapstructure:"REFRESH_REUSE_REVOKES_ALL"`

	GoogleClientID string `mapstructure:"GOOGLE_CLIENT_ID"`
	AppleClientID  string `mapstructure:"APPLE_CLIENT_ID"`

	RateLimitEnabled bool `mapstructure:"RATE_LIMIT_ENABLED"`
}

// AccessTokenTTL returns the configured access token lifetime.
func (c *ServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (c *ServerConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHour) * time.Hour
}

// ResetTicketTTL returns the configured password-reset ticket lifetime.
func (c *ServerConfig) ResetTicketTTL() time.Duration {
	return time.Duration(c.ResetTicketTTLMin) * time.Minute
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mealtrace/")
	v.AddConfigPath("$HOME/.mealtrace")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/mealtrace_dev")
	v.SetDefault("MONGO_DB_NAME", "mealtrace_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "mealtrace-auth")
	v.SetDefault("JWT_SECRET_KEY", "a_very_secret_jwt_key_change_me") // CHANGE IN PRODUCTION
	v.SetDefault("JWT_ISSUER", "mealtrace")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 720) // 30 days
	v.SetDefault("RESET_TICKET_TTL_MIN", 30)
	v.SetDefault("BCRYPT_COST", 0) // 0 means the bcrypt default
	v.SetDefault("REFRESH_REUSE_REVOKES_ALL", false)
	v.SetDefault("RATE_LIMIT_ENABLED", true)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, we run on defaults and env vars.
		// Anything else (malformed yaml, permissions) is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
