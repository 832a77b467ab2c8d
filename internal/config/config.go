// Package config loads service configuration from a YAML/.env file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// MinSecretLen is the minimum accepted signing secret length in bytes.
const MinSecretLen = 32

// Config is the full service configuration.
type Config struct {
	Env       string    `yaml:"env" env:"OGF_ENV" env-default:"local"`
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Database  Database  `yaml:"database"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Redis     Redis     `yaml:"redis"`
	Log       Log       `yaml:"log"`
}

type HTTP struct {
	Addr           string        `yaml:"addr" env:"OGF_HTTP_ADDR" env-default:":8000"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"OGF_HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"OGF_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"OGF_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"OGF_HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	RatePerSecond  float64       `yaml:"rate_per_second" env:"OGF_HTTP_RATE_PER_SECOND" env-default:"20"`
	RateBurst      int           `yaml:"rate_burst" env:"OGF_HTTP_RATE_BURST" env-default:"40"`
	TrustForwarded bool          `yaml:"trust_forwarded" env:"OGF_HTTP_TRUST_FORWARDED" env-default:"false"`
}

type GRPC struct {
	// HealthAddr enables the gRPC health listener when non-empty.
	HealthAddr string `yaml:"health_addr" env:"OGF_GRPC_HEALTH_ADDR"`
}

type Database struct {
	// URL is a postgres:// DSN or sqlite://<path>.
	URL       string `yaml:"url" env:"OGF_DATABASE_URL" env-default:"sqlite://opengovfood.db"`
	Isolation string `yaml:"isolation" env:"OGF_DB_ISOLATION" env-default:"read committed"`
}

type Auth struct {
	SecretKey                string        `yaml:"secret_key" env:"OGF_SECRET_KEY"`
	Issuer                   string        `yaml:"issuer" env:"OGF_TOKEN_ISSUER" env-default:"opengovfood"`
	AccessTokenExpireMinutes int           `yaml:"access_token_expire_minutes" env:"OGF_ACCESS_TOKEN_EXPIRE_MINUTES" env-default:"60"`
	Leeway                   time.Duration `yaml:"leeway" env:"OGF_TOKEN_LEEWAY" env-default:"0s"`
	PasswordHashAlgo         string        `yaml:"password_hash_algo" env:"OGF_PASSWORD_HASH_ALGO" env-default:"argon2id"`
	PasswordHashCost         int           `yaml:"password_hash_cost" env:"OGF_PASSWORD_HASH_COST" env-default:"0"`
	OpenRegistration         bool          `yaml:"open_registration" env:"OGF_OPEN_REGISTRATION" env-default:"true"`
}

type RateLimit struct {
	Backend   string        `yaml:"backend" env:"OGF_RATE_LIMIT_BACKEND" env-default:"memory"`
	Threshold int           `yaml:"threshold" env:"OGF_RATE_LIMIT_THRESHOLD" env-default:"5"`
	Window    time.Duration `yaml:"window" env:"OGF_RATE_LIMIT_WINDOW" env-default:"1m"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"OGF_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"OGF_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"OGF_REDIS_DB" env-default:"0"`
}

type Log struct {
	Level  string `yaml:"level" env:"OGF_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"OGF_LOG_FORMAT" env-default:"json"`
}

// Load reads path (YAML or .env) when given, otherwise only the environment. Environment variables
// override file values. The result is validated.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces cross-field invariants.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.SecretKey) < MinSecretLen {
		errs = append(errs, fmt.Errorf("OGF_SECRET_KEY must be at least %d bytes", MinSecretLen))
	}
	if c.Auth.AccessTokenExpireMinutes <= 0 {
		errs = append(errs, errors.New("OGF_ACCESS_TOKEN_EXPIRE_MINUTES must be positive"))
	}
	if c.Auth.Leeway < 0 {
		errs = append(errs, errors.New("OGF_TOKEN_LEEWAY must not be negative"))
	}
	switch c.Auth.PasswordHashAlgo {
	case "argon2id", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("unknown OGF_PASSWORD_HASH_ALGO %q", c.Auth.PasswordHashAlgo))
	}
	if c.RateLimit.Threshold <= 0 {
		errs = append(errs, errors.New("OGF_RATE_LIMIT_THRESHOLD must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("OGF_RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	case "postgres":
		if kind, _ := c.Database.Kind(); kind != "postgres" {
			errs = append(errs, errors.New("rate limit backend postgres requires a postgres database"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OGF_RATE_LIMIT_BACKEND %q", c.RateLimit.Backend))
	}
	if _, _, err := c.Database.parse(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("OGF_HTTP_MAX_BODY_BYTES must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// TokenTTL returns the access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenExpireMinutes) * time.Minute
}

// Kind returns "postgres" or "sqlite" and the driver-specific target (DSN or file path).
func (d Database) Kind() (string, string) {
	kind, target, _ := d.parse()
	return kind, target
}

func (d Database) parse() (string, string, error) {
	u := strings.TrimSpace(d.URL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return "postgres", u, nil
	case strings.HasPrefix(u, "sqlite://"):
		p := strings.TrimPrefix(u, "sqlite://")
		if p == "" {
			return "", "", errors.New("OGF_DATABASE_URL: empty sqlite path")
		}
		return "sqlite", p, nil
	default:
		return "", "", fmt.Errorf("OGF_DATABASE_URL: unsupported scheme in %q", redact(u))
	}
}

// redact hides credentials in a URL-ish string.
func redact(s string) string {
	if at := strings.LastIndex(s, "@"); at >= 0 {
		if i := strings.Index(s, "://"); i >= 0 && i < at {
			return s[:i+3] + "***" + s[at:]
		}
	}
	return s
}
