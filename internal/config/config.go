// Package config loads engine settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "EINVOICING"

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Log       logger.LogConfig
	Send      SendConfig
	Database  DatabaseConfig
	Chorus    ChorusConfig
	XRechnung XRechnungConfig
	AEAT      AEATConfig
	Signing   SigningConfig

	FacturXProfile model.Profile
}

type AppConfig struct {
	Env   string
	Debug bool
}

type HTTPConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

type SendConfig struct {
	Timeout time.Duration
	// Timeouts holds the per-jurisdiction overrides that were set
	Timeouts map[model.Country]time.Duration
	Retry    gateway.BackoffConfig
}

type DatabaseConfig struct {
	// DSN selects the PostgreSQL ledger; empty keeps submissions in memory
	DSN string
}

type ChorusConfig struct {
	Env     string
	BaseURL string
	Token   string
}

type XRechnungConfig struct {
	BaseURL string
	Token   string
}

type AEATConfig struct {
	Env     string
	BaseURL string
}

type SigningConfig struct {
	CertFile    string
	KeyFile     string
	TrustCAFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DEBUG", false)
	v.SetDefault("HTTP_ADDRESS", ":8080")
	v.SetDefault("HTTP_READ_TIMEOUT", "30s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "60s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_TIME_FORMAT", time.RFC3339)
	v.SetDefault("LOG_OUTPUT", "stderr")
	v.SetDefault("SEND_TIMEOUT", "30s")
	v.SetDefault("RETRY_MAX_RETRIES", 3)
	v.SetDefault("RETRY_INITIAL_DELAY", "200ms")
	v.SetDefault("RETRY_MAX_DELAY", "5s")
	v.SetDefault("RETRY_MULTIPLIER", 2.0)
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("CHORUS_PRO_ENV", "sandbox")
	v.SetDefault("CHORUS_PRO_BASE_URL", "")
	v.SetDefault("CHORUS_PRO_TOKEN", "")
	v.SetDefault("XRECHNUNG_BASE_URL", "")
	v.SetDefault("XRECHNUNG_TOKEN", "")
	v.SetDefault("AEAT_ENV", "test")
	v.SetDefault("AEAT_BASE_URL", "")
	v.SetDefault("SIGNING_CERT_FILE", "")
	v.SetDefault("SIGNING_KEY_FILE", "")
	v.SetDefault("TRUST_CA_FILE", "")
	v.SetDefault("FACTURX_PROFILE", string(model.ProfileEN16931))
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
}

// Load reads the given .env files (".env" when none are named), then the
// EINVOICING_* environment. Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	config := fromViper(v)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Default returns the built-in settings, ignoring the environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	config := &Config{
		App: AppConfig{
			Env:   v.GetString("APP_ENV"),
			Debug: v.GetBool("DEBUG"),
		},
		HTTP: HTTPConfig{
			Address:        v.GetString("HTTP_ADDRESS"),
			ReadTimeout:    v.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout:   v.GetDuration("HTTP_WRITE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			RateLimit:      v.GetFloat64("RATE_LIMIT_RPS"),
			RateBurst:      v.GetInt("RATE_LIMIT_BURST"),
		},
		Log: logger.LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			Format:     v.GetString("LOG_FORMAT"),
			TimeFormat: v.GetString("LOG_TIME_FORMAT"),
			Output:     v.GetString("LOG_OUTPUT"),
		},
		Send: SendConfig{
			Timeout:  v.GetDuration("SEND_TIMEOUT"),
			Timeouts: make(map[model.Country]time.Duration),
			Retry: gateway.BackoffConfig{
				InitialDelay: v.GetDuration("RETRY_INITIAL_DELAY"),
				MaxDelay:     v.GetDuration("RETRY_MAX_DELAY"),
				MaxRetries:   v.GetInt("RETRY_MAX_RETRIES"),
				Multiplier:   v.GetFloat64("RETRY_MULTIPLIER"),
			},
		},
		Database: DatabaseConfig{DSN: v.GetString("DATABASE_DSN")},
		Chorus: ChorusConfig{
			Env:     strings.ToLower(v.GetString("CHORUS_PRO_ENV")),
			BaseURL: v.GetString("CHORUS_PRO_BASE_URL"),
			Token:   v.GetString("CHORUS_PRO_TOKEN"),
		},
		XRechnung: XRechnungConfig{
			BaseURL: v.GetString("XRECHNUNG_BASE_URL"),
			Token:   v.GetString("XRECHNUNG_TOKEN"),
		},
		AEAT: AEATConfig{
			Env:     strings.ToLower(v.GetString("AEAT_ENV")),
			BaseURL: v.GetString("AEAT_BASE_URL"),
		},
		Signing: SigningConfig{
			CertFile:    v.GetString("SIGNING_CERT_FILE"),
			KeyFile:     v.GetString("SIGNING_KEY_FILE"),
			TrustCAFile: v.GetString("TRUST_CA_FILE"),
		},
		FacturXProfile: model.Profile(strings.ToUpper(v.GetString("FACTURX_PROFILE"))),
	}

	for _, c := range model.Countries() {
		key := "SEND_TIMEOUT_" + string(c)
		if v.IsSet(key) {
			config.Send.Timeouts[c] = v.GetDuration(key)
		}
	}
	return config
}

// Validate checks settings assembled outside Load
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	if c.Send.Timeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	for country, d := range c.Send.Timeouts {
		if d <= 0 {
			return fmt.Errorf("SEND_TIMEOUT_%s must be positive", country)
		}
	}
	if c.Send.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative")
	}
	if c.Send.Retry.Multiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be at least 1")
	}
	if c.Send.Retry.InitialDelay > c.Send.Retry.MaxDelay {
		return fmt.Errorf("RETRY_INITIAL_DELAY exceeds RETRY_MAX_DELAY")
	}
	if c.Chorus.Env != "sandbox" && c.Chorus.Env != "production" {
		return fmt.Errorf("CHORUS_PRO_ENV must be sandbox or production, got %q", c.Chorus.Env)
	}
	if c.AEAT.Env != "test" && c.AEAT.Env != "production" {
		return fmt.Errorf("AEAT_ENV must be test or production, got %q", c.AEAT.Env)
	}
	if !c.FacturXProfile.Valid() || c.FacturXProfile == model.ProfileXRechnung {
		return fmt.Errorf("FACTURX_PROFILE %q is not a Factur-X profile", c.FacturXProfile)
	}
	if (c.Signing.CertFile == "") != (c.Signing.KeyFile == "") {
		return fmt.Errorf("SIGNING_CERT_FILE and SIGNING_KEY_FILE must be set together")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	return nil
}

// Production reports whether the engine talks to live tax authority endpoints
func (c *Config) Production() bool {
	return c.App.Env == "production"
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
