// Package config loads server configuration from an optional YAML or TOML
// file, a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Fitbit    FitbitConfig    `yaml:"fitbit" toml:"fitbit"`
	FoodLog   FoodLogConfig   `yaml:"foodlog" toml:"foodlog"`
	Identity  IdentityConfig  `yaml:"identity" toml:"identity"`
	Recaptcha RecaptchaConfig `yaml:"recaptcha" toml:"recaptcha"`
	Redirect  RedirectConfig  `yaml:"redirect" toml:"redirect"`
	Audit     AuditConfig     `yaml:"audit" toml:"audit"`

	// Source is the config file that was read, if any.
	Source string `yaml:"-" toml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port string `yaml:"port" toml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type FitbitConfig struct {
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri" toml:"redirect_uri"`
	APIBaseURL   string `yaml:"api_base_url" toml:"api_base_url"`
	TokenURL     string `yaml:"token_url" toml:"token_url"`
	AuthURL      string `yaml:"auth_url" toml:"auth_url"`
	Timeout      string `yaml:"timeout" toml:"timeout"`

	HTTPTimeout time.Duration `yaml:"-" toml:"-"`
}

type FoodLogConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" toml:"max_concurrency"`
}

type IdentityConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer    string `yaml:"issuer" toml:"issuer"`
	Audience  string `yaml:"audience" toml:"audience"`
}

type RecaptchaConfig struct {
	Secret                string  `yaml:"secret" toml:"secret"`
	VerifyURL             string  `yaml:"verify_url" toml:"verify_url"`
	ThresholdAuthenticate float64 `yaml:"threshold_authenticate" toml:"threshold_authenticate"`
	ThresholdWriteLog     float64 `yaml:"threshold_write_log" toml:"threshold_write_log"`
}

type RedirectConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedPattern string   `yaml:"allowed_pattern" toml:"allowed_pattern"`
}

type AuditConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

const (
	DefaultRecaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	DefaultFitbitTimeout      = "15s"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Database: DatabaseConfig{Path: "foodlog.db"},
		Fitbit: FitbitConfig{
			APIBaseURL: "https://api.fitbit.com",
			TokenURL:   "https://api.fitbit.com/oauth2/token",
			AuthURL:    "https://www.fitbit.com/oauth2/authorize",
			Timeout:    DefaultFitbitTimeout,
		},
		FoodLog: FoodLogConfig{MaxConcurrency: 8},
		Recaptcha: RecaptchaConfig{
			VerifyURL:             DefaultRecaptchaVerifyURL,
			ThresholdAuthenticate: 0.5,
			ThresholdWriteLog:     0.3,
		},
		Audit: AuditConfig{Enabled: true},
	}
}

// Load builds the configuration. path may be empty, in which case NEXUS_CONFIG
// and then the well-known locations are tried. Values are not validated; call
// Validate before serving.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("⚠️ Failed to load .env: %v", err)
	}

	cfg := Default()

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if resolved != "" {
		if err := cfg.loadFile(resolved); err != nil {
			return nil, err
		}
		cfg.Source = resolved
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	d, err := time.ParseDuration(cfg.Fitbit.Timeout)
	if err != nil {
		return nil, fmt.Errorf("fitbit timeout has invalid duration %q: %w", cfg.Fitbit.Timeout, err)
	}
	cfg.Fitbit.HTTPTimeout = d
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		_, err = toml.Decode(string(data), c)
	default:
		return fmt.Errorf("unsupported config file type %q", path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Host, "HOST")
	setString(&c.Server.Port, "PORT")
	setString(&c.Database.Path, "NEXUS_DB_PATH")

	setString(&c.Fitbit.ClientID, "FITBIT_CLIENT_ID")
	setString(&c.Fitbit.ClientSecret, "FITBIT_CLIENT_SECRET")
	setString(&c.Fitbit.RedirectURI, "FITBIT_REDIRECT_URI")
	setString(&c.Fitbit.APIBaseURL, "FITBIT_API_BASE_URL")
	setString(&c.Fitbit.TokenURL, "FITBIT_TOKEN_URL")
	setString(&c.Fitbit.AuthURL, "FITBIT_AUTH_URL")
	setString(&c.Fitbit.Timeout, "FITBIT_HTTP_TIMEOUT")

	setString(&c.Identity.JWTSecret, "IDENTITY_JWT_SECRET")
	setString(&c.Identity.Issuer, "IDENTITY_ISSUER")
	setString(&c.Identity.Audience, "IDENTITY_AUDIENCE")

	setString(&c.Recaptcha.Secret, "RECAPTCHA_SECRET")
	setString(&c.Recaptcha.VerifyURL, "RECAPTCHA_VERIFY_URL")
	setString(&c.Redirect.AllowedPattern, "ALLOWED_REDIRECT_PATTERN")

	if v, ok := lookup("ALLOWED_REDIRECT_ORIGINS"); ok {
		c.Redirect.AllowedOrigins = nil
		for _, o := range strings.Split(v, ";") {
			if o = strings.TrimSpace(o); o != "" {
				c.Redirect.AllowedOrigins = append(c.Redirect.AllowedOrigins, o)
			}
		}
	}

	if v, ok := lookup("FOODLOG_MAX_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FOODLOG_MAX_CONCURRENCY has invalid value %q: %w", v, err)
		}
		c.FoodLog.MaxConcurrency = n
	}
	if err := setFloat(&c.Recaptcha.ThresholdAuthenticate, "RECAPTCHA_THRESHOLD_AUTHENTICATE"); err != nil {
		return err
	}
	if err := setFloat(&c.Recaptcha.ThresholdWriteLog, "RECAPTCHA_THRESHOLD_WRITE_LOG"); err != nil {
		return err
	}
	if v, ok := lookup("NEXUS_AUDIT_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NEXUS_AUDIT_ENABLED has invalid value %q: %w", v, err)
		}
		c.Audit.Enabled = b
	}
	return nil
}

// Validate checks the settings needed to serve requests.
func (c *Config) Validate() error {
	var errs []error
	if c.Fitbit.ClientID == "" || c.Fitbit.ClientSecret == "" {
		errs = append(errs, errors.New("FITBIT_CLIENT_ID and FITBIT_CLIENT_SECRET must be set"))
	}
	if c.Fitbit.RedirectURI == "" {
		errs = append(errs, errors.New("FITBIT_REDIRECT_URI must be set"))
	}
	if c.Identity.JWTSecret == "" {
		errs = append(errs, errors.New("IDENTITY_JWT_SECRET must be set"))
	}
	if c.Fitbit.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fitbit timeout must be positive, got %s", c.Fitbit.HTTPTimeout))
	}
	if c.FoodLog.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("foodlog max_concurrency must be at least 1, got %d", c.FoodLog.MaxConcurrency))
	}
	for name, v := range map[string]float64{
		"RECAPTCHA_THRESHOLD_AUTHENTICATE": c.Recaptcha.ThresholdAuthenticate,
		"RECAPTCHA_THRESHOLD_WRITE_LOG":    c.Recaptcha.ThresholdWriteLog,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}
	if c.Redirect.AllowedPattern != "" {
		if _, err := regexp.Compile(c.Redirect.AllowedPattern); err != nil {
			errs = append(errs, fmt.Errorf("ALLOWED_REDIRECT_PATTERN is invalid: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv("NEXUS_CONFIG"))
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/foodlog-nexus.yaml",
		"config/foodlog-nexus.toml",
		"/etc/foodlog-nexus/config.yaml",
		"/etc/foodlog-nexus/config.toml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, ".config", "foodlog-nexus", "config.yaml"),
			filepath.Join(homeDir, ".config", "foodlog-nexus", "config.toml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setFloat(dst *float64, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s has invalid value %q: %w", key, v, err)
	}
	*dst = f
	return nil
}
