package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/rados-io/saturn-presale/native/presale"
)

// Config captures the runtime configuration for presaled.
type Config struct {
	ListenAddress   string          `yaml:"listen" toml:"listen"`
	Environment     string          `yaml:"environment" toml:"environment"`
	ReadTimeout     Duration        `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration        `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	Sale            SaleConfig      `yaml:"sale" toml:"sale"`
	Storage         StorageConfig   `yaml:"storage" toml:"storage"`
	Audit           AuditConfig     `yaml:"audit" toml:"audit"`
	Auth            AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Custody         CustodyConfig   `yaml:"custody" toml:"custody"`
	Log             LogConfig       `yaml:"log" toml:"log"`
	Telemetry       TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Stream          StreamConfig    `yaml:"stream" toml:"stream"`
	Webhook         WebhookConfig   `yaml:"webhook" toml:"webhook"`
	CORS            CORSConfig      `yaml:"cors" toml:"cors"`
}

// SaleConfig holds the immutable sale identities and limits. Large integers
// are decimal strings.
type SaleConfig struct {
	Token            string `yaml:"token" toml:"token"`
	Treasury         string `yaml:"treasury" toml:"treasury"`
	Owner            string `yaml:"owner" toml:"owner"`
	MinContribution  string `yaml:"min_contribution" toml:"min_contribution"`
	HardCap          string `yaml:"hard_cap" toml:"hard_cap"`
	BasePriceDivisor string `yaml:"base_price_divisor" toml:"base_price_divisor"`
	Mode             string `yaml:"mode" toml:"mode"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// AuditConfig configures the relational event sink.
type AuditConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
	DSNEnv string `yaml:"dsn_env" toml:"dsn_env"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	Leeway         Duration `yaml:"leeway" toml:"leeway"`
}

// RateLimitConfig bounds how often a single caller may hit mutating routes.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`
}

// CustodyConfig points at the token custodian. DryRun replaces the remote
// custodian with one that only logs, for local development.
type CustodyConfig struct {
	Endpoint   string   `yaml:"endpoint" toml:"endpoint"`
	Timeout    Duration `yaml:"timeout" toml:"timeout"`
	APIKey     string   `yaml:"api_key" toml:"api_key"`
	APIKeyEnv  string   `yaml:"api_key_env" toml:"api_key_env"`
	APIKeyFile string   `yaml:"api_key_file" toml:"api_key_file"`
	DryRun     bool     `yaml:"dry_run" toml:"dry_run"`
}

// LogConfig configures structured logging and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
	Headers  string `yaml:"headers" toml:"headers"`
	Metrics  bool   `yaml:"metrics" toml:"metrics"`
	Traces   bool   `yaml:"traces" toml:"traces"`
}

// StreamConfig tunes the websocket event feed.
type StreamConfig struct {
	Buffer       int      `yaml:"buffer" toml:"buffer"`
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"`
}

// WebhookConfig forwards ledger events to an external endpoint. Empty URL
// disables delivery.
type WebhookConfig struct {
	URL         string   `yaml:"url" toml:"url"`
	Secret      string   `yaml:"secret" toml:"secret"`
	SecretEnv   string   `yaml:"secret_env" toml:"secret_env"`
	SecretFile  string   `yaml:"secret_file" toml:"secret_file"`
	MaxAttempts int      `yaml:"max_attempts" toml:"max_attempts"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// Load reads configuration from path. Files ending in .toml are decoded with
// the TOML decoder, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Custody.normalise(); err != nil {
		return cfg, fmt.Errorf("custody: %w", err)
	}
	if err := cfg.Audit.normalise(); err != nil {
		return cfg, fmt.Errorf("audit: %w", err)
	}
	if err := cfg.Webhook.normalise(); err != nil {
		return cfg, fmt.Errorf("webhook: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8087"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.ReadTimeout.Duration == 0 {
		cfg.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.WriteTimeout.Duration == 0 {
		cfg.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.Sale.Mode == "" {
		cfg.Sale.Mode = presale.ModeTiered.String()
	}
	if cfg.Sale.MinContribution == "" {
		cfg.Sale.MinContribution = "0"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != "memory" {
		cfg.Storage.Path = "data/presale"
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.DSN == "" && cfg.Audit.DSNEnv == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = "file:data/audit.db?_pragma=busy_timeout(5000)"
	}
	if cfg.Auth.Leeway.Duration == 0 {
		cfg.Auth.Leeway.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Custody.Timeout.Duration == 0 {
		cfg.Custody.Timeout.Duration = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = 64
	}
	if cfg.Stream.WriteTimeout.Duration == 0 {
		cfg.Stream.WriteTimeout.Duration = 5 * time.Second
	}
	if cfg.Webhook.MaxAttempts == 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Webhook.Timeout.Duration == 0 {
		cfg.Webhook.Timeout.Duration = 15 * time.Second
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c Config) Validate() error {
	if _, err := c.Sale.Presale(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path must be configured for %s", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend must be memory, leveldb or bolt")
	}
	switch c.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit.driver must be sqlite or postgres")
	}
	if strings.TrimSpace(c.Audit.DSN) == "" {
		return fmt.Errorf("audit.dsn must be configured")
	}
	if c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth.hmac_secret must be configured")
	}
	if len(c.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth.hmac_secret must be at least 32 bytes")
	}
	if c.RateLimit.RatePerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if !c.Custody.DryRun && strings.TrimSpace(c.Custody.Endpoint) == "" {
		return fmt.Errorf("custody.endpoint must be configured unless dry_run is set")
	}
	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret must be configured when webhook.url is set")
	}
	return nil
}

// Presale converts the textual sale section into ledger configuration.
func (s SaleConfig) Presale() (presale.SaleConfig, error) {
	var out presale.SaleConfig
	var err error
	if out.SaleToken, err = parseAddress("sale.token", s.Token); err != nil {
		return out, err
	}
	if out.Treasury, err = parseAddress("sale.treasury", s.Treasury); err != nil {
		return out, err
	}
	if out.Owner, err = parseAddress("sale.owner", s.Owner); err != nil {
		return out, err
	}
	if out.MinContribution, err = parseAmount("sale.min_contribution", s.MinContribution); err != nil {
		return out, err
	}
	if out.HardCap, err = parseAmount("sale.hard_cap", s.HardCap); err != nil {
		return out, err
	}
	if out.BasePriceDivisor, err = parseAmount("sale.base_price_divisor", s.BasePriceDivisor); err != nil {
		return out, err
	}
	if out.Mode, err = presale.ParseMode(s.Mode); err != nil {
		return out, err
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

func parseAddress(field, raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("%s must be configured", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a decimal integer", field)
	}
	return value, nil
}

func (a *AuthConfig) normalise() error {
	secret, err := resolveSecret(a.HMACSecret, a.HMACSecretEnv, a.HMACSecretFile)
	if err != nil {
		return fmt.Errorf("hmac secret: %w", err)
	}
	a.HMACSecret = secret
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
	return nil
}

func (c *CustodyConfig) normalise() error {
	key, err := resolveSecret(c.APIKey, c.APIKeyEnv, c.APIKeyFile)
	if err != nil {
		return fmt.Errorf("api key: %w", err)
	}
	c.APIKey = key
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	return nil
}

func (w *WebhookConfig) normalise() error {
	secret, err := resolveSecret(w.Secret, w.SecretEnv, w.SecretFile)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	w.Secret = secret
	w.URL = strings.TrimSpace(w.URL)
	return nil
}

func (a *AuditConfig) normalise() error {
	a.Driver = strings.ToLower(strings.TrimSpace(a.Driver))
	a.DSNEnv = strings.TrimSpace(a.DSNEnv)
	if strings.TrimSpace(a.DSN) != "" || a.DSNEnv == "" {
		return nil
	}
	value := strings.TrimSpace(os.Getenv(a.DSNEnv))
	if value == "" {
		return fmt.Errorf("dsn_env %s is empty", a.DSNEnv)
	}
	a.DSN = value
	return nil
}

// resolveSecret prefers an inline value, then an environment variable, then a
// file.
func resolveSecret(inline, env, file string) (string, error) {
	if value := strings.TrimSpace(inline); value != "" {
		return value, nil
	}
	if env = strings.TrimSpace(env); env != "" {
		value := strings.TrimSpace(os.Getenv(env))
		if value == "" {
			return "", fmt.Errorf("%s is empty", env)
		}
		return value, nil
	}
	if file = strings.TrimSpace(file); file != "" {
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}
