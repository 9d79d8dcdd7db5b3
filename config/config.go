// Package config loads service settings from an optional .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Log       LogConfig
	Storage   StorageConfig
	Ledger    LedgerConfig
	Report    ReportConfig
	Snapshot  SnapshotConfig
	Currency  CurrencyConfig
	SMTP      SMTPConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Seed      SeedConfig
}

type AppConfig struct {
	Name         string
	Env          string
	Port         string
	BusinessName string
	RequestTTL   time.Duration
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	RestURL     string
	RestAPIKey  string
	RestTimeout time.Duration
	RestRPS     float64 // 0 disables the client-side limiter
	RestBurst   int
}

type LedgerConfig struct {
	RolloverMode string
}

type ReportConfig struct {
	DrinksPolicy string
	Dir          string
}

type SnapshotConfig struct {
	File      string
	BackupDir string
}

type CurrencyConfig struct {
	Code     string
	Exponent int32
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	FromName string
	To       []string
	Timeout  time.Duration
}

// Enabled reports whether enough is set to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.User != "" && len(c.To) > 0
}

type JWTConfig struct {
	Secret string
}

// DefaultJWTSecret is the development secret. Production refuses it.
const DefaultJWTSecret = "change-this-secret-in-production"

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type SeedConfig struct {
	Catalog     bool
	CatalogFile string
}

// Drivers accepted by STORAGE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverREST     = "rest"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "stockledger")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "3000")
	v.SetDefault("APP_REQUEST_TIMEOUT", "30s")
	v.SetDefault("BUSINESS_NAME", "Yellow Haven")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "./stock.db")
	v.SetDefault("REST_TIMEOUT", "10s")
	v.SetDefault("REST_RATE_LIMIT_RPS", 10)
	v.SetDefault("REST_RATE_LIMIT_BURST", 20)
	v.SetDefault("LEDGER_ROLLOVER_MODE", "lenient")
	v.SetDefault("REPORT_DRINKS_POLICY", "separate")
	v.SetDefault("REPORT_DIR", "./daily_report")
	v.SetDefault("SNAPSHOT_FILE", "./docs/stock_data.json")
	v.SetDefault("SNAPSHOT_BACKUP_DIR", "./docs/stock_backups")
	v.SetDefault("CURRENCY_CODE", "UGX")
	v.SetDefault("CURRENCY_EXPONENT", 0)
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM_NAME", "Yellow Haven")
	v.SetDefault("SMTP_TIMEOUT", "30s")
	v.SetDefault("JWT_SECRET", DefaultJWTSecret)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("SEED_CATALOG", true)
}

// Load reads envFile if it exists, then the environment. Environment
// variables win over the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:         v.GetString("APP_NAME"),
			Env:          v.GetString("APP_ENV"),
			Port:         v.GetString("APP_PORT"),
			BusinessName: v.GetString("BUSINESS_NAME"),
			RequestTTL:   v.GetDuration("APP_REQUEST_TIMEOUT"),
		},
		Log: LogConfig{Level: v.GetString("LOG_LEVEL")},
		Storage: StorageConfig{
			Driver:      strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
			SQLitePath:  v.GetString("SQLITE_PATH"),
			PostgresDSN: v.GetString("POSTGRES_DSN"),
			RestURL:     v.GetString("REST_URL"),
			RestAPIKey:  v.GetString("REST_API_KEY"),
			RestTimeout: v.GetDuration("REST_TIMEOUT"),
			RestRPS:     v.GetFloat64("REST_RATE_LIMIT_RPS"),
			RestBurst:   v.GetInt("REST_RATE_LIMIT_BURST"),
		},
		Ledger: LedgerConfig{RolloverMode: v.GetString("LEDGER_ROLLOVER_MODE")},
		Report: ReportConfig{
			DrinksPolicy: v.GetString("REPORT_DRINKS_POLICY"),
			Dir:          v.GetString("REPORT_DIR"),
		},
		Snapshot: SnapshotConfig{
			File:      v.GetString("SNAPSHOT_FILE"),
			BackupDir: v.GetString("SNAPSHOT_BACKUP_DIR"),
		},
		Currency: CurrencyConfig{
			Code:     v.GetString("CURRENCY_CODE"),
			Exponent: v.GetInt32("CURRENCY_EXPONENT"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			User:     v.GetString("SMTP_USER"),
			Pass:     v.GetString("SMTP_PASS"),
			FromName: v.GetString("SMTP_FROM_NAME"),
			To:       splitList(v.GetString("SMTP_TO")),
			Timeout:  v.GetDuration("SMTP_TIMEOUT"),
		},
		JWT:  JWTConfig{Secret: v.GetString("JWT_SECRET")},
		CORS: CORSConfig{AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS"))},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
		Seed: SeedConfig{
			Catalog:     v.GetBool("SEED_CATALOG"),
			CatalogFile: v.GetString("SEED_CATALOG_FILE"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres driver")
		}
	case DriverREST:
		if c.Storage.RestURL == "" || c.Storage.RestAPIKey == "" {
			return errors.New("REST_URL and REST_API_KEY are required for the rest driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want memory, sqlite, postgres or rest)", c.Storage.Driver)
	}
	if c.Currency.Exponent < 0 || c.Currency.Exponent > 4 {
		return fmt.Errorf("CURRENCY_EXPONENT must be between 0 and 4, got %d", c.Currency.Exponent)
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.IsProduction() && (c.JWT.Secret == DefaultJWTSecret || len(c.JWT.Secret) < 32) {
		return errors.New("JWT_SECRET must be set to a private value of at least 32 characters in production")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.App.Env == "production" }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
