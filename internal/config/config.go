package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret     string   `mapstructure:"JWT_SECRET"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	LedgerURL     string   `mapstructure:"LEDGER_URL"`
	ContractAddr  string   `mapstructure:"CONTRACT_ADDRESS"`
	SigningKey    string   `mapstructure:"PRACTITIONER_SIGNING_KEY"`
	LedgerTimeout time.Duration `mapstructure:"LEDGER_TIMEOUT"`
	ConsentDir    string   `mapstructure:"CONSENT_UPLOAD_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LEDGER_URL", "http://127.0.0.1:8545")
	v.SetDefault("LEDGER_TIMEOUT", "15s")
	v.SetDefault("CONSENT_UPLOAD_DIR", "uploads/consents")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("LEDGER_URL")
	v.BindEnv("CONTRACT_ADDRESS")
	v.BindEnv("PRACTITIONER_SIGNING_KEY")
	v.BindEnv("LEDGER_TIMEOUT")
	v.BindEnv("CONSENT_UPLOAD_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Unsigned dev tokens are accepted. Do NOT use in production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LedgerEnabled reports whether ledger anchoring is configured. The server
// runs without a ledger: records stay local-only until a contract address
// and signing key are provided.
func (c *Config) LedgerEnabled() bool {
	return c.ContractAddr != ""
}

// Validate checks that the configuration is safe to run. In production a
// JWT secret is mandatory, and a configured ledger requires both the
// endpoint and the deployed contract address.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.ContractAddr != "" && c.LedgerURL == "" {
		return fmt.Errorf("LEDGER_URL is required when CONTRACT_ADDRESS is set")
	}
	if c.SigningKey != "" && c.ContractAddr == "" {
		return fmt.Errorf("CONTRACT_ADDRESS is required when PRACTITIONER_SIGNING_KEY is set")
	}
	if c.LedgerTimeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive, got %s", c.LedgerTimeout)
	}
	return nil
}
