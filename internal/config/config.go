package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	// Payment processor
	PaymentBaseURL string `mapstructure:"PAYMENT_BASE_URL"`
	PaymentAPIKey  string `mapstructure:"PAYMENT_API_KEY"`

	// Dispatch timing
	OfferWindow   time.Duration `mapstructure:"OFFER_WINDOW"`
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// Payouts (minor currency units)
	WeeklyPayoutMin  int64 `mapstructure:"WEEKLY_PAYOUT_MIN"`
	InstantPayoutMin int64 `mapstructure:"INSTANT_PAYOUT_MIN"`
	InstantPayoutFee int64 `mapstructure:"INSTANT_PAYOUT_FEE"`
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
	v.SetDefault("OFFER_WINDOW", "5m")
	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("WEEKLY_PAYOUT_MIN", 100)
	v.SetDefault("INSTANT_PAYOUT_MIN", 500)
	v.SetDefault("INSTANT_PAYOUT_FEE", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PAYMENT_BASE_URL")
	v.BindEnv("PAYMENT_API_KEY")
	v.BindEnv("OFFER_WINDOW")
	v.BindEnv("SWEEP_INTERVAL")
	v.BindEnv("WEEKLY_PAYOUT_MIN")
	v.BindEnv("INSTANT_PAYOUT_MIN")
	v.BindEnv("INSTANT_PAYOUT_FEE")

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
	if cfg.OfferWindow <= 0 {
		return nil, fmt.Errorf("OFFER_WINDOW must be positive")
	}
	if cfg.InstantPayoutFee >= cfg.InstantPayoutMin {
		return nil, fmt.Errorf("INSTANT_PAYOUT_FEE must be below INSTANT_PAYOUT_MIN")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, requests are not verified.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
