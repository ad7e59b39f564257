package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/punchamoorthee/pkrsettle/internal/units"
	"github.com/punchamoorthee/pkrsettle/internal/webhook"
	"github.com/shopspring/decimal"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	ChainStub     = "stub"
	ChainDeferred = "deferred"
)

type Config struct {
	DBSource string
	Store    string
	Port     string
	Env      string
	LogLevel string

	TokenDecimals int
	TokenSymbol   string
	// ChainBackend is "stub" (confirms at submit) or "deferred" (jobs stay
	// PENDING until confirmed through the API).
	ChainBackend string
	// Nil ceilings are unlimited.
	MaxSingleMintPKR   *decimal.Decimal
	MaxSinglePayoutPKR *decimal.Decimal

	BankWebhookSecret      string
	BankWebhookIPAllowlist []string
	ChainWebhookSecret     string
	WebhookRateLimitRPS    float64

	DemoUserEmail    string
	DemoChainAddress string
	AutoMint         bool

	ReconcileInterval time.Duration
	AlertWebhookURL   string

	NATSURL          string
	NATSChainSubject string
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBSource:           os.Getenv("DB_SOURCE"),
		Store:              strings.ToLower(getenv("STORE", StorePostgres)),
		Port:               getenv("SERVER_PORT", "8080"),
		Env:                getenv("ENVIRONMENT", "development"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		TokenSymbol:        getenv("TOKEN_SYMBOL", "PKRT"),
		ChainBackend:       strings.ToLower(getenv("CHAIN_BACKEND", ChainStub)),
		BankWebhookSecret:  os.Getenv("BANK_WEBHOOK_SECRET"),
		ChainWebhookSecret: os.Getenv("CHAIN_WEBHOOK_SECRET"),
		DemoUserEmail:      getenv("DEMO_USER_EMAIL", "demo@pkrsettle.local"),
		DemoChainAddress:   strings.ToLower(getenv("DEMO_CHAIN_ADDRESS", "0xdemo000000000000000000000000000000000001")),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSChainSubject:   getenv("NATS_CHAIN_SUBJECT", "settlement.chain.events"),
	}

	var err error
	if cfg.TokenDecimals, err = getenvInt("TOKEN_DECIMALS", units.DefaultDecimals); err != nil {
		return nil, err
	}
	if cfg.TokenDecimals < 0 || cfg.TokenDecimals > units.MaxDecimals {
		return nil, fmt.Errorf("TOKEN_DECIMALS must be within 0..%d", units.MaxDecimals)
	}
	if cfg.MaxSingleMintPKR, err = getenvCeiling("MAX_SINGLE_MINT_PKR"); err != nil {
		return nil, err
	}
	if cfg.MaxSinglePayoutPKR, err = getenvCeiling("MAX_SINGLE_PAYOUT_PKR"); err != nil {
		return nil, err
	}
	if cfg.AutoMint, err = getenvBool("AUTO_MINT", true); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getenvDuration("RECONCILE_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.WebhookRateLimitRPS, err = getenvFloat("WEBHOOK_RATE_LIMIT_RPS", 50); err != nil {
		return nil, err
	}
	cfg.BankWebhookIPAllowlist = splitList(os.Getenv("BANK_WEBHOOK_IP_ALLOWLIST"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.ChainBackend != ChainStub && c.ChainBackend != ChainDeferred {
		return fmt.Errorf("CHAIN_BACKEND must be %q or %q, got %q", ChainStub, ChainDeferred, c.ChainBackend)
	}
	if c.WebhookRateLimitRPS < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_RPS must not be negative")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if _, err := webhook.ParseAllowlist(c.BankWebhookIPAllowlist); err != nil {
		return fmt.Errorf("BANK_WEBHOOK_IP_ALLOWLIST: %w", err)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getenvCeiling(key string) (*decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return &d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
