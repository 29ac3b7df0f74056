package paywatch

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/openmerch/paywatch/utils"
)

// Config aggregates engine configuration values.
type Config struct {
	// Extended public key used for watch-only address derivation on
	// address-per-payment chains. Required only when an EVM network is
	// registered.
	XPub string

	// Shared receive address for single-address chains. Required only
	// when a Solana network is registered.
	SolanaAddress string

	// Age past which an unconfirmed intent is expired by the sweep.
	PaymentTimeout time.Duration `validate:"gt=0"`

	// Interval between expiry sweep passes.
	SweepInterval time.Duration `validate:"gt=0"`

	// Interval between monitor poll ticks.
	PollInterval time.Duration `validate:"gt=0"`

	// Fractional shortfall tolerated on token transfers.
	TokenTolerance float64 `validate:"gte=0,lt=1"`

	// Fractional shortfall tolerated on native transfers.
	NativeTolerance float64 `validate:"gte=0,lt=1"`

	// Blocks scanned per tick for native EVM transfers.
	NativeBlockWindow uint64 `validate:"gt=0"`

	// Page size for Solana signature history queries.
	SignaturePageLimit int `validate:"gt=0"`

	LogLevel string
}

const (
	defaultPaymentTimeout     = 60 * time.Minute
	defaultSweepInterval      = time.Minute
	defaultPollInterval       = 15 * time.Second
	defaultTokenTolerance     = 0.01
	defaultNativeTolerance    = 0.005
	defaultNativeBlockWindow  = 5
	defaultSignaturePageLimit = 100
	defaultLogLevel           = "info"
)

// DefaultConfig returns a Config with all policy values at their defaults.
func DefaultConfig() Config {
	return Config{
		PaymentTimeout:     defaultPaymentTimeout,
		SweepInterval:      defaultSweepInterval,
		PollInterval:       defaultPollInterval,
		TokenTolerance:     defaultTokenTolerance,
		NativeTolerance:    defaultNativeTolerance,
		NativeBlockWindow:  defaultNativeBlockWindow,
		SignaturePageLimit: defaultSignaturePageLimit,
		LogLevel:           defaultLogLevel,
	}
}

// LoadConfig reads configuration from the environment, applying defaults.
// A .env file in the working directory is honored when present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.XPub = os.Getenv("PAYWATCH_XPUB")
	cfg.SolanaAddress = os.Getenv("PAYWATCH_SOLANA_ADDRESS")
	cfg.LogLevel = valueOrDefault("PAYWATCH_LOG_LEVEL", defaultLogLevel)

	var err error
	if cfg.PaymentTimeout, err = durationOrDefault("PAYWATCH_PAYMENT_TIMEOUT", defaultPaymentTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationOrDefault("PAYWATCH_SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationOrDefault("PAYWATCH_POLL_INTERVAL", defaultPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.TokenTolerance, err = floatOrDefault("PAYWATCH_TOKEN_TOLERANCE", defaultTokenTolerance); err != nil {
		return Config{}, err
	}
	if cfg.NativeTolerance, err = floatOrDefault("PAYWATCH_NATIVE_TOLERANCE", defaultNativeTolerance); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("PAYWATCH_NATIVE_BLOCK_WINDOW"); v != "" {
		window, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PAYWATCH_NATIVE_BLOCK_WINDOW: %w", err)
		}
		cfg.NativeBlockWindow = window
	}
	if v := os.Getenv("PAYWATCH_SIGNATURE_PAGE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PAYWATCH_SIGNATURE_PAGE_LIMIT: %w", err)
		}
		cfg.SignaturePageLimit = limit
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config's policy values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.SolanaAddress != "" {
		if err := utils.ValidateSolanaAddress(c.SolanaAddress); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

var validate = validator.New()

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func floatOrDefault(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
