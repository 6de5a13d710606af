package config

import (
	"encoding/json"
	"fmt"
	"time"

	"market_sales/internal/sales"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MARKET_"

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8081"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	Operator          string `env:"OPERATOR_ID" envDefault:"market-operator"`
	Treasury          string `env:"TREASURY_ID" envDefault:"market-treasury"`
	FeeBPS            uint64 `env:"FEE_BPS" envDefault:"500"`
	MinBidIncrement   uint64 `env:"MIN_BID_INCREMENT" envDefault:"10"`
	MinListingDeposit uint64 `env:"MIN_LISTING_DEPOSIT" envDefault:"1"`

	CustodyURL     string        `env:"CUSTODY_URL" envDefault:"http://localhost:8080"`
	CustodyTimeout time.Duration `env:"CUSTODY_TIMEOUT" envDefault:"0s"`

	// DataDir holds the badger store; empty keeps sales in memory.
	DataDir              string        `env:"DATA_DIR"`
	AuctionSweepInterval time.Duration `env:"AUCTION_SWEEP_INTERVAL" envDefault:"30s"`
	SettlementRetention  time.Duration `env:"SETTLEMENT_RETENTION" envDefault:"24h"`
	EventBus             bool          `env:"EVENT_BUS" envDefault:"true"`
}

// Load reads the configuration from MARKET_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.FeeBPS > 10_000 {
		return fmt.Errorf("fee bps must be at most 10000, got %d", c.FeeBPS)
	}
	if c.Operator == "" {
		return fmt.Errorf("operator id must not be empty")
	}
	if c.Treasury == "" {
		return fmt.Errorf("treasury id must not be empty")
	}
	if c.SettlementRetention < 0 {
		return fmt.Errorf("settlement retention must not be negative, got %s", c.SettlementRetention)
	}
	if c.CustodyURL == "" {
		return fmt.Errorf("custody url must not be empty")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Settings returns the market parameters for sales.Service.
func (c *Config) Settings() sales.Settings {
	return sales.Settings{
		Operator:            c.Operator,
		Treasury:            c.Treasury,
		FeeBPS:              c.FeeBPS,
		MinBidIncrement:     sales.Amount(c.MinBidIncrement),
		SettlementRetention: c.SettlementRetention,
	}
}

// Logger builds the production zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	return cfg.Build()
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}
