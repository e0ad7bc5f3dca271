// Package config loads the service configuration from the environment and
// the network and deployment tables on disk.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"fundme/internal/fundme"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// AppConfig ties together the environment sections and the files they point at.
type AppConfig struct {
	NetworksPath    string `env:"NETWORKS_PATH" envDefault:"networks.json"`
	DeploymentsPath string `env:"DEPLOYMENTS_PATH" envDefault:"deployments.json"`

	Service  ServiceConfig  `envPrefix:"API_"`
	Chain    ChainConfig    `envPrefix:"CHAIN_"`
	Campaign CampaignConfig `envPrefix:"CAMPAIGN_"`
	Retry    RetryConfig    `envPrefix:"RETRY_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`

	Networks NetworkTable
	// Deployment is nil when no deployments file exists.
	Deployment *Deployment
}

type ServiceConfig struct {
	HTTPPort             int           `env:"HTTP_PORT" envDefault:"3000"`
	HMACSecret           string        `env:"HMAC_SECRET"`
	IntegrationSecret    string        `env:"INTEGRATION_HMAC_SECRET"`
	HMACClockSkew        time.Duration `env:"HMAC_CLOCK_SKEW" envDefault:"60s"`
	IdempotencyWindow    time.Duration `env:"IDEMPOTENCY_WINDOW" envDefault:"24h"`
	IdempotencyStorePath string        `env:"IDEMPOTENCY_STORE_PATH"`
	DLQPath              string        `env:"DLQ_PATH"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// InsecureDev accepts unsigned requests when a secret is empty. The
	// caller header is then trusted as is.
	InsecureDev bool `env:"INSECURE_DEV" envDefault:"false"`
}

// ChainConfig selects the escrow backend. Without a private key the ledger
// runs in process.
type ChainConfig struct {
	ChainID    int64         `env:"ID" envDefault:"31337"`
	RPCURL     string        `env:"RPC_URL"`
	PrivateKey string        `env:"PRIVATE_KEY"`
	RPCTimeout time.Duration `env:"RPC_TIMEOUT" envDefault:"30s"`
}

// Local reports whether the ledger is hosted in process.
func (c ChainConfig) Local() bool {
	return c.PrivateKey == ""
}

type CampaignConfig struct {
	Owner        common.Address `env:"OWNER"`
	LockDuration time.Duration  `env:"LOCK_DURATION" envDefault:"1h"`
	MinimumUSD   Dollars        `env:"MINIMUM_USD" envDefault:"1"`
	TargetUSD    Dollars        `env:"TARGET_USD" envDefault:"600"`

	// Oracle is "static" or "chainlink".
	Oracle       string `env:"ORACLE" envDefault:"static"`
	MockPriceUSD int64  `env:"MOCK_PRICE_USD" envDefault:"2000"`
	MockDecimals uint8  `env:"MOCK_DECIMALS" envDefault:"8"`
	FeedDecimals uint8  `env:"FEED_DECIMALS" envDefault:"8"`
}

type RetryConfig struct {
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff    time.Duration `env:"INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff        time.Duration `env:"MAX_BACKOFF" envDefault:"5s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// SlogLevel converts the textual level into a slog.Level. Unknown levels
// default to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// JSON reports whether records should be JSON encoded.
func (c LogConfig) JSON() bool {
	return strings.EqualFold(c.Format, "json")
}

// PostgresConfig is optional. With an address set, idempotency records and
// the journal live in Postgres.
type PostgresConfig struct {
	Addr          string `env:"ADDRESS"`
	MaxConns      int32  `env:"MAX_CONNS" envDefault:"4"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
}

// Dollars parses a decimal dollar figure such as "600" or "0.5".
type Dollars struct {
	fundme.USD
}

func (d *Dollars) UnmarshalText(b []byte) error {
	v, err := fundme.ParseDollars(string(b))
	if err != nil {
		return err
	}
	d.USD = v
	return nil
}

// Deployment represents deployments.json.
type Deployment struct {
	ChainID    int64          `json:"chainId"`
	Deployer   common.Address `json:"deployer"`
	FundMe     common.Address `json:"fundMe"`
	DeployedAt time.Time      `json:"deployedAt"`
}

// Load aggregates configuration from the environment and disk.
func Load() (*AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	networks, err := LoadNetworks(cfg.NetworksPath)
	if err != nil {
		return nil, fmt.Errorf("load networks: %w", err)
	}
	cfg.Networks = networks

	deployment, err := loadDeployment(cfg.DeploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	cfg.Deployment = deployment

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that depend on each other.
func (c *AppConfig) Validate() error {
	switch c.Campaign.Oracle {
	case "static", "chainlink":
	default:
		return fmt.Errorf("unknown oracle source %q", c.Campaign.Oracle)
	}
	if c.Campaign.LockDuration < 0 {
		return errors.New("campaign lock duration must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}
	if !c.Service.InsecureDev {
		if c.Service.HMACSecret == "" {
			return errors.New("API_HMAC_SECRET is required unless API_INSECURE_DEV is set")
		}
		if c.Service.IntegrationSecret == "" {
			return errors.New("API_INTEGRATION_HMAC_SECRET is required unless API_INSECURE_DEV is set")
		}
	}
	if c.Chain.Local() {
		if c.Campaign.Owner == (common.Address{}) {
			return errors.New("CAMPAIGN_OWNER is required when the ledger runs in process")
		}
		return nil
	}
	if c.Deployment == nil || c.Deployment.FundMe == (common.Address{}) {
		return errors.New("a FundMe deployment is required when a private key is set")
	}
	if c.Deployment.ChainID != 0 && c.Deployment.ChainID != c.Chain.ChainID {
		return fmt.Errorf("deployment is for chain %d, configured chain is %d", c.Deployment.ChainID, c.Chain.ChainID)
	}
	return nil
}

// RPCURL is the configured URL, or the network table's for the chain.
func (c *AppConfig) RPCURL() (string, error) {
	if c.Chain.RPCURL != "" {
		return c.Chain.RPCURL, nil
	}
	network, ok := c.Networks[c.Chain.ChainID]
	if !ok || network.RPCURL == "" {
		return "", fmt.Errorf("no rpc url for chain %d", c.Chain.ChainID)
	}
	return network.RPCURL, nil
}

func loadDeployment(path string) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
