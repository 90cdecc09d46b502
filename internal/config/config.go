package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	NATS           NATSConfig           `yaml:"nats"`
	XRPL           XRPLConfig           `yaml:"xrpl"`
	Chain          ChainConfig          `yaml:"chain"`
	Bridge         BridgeConfig         `yaml:"bridge"`
	Routes         RoutesConfig         `yaml:"routes"`
	Retry          RetryConfig          `yaml:"retry"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Admin          AdminConfig          `yaml:"admin"`
	CORS           CORSConfig           `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Enabled       bool   `yaml:"enabled"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// XRPLConfig XRP Ledger connection configuration
type XRPLConfig struct {
	WebsocketURL string `yaml:"websocket_url"`
	VaultAddress string `yaml:"vault_address"`
	// MaxDecimals is the ledger's maximum fractional precision for the
	// native asset (6 for XRP: 1 XRP = 1,000,000 drops).
	MaxDecimals int `yaml:"max_decimals"`
	// AgentAddresses is the pool of per-request settlement addresses
	// reserved while a bridge awaits its payment.
	AgentAddresses []string `yaml:"agent_addresses"`
	// ProverURL is the ledger-inclusion proof service endpoint.
	ProverURL string `yaml:"prover_url"`
}

// ChainConfig destination EVM chain configuration
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	ChainID         int64  `yaml:"chain_id"`
	BridgeContract  string `yaml:"bridge_contract"`
	VaultContract   string `yaml:"vault_contract"`
	OperatorKey     string `yaml:"operator_key"`
	OperatorAddress string `yaml:"operator_address"`
	GasFundAddress  string `yaml:"gas_fund_address"`
}

// BridgeConfig two-party bridge behaviour
type BridgeConfig struct {
	// RequestTTL is how long a reservation waits for its XRPL payment
	// before it is cancelled by the reconciliation sweep.
	RequestTTLMinutes int   `yaml:"request_ttl_minutes"`
	FeeDrops          int64 `yaml:"fee_drops"`
}

// RoutesConfig route registry tables
type RoutesConfig struct {
	HubChain     string              `yaml:"hub_chain"`
	MaxHops      int                 `yaml:"max_hops"`
	SlippageBps  int64               `yaml:"slippage_bps"`
	QuoteTTLMins int                 `yaml:"quote_ttl_minutes"`
	Chains       []RouteChainConfig  `yaml:"chains"`
	Tokens       []RouteTokenConfig  `yaml:"tokens"`
	Direct       []DirectRouteConfig `yaml:"direct"`
}

// RouteChainConfig a chain known to the route registry
type RouteChainConfig struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	NativeToken    string  `yaml:"native_token"`
	IsLedger       bool    `yaml:"is_ledger"`
	ChainID        int64   `yaml:"chain_id"`
	RouterContract string  `yaml:"router_contract"`
	GasPriceGwei   float64 `yaml:"gas_price_gwei"`
	BridgeGasUnits int64   `yaml:"bridge_gas_units"`
	SwapGasUnits   int64   `yaml:"swap_gas_units"`
}

// RouteTokenConfig a token known to the route registry
type RouteTokenConfig struct {
	Symbol   string   `yaml:"symbol"`
	Chains   []string `yaml:"chains"`
	Decimals int      `yaml:"decimals"`
	PriceUSD float64  `yaml:"price_usd"`
	// Addresses maps chain id to the token's contract address there.
	// Ledger chains carry no entry; the native asset needs no contract.
	Addresses map[string]string `yaml:"addresses"`
}

// DirectRouteConfig an enabled chain-to-chain bridge lane
type DirectRouteConfig struct {
	FromChain string  `yaml:"from_chain"`
	ToChain   string  `yaml:"to_chain"`
	Protocol  string  `yaml:"protocol"`
	FeePct    float64 `yaml:"fee_pct"`
	Enabled   bool    `yaml:"enabled"`
	TimeSecs  int     `yaml:"time_secs"`
}

// RetryConfig withdrawal retry engine configuration
type RetryConfig struct {
	IntervalSeconds    int    `yaml:"interval_seconds"`
	BaseBackoffSeconds int    `yaml:"base_backoff_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	MinGasBalanceWei   string `yaml:"min_gas_balance_wei"`
	PaymasterEnabled   bool   `yaml:"paymaster_enabled"`
	AutoFundAmountWei  string `yaml:"auto_fund_amount_wei"`
}

// ReconciliationConfig startup/periodic reconciliation configuration
type ReconciliationConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	RunPeriodic     bool `yaml:"run_periodic"`
}

// AdminConfig admin API access control configuration
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// AppConfig global configuration instance
var AppConfig *Config

// LoadConfig loads configuration from a YAML file with env overrides
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Printf("📄 Loaded configuration from %s", path)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		XRPL:   XRPLConfig{MaxDecimals: 6},
		Bridge: BridgeConfig{RequestTTLMinutes: 30, FeeDrops: 12000},
		Routes: RoutesConfig{
			MaxHops:      3,
			SlippageBps:  50,
			QuoteTTLMins: 5,
		},
		Retry: RetryConfig{
			IntervalSeconds:    30,
			BaseBackoffSeconds: 10,
			MaxRetries:         10,
		},
		Reconciliation: ReconciliationConfig{
			IntervalSeconds: 300,
			RunPeriodic:     true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("XRPL_WEBSOCKET_URL"); v != "" {
		cfg.XRPL.WebsocketURL = v
	}
	if v := os.Getenv("XRPL_VAULT_ADDRESS"); v != "" {
		cfg.XRPL.VaultAddress = v
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("OPERATOR_KEY"); v != "" {
		cfg.Chain.OperatorKey = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
}

// Validate checks required configuration; missing required config is a
// startup error, not something to limp along without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.XRPL.WebsocketURL == "" {
		return fmt.Errorf("xrpl.websocket_url is required")
	}
	if c.XRPL.VaultAddress == "" {
		return fmt.Errorf("xrpl.vault_address is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if len(c.XRPL.AgentAddresses) == 0 {
		return fmt.Errorf("xrpl.agent_addresses must not be empty")
	}
	if c.XRPL.ProverURL == "" {
		return fmt.Errorf("xrpl.prover_url is required")
	}
	if c.XRPL.MaxDecimals <= 0 {
		c.XRPL.MaxDecimals = 6
	}
	if c.Routes.MaxHops <= 0 {
		c.Routes.MaxHops = 3
	}
	if c.Routes.QuoteTTLMins <= 0 {
		c.Routes.QuoteTTLMins = 5
	}
	return nil
}

// RequestTTL returns the bridge reservation lifetime as a duration
func (c *BridgeConfig) RequestTTL() time.Duration {
	return time.Duration(c.RequestTTLMinutes) * time.Minute
}

// QuoteTTL returns the route quote lifetime as a duration
func (c *RoutesConfig) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLMins) * time.Minute
}

// BaseBackoff returns the retry engine's base backoff as a duration
func (c *RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds) * time.Second
}
