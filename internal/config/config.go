package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the backend.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Database  DatabaseConfig           `yaml:"database"`
	NATS      NATSConfig               `yaml:"nats"`
	Redis     RedisConfig              `yaml:"redis"`
	Relay     RelayConfig              `yaml:"relay"`
	Networks  map[string]NetworkConfig `yaml:"networks"`
	GolemDB   GolemDBConfig            `yaml:"golemdb"`
	CORS      CORSConfig               `yaml:"cors"`
	Admin     AdminConfig              `yaml:"admin"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
	// Mode is "development" or "production". Error details are only exposed in development.
	Mode            string `yaml:"mode" env:"SERVER_MODE"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"` // seconds
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type NATSConfig struct {
	URL           string `yaml:"url" env:"NATS_URL"`
	Timeout       int    `yaml:"timeout" env:"NATS_TIMEOUT"`               // seconds
	ReconnectWait int    `yaml:"reconnect_wait" env:"NATS_RECONNECT_WAIT"` // seconds
	MaxReconnects int    `yaml:"max_reconnects" env:"NATS_MAX_RECONNECTS"`
	SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX"`
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     int    `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	CacheTTL int    `yaml:"cache_ttl" env:"REDIS_CACHE_TTL"` // seconds
}

// RelayConfig tunes the meta-transaction pipeline.
type RelayConfig struct {
	DefaultChainID      int64             `yaml:"default_chain_id" env:"RELAY_DEFAULT_CHAIN_ID"`
	ConfirmationTimeout int               `yaml:"confirmation_timeout" env:"RELAY_CONFIRMATION_TIMEOUT"` // seconds
	PollInterval        int               `yaml:"poll_interval_ms" env:"RELAY_POLL_INTERVAL_MS"`
	GasPriceBumpPercent int64             `yaml:"gas_price_bump_percent" env:"RELAY_GAS_PRICE_BUMP_PERCENT"`
	GasLimitOverhead    uint64            `yaml:"gas_limit_overhead" env:"RELAY_GAS_LIMIT_OVERHEAD"`
	DefaultGas          uint64            `yaml:"default_gas" env:"RELAY_DEFAULT_GAS"`
	GasCeilings         map[string]uint64 `yaml:"gas_ceilings"`
	// ForwarderOverride replaces every configured forwarder address when set.
	ForwarderOverride string `yaml:"forwarder_override" env:"FORWARDER_ADDRESS"`
	// RelayerPrivateKey is used for networks without their own key.
	RelayerPrivateKey string `yaml:"relayer_private_key" env:"RELAYER_PRIVATE_KEY"`
}

// NetworkConfig describes one EVM chain the relay can submit to.
type NetworkConfig struct {
	ChainID           int64             `yaml:"chain_id"`
	Name              string            `yaml:"name"`
	RPCEndpoints      []string          `yaml:"rpc_endpoints"`
	RelayerPrivateKey string            `yaml:"relayer_private_key"`
	Enabled           bool              `yaml:"enabled"`
	Contracts         ContractAddresses `yaml:"contracts"`
	// ABIReferences maps a contract name (game_engine, registrar) to a JSON ABI file.
	ABIReferences map[string]string `yaml:"abi_references"`
}

type GolemDBConfig struct {
	// Backend is "rpc" for the real network or "memory" for a process-local store.
	Backend        string `yaml:"backend" env:"GOLEM_BACKEND"`
	ChainID        int64  `yaml:"chain_id" env:"GOLEM_CHAIN_ID"`
	RPCURL         string `yaml:"rpc_url" env:"GOLEM_RPC_URL"`
	WSURL          string `yaml:"ws_url" env:"GOLEM_WS_URL"`
	PrivateKey     string `yaml:"private_key" env:"GOLEM_PRIVATE_KEY"`
	StorageAddress string `yaml:"storage_address" env:"GOLEM_STORAGE_ADDRESS"`
	BTL            uint64 `yaml:"btl" env:"GOLEM_BTL"`
	Timeout        int    `yaml:"timeout" env:"GOLEM_TIMEOUT"` // seconds
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	AllowCredentials bool     `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" env:"CORS_MAX_AGE"`
}

type AdminConfig struct {
	Username      string   `yaml:"username" env:"ADMIN_USERNAME"`
	PasswordHash  string   `yaml:"password_hash" env:"ADMIN_PASSWORD_HASH"` // bcrypt
	TOTPSecret    string   `yaml:"totp_secret" env:"ADMIN_TOTP_SECRET"`
	JWTSecret     string   `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
	TokenTTLHours int      `yaml:"token_ttl_hours" env:"ADMIN_TOKEN_TTL_HOURS"`
	AllowedIPs    []string `yaml:"allowed_ips" env:"ADMIN_ALLOWED_IPS" envSeparator:","`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
}

// AppConfig holds the configuration loaded by LoadConfig.
var AppConfig *Config

// LoadConfig reads the YAML file at configPath (config.local.yaml, then config.yaml
// when empty), applies environment overrides and defaults, and stores the result
// in AppConfig. A missing default file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			fmt.Printf("🔧 Using local configuration file: config.local.yaml\n")
		}
	}

	var cfg Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		fmt.Printf("✅ [%s] Loaded configuration from %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)
	case explicit || !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		fmt.Printf("⚠️  No configuration file found, using defaults and environment\n")
	}

	if err := overrideFromEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	AppConfig = &cfg
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	// Per-network overrides: <NETWORK>_RPC_URL, <NETWORK>_RELAYER_PRIVATE_KEY, <NETWORK>_FORWARDER_ADDRESS
	for name, network := range cfg.Networks {
		prefix := strings.ToUpper(name)
		if rpc := os.Getenv(prefix + "_RPC_URL"); rpc != "" {
			network.RPCEndpoints = append([]string{rpc}, network.RPCEndpoints...)
		}
		if key := os.Getenv(prefix + "_RELAYER_PRIVATE_KEY"); key != "" {
			network.RelayerPrivateKey = key
		}
		if fwd := os.Getenv(prefix + "_FORWARDER_ADDRESS"); fwd != "" {
			network.Contracts.Forwarder = fwd
		}
		cfg.Networks[name] = network
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "development"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}

	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = 10
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "dtm"
	}

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 15
	}

	if c.Relay.DefaultChainID == 0 {
		c.Relay.DefaultChainID = 31337
	}
	if c.Relay.ConfirmationTimeout == 0 {
		c.Relay.ConfirmationTimeout = 60
	}
	if c.Relay.PollInterval == 0 {
		c.Relay.PollInterval = 1000
	}
	if c.Relay.GasPriceBumpPercent == 0 {
		c.Relay.GasPriceBumpPercent = 20
	}
	if c.Relay.GasLimitOverhead == 0 {
		c.Relay.GasLimitOverhead = 100000
	}
	if c.Relay.DefaultGas == 0 {
		c.Relay.DefaultGas = 1000000
	}
	if c.Relay.GasCeilings == nil {
		c.Relay.GasCeilings = map[string]uint64{}
	}
	for op, gas := range DefaultGasCeilings {
		if _, ok := c.Relay.GasCeilings[op]; !ok {
			c.Relay.GasCeilings[op] = gas
		}
	}

	if len(c.Networks) == 0 {
		c.Networks = map[string]NetworkConfig{
			"localhost": {
				ChainID:      31337,
				Name:         "Hardhat",
				RPCEndpoints: []string{"http://127.0.0.1:8545"},
				Enabled:      true,
			},
		}
	}

	if c.GolemDB.Backend == "" {
		c.GolemDB.Backend = "rpc"
	}
	if c.GolemDB.ChainID == 0 {
		c.GolemDB.ChainID = 60138453033
	}
	if c.GolemDB.RPCURL == "" {
		c.GolemDB.RPCURL = "https://ethwarsaw.holesky.golemdb.io/rpc"
	}
	if c.GolemDB.WSURL == "" {
		c.GolemDB.WSURL = "wss://ethwarsaw.holesky.golemdb.io/rpc/ws"
	}
	if c.GolemDB.StorageAddress == "" {
		c.GolemDB.StorageAddress = "0x0000000000000000000000000000000060138453"
	}
	if c.GolemDB.BTL == 0 {
		c.GolemDB.BTL = 86400
	}
	if c.GolemDB.Timeout == 0 {
		c.GolemDB.Timeout = 30
	}

	if c.Admin.TokenTTLHours == 0 {
		c.Admin.TokenTTLHours = 12
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "defeatthememe-backend"
	}
}

// DefaultGasCeilings are the inner-call gas limits per relayed operation.
var DefaultGasCeilings = map[string]uint64{
	"register":     150000,
	"startGame":    500000,
	"submitResult": 1000000,
}

// IsDevelopment reports whether error details may be returned to clients.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Mode, "development")
}

// NetworkByChainID returns the enabled network with the given chain id.
func (c *Config) NetworkByChainID(chainID int64) (string, NetworkConfig, bool) {
	for name, network := range c.Networks {
		if network.ChainID == chainID && network.Enabled {
			return name, network, true
		}
	}
	return "", NetworkConfig{}, false
}

// RelayerKey returns the relayer key for a network, falling back to the global key.
func (c *Config) RelayerKey(network NetworkConfig) string {
	if network.RelayerPrivateKey != "" {
		return network.RelayerPrivateKey
	}
	return c.Relay.RelayerPrivateKey
}
