package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Ethereum   EthereumConfig   `yaml:"ethereum"`
	Concordium ConcordiumConfig `yaml:"concordium"`
	Actor      ActorConfig      `yaml:"actor"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings for the read-only status API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// EthereumConfig describes the Eth-side chain the bridge publishes Merkle
// roots to. The relayer does not scan Eth logs itself (that is an
// external collaborator). cmd/relayer dials RPCURL at startup; the
// recovery protocol does not query it (pending withdrawals are
// re-verified against the Concordium node).
type EthereumConfig struct {
	RPCURL             string        `yaml:"rpc_url"`
	ChainID            int64         `yaml:"chain_id"`
	BridgeContract     string        `yaml:"bridge_contract"`
	ConfirmationBlocks int           `yaml:"confirmation_blocks"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// ConcordiumConfig describes the Concordium node the relayer submits
// signed transactions to and verifies recovered Ccd transactions
// against.
type ConcordiumConfig struct {
	NodeURL        string        `yaml:"node_url"`
	NetworkID      string        `yaml:"network_id"`
	BridgeContract ContractIndex `yaml:"bridge_contract"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ContractIndex identifies a Concordium smart contract instance.
type ContractIndex struct {
	Index    uint64 `yaml:"index"`
	Subindex uint64 `yaml:"subindex"`
}

// ActorConfig tunes the persistence actor's reconnect supervisor and
// Merkle-update scheduling.
type ActorConfig struct {
	// MaxConnectAttempts bounds the bounded-retry reconnect supervisor;
	// exhausting it is fatal.
	MaxConnectAttempts int `yaml:"max_connect_attempts"`
	// BaseBackoff is the base of the exponential backoff between connect
	// attempts (attempt i sleeps BaseBackoff * 2^i).
	BaseBackoff time.Duration `yaml:"base_backoff"`
	// ReconnectDelay is the fixed sleep before reconnecting after a
	// mid-operation storage failure.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MerkleUpdateInterval is the target cadence between Merkle root
	// publications when pending withdrawals exist.
	MerkleUpdateInterval time.Duration `yaml:"merkle_update_interval"`
	// OperationQueueSize bounds the actor's inbound operation channel.
	OperationQueueSize int `yaml:"operation_queue_size"`
}

// MonitoringConfig contains monitoring and metrics settings.
type MonitoringConfig struct {
	Enabled     bool `yaml:"enabled"`
	MetricsPort int  `yaml:"metrics_port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&config)
	overrideEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}

	if config.Database.Host == "" {
		config.Database.Host = "localhost"
	}
	if config.Database.Port == 0 {
		config.Database.Port = 5432
	}
	if config.Database.SSLMode == "" {
		config.Database.SSLMode = "disable"
	}

	if config.Ethereum.ConfirmationBlocks == 0 {
		config.Ethereum.ConfirmationBlocks = 12
	}
	if config.Ethereum.RequestTimeout == 0 {
		config.Ethereum.RequestTimeout = 30 * time.Second
	}

	if config.Concordium.RequestTimeout == 0 {
		config.Concordium.RequestTimeout = 30 * time.Second
	}

	if config.Actor.MaxConnectAttempts == 0 {
		config.Actor.MaxConnectAttempts = 5
	}
	if config.Actor.BaseBackoff == 0 {
		config.Actor.BaseBackoff = 500 * time.Millisecond
	}
	if config.Actor.ReconnectDelay == 0 {
		config.Actor.ReconnectDelay = 5 * time.Second
	}
	if config.Actor.MerkleUpdateInterval == 0 {
		config.Actor.MerkleUpdateInterval = 10 * time.Minute
	}
	if config.Actor.OperationQueueSize == 0 {
		config.Actor.OperationQueueSize = 256
	}

	if config.Monitoring.MetricsPort == 0 {
		config.Monitoring.MetricsPort = 9090
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
	if config.Logging.OutputPath == "" {
		config.Logging.OutputPath = "stdout"
	}
}

func overrideEnv(config *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}

	if v := os.Getenv("DATABASE_HOST"); v != "" {
		config.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Database.Port = port
		}
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		config.Database.User = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		config.Database.Password = v
	}
	if v := os.Getenv("DATABASE_DATABASE"); v != "" {
		config.Database.Database = v
	}
	if v := os.Getenv("DATABASE_SSL_MODE"); v != "" {
		config.Database.SSLMode = v
	}

	if v := os.Getenv("ETHEREUM_RPC_URL"); v != "" {
		config.Ethereum.RPCURL = v
	}
	if v := os.Getenv("CONCORDIUM_NODE_URL"); v != "" {
		config.Concordium.NodeURL = v
	}

	if v := os.Getenv("LOGGING_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum.rpc_url is required")
	}
	if config.Concordium.NodeURL == "" {
		return fmt.Errorf("concordium.node_url is required")
	}
	if config.Ethereum.BridgeContract == "" {
		return fmt.Errorf("ethereum.bridge_contract is required")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
