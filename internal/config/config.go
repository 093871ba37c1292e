package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config coordinator configuration
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Database  DatabaseConfig  `yaml:"database"`
	Prover    ProverConfig    `yaml:"prover"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Slash     SlashConfig     `yaml:"slash"`
	NATS      NATSConfig      `yaml:"nats"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// ChainConfig chain connection and signing configuration
type ChainConfig struct {
	ChainID         uint64        `yaml:"chainId"`
	RPCURL          string        `yaml:"rpcUrl"`
	PrivateKey      string        `yaml:"privateKey"`
	ContractAddress string        `yaml:"contractAddress"`
	FromBlock       *uint64       `yaml:"fromBlock"`      // nil = latest
	PollInterval    time.Duration `yaml:"pollInterval"`   // log polling when the RPC has no subscriptions
	ConfirmTimeout  time.Duration `yaml:"confirmTimeout"` // wait for a transaction to be mined
	GasLimit        uint64        `yaml:"gasLimit"`       // 0 = estimate
	GasPrice        string        `yaml:"gasPrice"`       // wei, empty = suggest
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres | sqlite
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

// ProverConfig program under proof and proving service settings
type ProverConfig struct {
	ProverType string        `yaml:"proverType"`
	Timeout    time.Duration `yaml:"timeout"`
	ELFPath    string        `yaml:"elfPath"`
	InputsPath string        `yaml:"inputsPath"`
	ImageID    string        `yaml:"imageId"`
}

// ExecutorConfig local executor used for cycle estimation
type ExecutorConfig struct {
	Command string            `yaml:"command"` // empty = zero-cycle estimate
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout"`
}

// ReconcileConfig store polling bounds
type ReconcileConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// SlashConfig slash automation on verification mismatch
type SlashConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RetryInterval time.Duration `yaml:"retryInterval"`
	MaxRetries    int           `yaml:"maxRetries"`
}

// NATSConfig outcome notifications, disabled when URL is empty
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subjectPrefix"`
	Stream        string        `yaml:"stream"` // JetStream stream name, empty = core NATS
	Timeout       time.Duration `yaml:"timeout"`
}

// ServerConfig status API configuration, disabled when Port is 0
type ServerConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	JWTSecret         string   `yaml:"jwtSecret"`         // empty = /api unauthenticated
	TOTPSecret        string   `yaml:"totpSecret"`        // empty = no /auth/token login
	MetricsAllowedIPs []string `yaml:"metricsAllowedIPs"` // besides localhost, IPs or CIDRs
	TrustedProxies    []string `yaml:"trustedProxies"`    // empty = X-Forwarded-For is ignored
}

// LogConfig logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Default configuration before file and environment are applied
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			PollInterval:   2 * time.Second,
			ConfirmTimeout: 2 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Prover: ProverConfig{
			ProverType: "RiscZero",
			Timeout:    10 * time.Minute,
		},
		Executor: ExecutorConfig{
			Timeout: 5 * time.Minute,
		},
		Reconcile: ReconcileConfig{
			Attempts: 5,
			Delay:    2 * time.Second,
		},
		Slash: SlashConfig{
			Enabled:       true,
			RetryInterval: 30 * time.Second,
			MaxRetries:    10,
		},
		NATS: NATSConfig{
			SubjectPrefix: "proofplus",
			Timeout:       10 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at configPath over the defaults and applies
// environment overrides. An empty path selects config.local.yaml or
// config.yaml; when neither exists only defaults and environment are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overrideFromEnv Override configuration from environment
func overrideFromEnv(cfg *Config) error {
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		id, err := strconv.ParseUint(chainID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAIN_ID %q: %w", chainID, err)
		}
		cfg.Chain.ChainID = id
	}
	if rpcURL := os.Getenv("RPC_URL"); rpcURL != "" {
		cfg.Chain.RPCURL = rpcURL
	}
	if privateKey := os.Getenv("PRIVATE_KEY"); privateKey != "" {
		cfg.Chain.PrivateKey = privateKey
	}
	if contract := os.Getenv("CONTRACT_ADDRESS"); contract != "" {
		cfg.Chain.ContractAddress = contract
	}

	// DATABASE_DSN wins over DATABASE_URL
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if totpSecret := os.Getenv("ADMIN_TOTP_SECRET"); totpSecret != "" {
		cfg.Server.TOTPSecret = totpSecret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if command := os.Getenv("EXECUTOR_COMMAND"); command != "" {
		cfg.Executor.Command = command
	}
	return nil
}

// Validate checks the settings the coordinator cannot start without
func (c *Config) Validate() error {
	var problems []string

	if c.Chain.ChainID == 0 {
		problems = append(problems, "chain.chainId is required")
	}
	if c.Chain.RPCURL == "" {
		problems = append(problems, "chain.rpcUrl is required")
	}
	if c.Chain.PrivateKey == "" {
		problems = append(problems, "chain.privateKey is required")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		problems = append(problems, "chain.contractAddress must be a hex address")
	}
	if _, err := c.Chain.GasPriceWei(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Database.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Reconcile.Attempts <= 0 {
		problems = append(problems, "reconcile.attempts must be positive")
	}
	if c.Reconcile.Delay < 0 {
		problems = append(problems, "reconcile.delay must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	if d.DSN == "" {
		return errors.New("database.dsn is required")
	}
	switch d.Driver {
	case "postgres", "sqlite":
		return nil
	default:
		return fmt.Errorf("database.driver %q is not supported", d.Driver)
	}
}

// ContractAddressValue parsed TaskManager address
func (c ChainConfig) ContractAddressValue() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// FromBlockNumber start block for log subscriptions, nil = latest
func (c ChainConfig) FromBlockNumber() *big.Int {
	if c.FromBlock == nil {
		return nil
	}
	return new(big.Int).SetUint64(*c.FromBlock)
}

// GasPriceWei fixed gas price, nil when the node should suggest one
func (c ChainConfig) GasPriceWei() (*big.Int, error) {
	if c.GasPrice == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(c.GasPrice, 10)
	if !ok || price.Sign() < 0 {
		return nil, fmt.Errorf("chain.gasPrice %q is not a wei amount", c.GasPrice)
	}
	return price, nil
}

// Address listen address of the status API
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
