package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported ledger backends.
const (
	BackendStacks = "stacks"
	BackendEVM    = "evm"
)

// Default values
const (
	DefaultBackend      = BackendStacks
	DefaultStacksAPI    = "https://api.testnet.hiro.so"
	DefaultRPC          = "https://rpc-testnet.pila.vn"
	DefaultChainID      = int64(6789)
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60
	DefaultDecimals     = int32(6)
	DefaultLogLevel     = "info"
)

// SignerConfig selects how EVM transactions are signed. Either PrivateKey or
// RemoteURL must be set to submit transactions.
type SignerConfig struct {
	// PrivateKey is a hex private key, with or without 0x prefix.
	PrivateKey string `yaml:"privateKey"`
	// RemoteURL is the endpoint of a remote signing service.
	RemoteURL string `yaml:"remoteUrl"`
	// RemoteAPIKey is sent to the remote signing service in the x-api-key header.
	RemoteAPIKey string `yaml:"remoteApiKey"`
	// Address is the account controlled by the remote signer.
	Address string `yaml:"address"`
}

// Config holds the SDK configuration.
//
// Values left empty in a config file keep their defaults. Strings in the file may
// reference environment variables as $NAME or ${NAME}.
type Config struct {
	// Backend is the ledger the SDK talks to: "stacks" or "evm".
	Backend string `yaml:"backend"`
	// StacksAPI is the base URL of the Stacks API node.
	StacksAPI    string `yaml:"stacksApi"`
	StacksAPIKey string `yaml:"stacksApiKey"`
	// RPC is the EVM JSON-RPC endpoint URL.
	RPC     string `yaml:"rpc"`
	ChainID int64  `yaml:"chainId"`
	// VaultAddress is the address of the savings vault contract (EVM only).
	VaultAddress string       `yaml:"vaultAddress"`
	Signer       SignerConfig `yaml:"signer"`

	PollInterval time.Duration `yaml:"pollInterval"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	// Deadline bounds a tracking session in wall-clock time. Zero disables it.
	Deadline time.Duration `yaml:"deadline"`

	// JournalPath is the SQLite file recording tracked transactions. Empty disables the journal.
	JournalPath string `yaml:"journalPath"`
	LogLevel    string `yaml:"logLevel"`
	// Decimals is the number of decimal places of the savings token.
	Decimals int32 `yaml:"decimals"`
}

// Option is a functional option for configuring Config.
type Option func(*Config)

// WithBackend sets the ledger backend.
func WithBackend(backend string) Option {
	return func(c *Config) { c.Backend = strings.ToLower(backend) }
}

// WithStacksAPI sets the Stacks API base URL.
func WithStacksAPI(u string) Option {
	return func(c *Config) { c.StacksAPI = u }
}

// WithRPC sets the EVM RPC endpoint URL.
func WithRPC(rpc string) Option {
	return func(c *Config) { c.RPC = rpc }
}

// WithChainID sets the EVM chain ID.
func WithChainID(chainID int64) Option {
	return func(c *Config) { c.ChainID = chainID }
}

// WithVaultAddress sets the vault contract address.
func WithVaultAddress(addr string) Option {
	return func(c *Config) { c.VaultAddress = strings.ToLower(addr) }
}

// WithPrivateKey signs EVM transactions with a local key.
func WithPrivateKey(key string) Option {
	return func(c *Config) { c.Signer.PrivateKey = key }
}

// WithPollInterval sets the delay between two status reads.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithMaxAttempts sets how many non-final reads end a session with a timeout.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithDeadline sets the wall-clock ceiling of a tracking session.
func WithDeadline(d time.Duration) Option {
	return func(c *Config) { c.Deadline = d }
}

// WithJournalPath sets the journal database file.
func WithJournalPath(path string) Option {
	return func(c *Config) { c.JournalPath = path }
}

// WithLogLevel sets the log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// WithDecimals sets the token decimals used to format amounts.
func WithDecimals(d int32) Option {
	return func(c *Config) { c.Decimals = d }
}

// Default returns a Config populated with the default values.
func Default() *Config {
	return &Config{
		Backend:      DefaultBackend,
		StacksAPI:    DefaultStacksAPI,
		RPC:          DefaultRPC,
		ChainID:      DefaultChainID,
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
		LogLevel:     DefaultLogLevel,
		Decimals:     DefaultDecimals,
	}
}

// New creates a Config from the defaults and applies opts.
func New(opts ...Option) *Config {
	c := Default()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads a YAML config file over the defaults and then applies opts.
// An empty path yields New(opts...).
func Load(path string, opts ...Option) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	c.Backend = strings.ToLower(c.Backend)
	return c, nil
}

// Validate checks that the configuration is usable for its backend.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendStacks:
		if err := validateURL("stacksApi", c.StacksAPI); err != nil {
			errs = append(errs, err)
		}
	case BackendEVM:
		if err := validateURL("rpc", c.RPC); err != nil {
			errs = append(errs, err)
		}
		if c.ChainID <= 0 {
			errs = append(errs, fmt.Errorf("chainId must be positive, got %d", c.ChainID))
		}
		if c.VaultAddress == "" {
			errs = append(errs, errors.New("vaultAddress is required for the evm backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported backend %q", c.Backend))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pollInterval must be positive, got %s", c.PollInterval))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("maxAttempts must be positive, got %d", c.MaxAttempts))
	}
	if c.Deadline < 0 {
		errs = append(errs, fmt.Errorf("deadline must not be negative, got %s", c.Deadline))
	}
	if c.Decimals < 0 {
		errs = append(errs, fmt.Errorf("decimals must not be negative, got %d", c.Decimals))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// HasSigner reports whether a transaction signer is configured.
func (c *Config) HasSigner() bool {
	return c.Signer.PrivateKey != "" || c.Signer.RemoteURL != ""
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL: %q", field, raw)
	}
	return nil
}
