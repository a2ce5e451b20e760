// Package config provides centralized configuration for the monerizer
// daemon. All tunables (provider credentials, wallet endpoint, fee policy,
// sweep cadence) are defined here; no hardcoded values should exist
// elsewhere in the codebase.
//
// Configuration is layered: defaults, then an optional YAML file, then
// environment variables (which always win, so containerized deployments
// need no file at all).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ProvidersConfig holds API credentials for the external swap providers.
type ProvidersConfig struct {
	ChangeNowKey  string `yaml:"changenow_api_key" envconfig:"CHANGENOW_API_KEY"`
	ExolixKey     string `yaml:"exolix_api_key" envconfig:"EXOLIX_API_KEY"`
	SimpleSwapKey string `yaml:"simpleswap_api_key" envconfig:"SIMPLESWAP_API_KEY"`
	StealthExKey  string `yaml:"stealthex_api_key" envconfig:"STEALTHEX_API_KEY"`
}

// WalletConfig holds the monero-wallet-rpc endpoint settings.
type WalletConfig struct {
	RPCURL  string `yaml:"rpc_url" envconfig:"XMR_WALLET_RPC_URL"`
	RPCUser string `yaml:"rpc_user" envconfig:"XMR_WALLET_RPC_USER"`
	RPCPass string `yaml:"rpc_pass" envconfig:"XMR_WALLET_RPC_PASS"`
}

// FeeConfig holds the fee policy parameters.
type FeeConfig struct {
	// MaxRatio caps our fee at this fraction of the leg-1 XMR proceeds.
	MaxRatio float64 `yaml:"max_ratio" envconfig:"OUR_FEE_MAX_RATIO"`

	// SendReserveXMR is held back from every forward transfer to cover
	// the Monero network fee.
	SendReserveXMR float64 `yaml:"send_reserve_xmr" envconfig:"XMR_SEND_FEE_RESERVE"`

	// StealthExHaircut discounts the mid-market estimate used when
	// StealthEX confirms a pair but we avoid creating a probe order.
	StealthExHaircut float64 `yaml:"stealthex_haircut" envconfig:"STEALTHEX_QUOTE_HAIRCUT"`
}

// SweepConfig holds the background sweeper settings.
type SweepConfig struct {
	// IntervalSeconds is the pause between sweep cycles.
	IntervalSeconds float64 `yaml:"interval_seconds" envconfig:"SWEEP_INTERVAL_S"`

	// Parallelism bounds how many swaps are advanced concurrently.
	Parallelism int `yaml:"parallelism"`
}

// Interval returns the sweep interval as a duration.
func (s SweepConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds * float64(time.Second))
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" envconfig:"API_LISTEN_ADDR"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the registry snapshot and audit log.
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
}

// Config holds all configuration for the daemon.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Fees      FeeConfig       `yaml:"fees"`
	Sweep     SweepConfig     `yaml:"sweep"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Wallet: WalletConfig{
			RPCURL: "http://127.0.0.1:18083/json_rpc",
		},
		Fees: FeeConfig{
			MaxRatio:         0.15,
			SendReserveXMR:   0.00030,
			StealthExHaircut: 0.93,
		},
		Sweep: SweepConfig{
			IntervalSeconds: 8,
			Parallelism:     8,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8080",
		},
		Storage: StorageConfig{
			DataDir: "~/.monerizer",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// FileName is the default config file name inside the data directory.
const FileName = "config.yaml"

// Load builds the effective configuration: defaults, overlaid with the
// YAML file at dataDir (if present), overlaid with environment variables.
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	path := filepath.Join(ExpandPath(cfg.Storage.DataDir), FileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Monerizer daemon configuration\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
