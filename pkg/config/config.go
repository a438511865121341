// Copyright 2025 Certen Protocol
//
// Configuration for the Bitácora service. Values are layered: built-in
// defaults with environment variables applied over them, then an optional
// YAML file, then CLI flags -- each layer overriding the last. The YAML layer exists
// because operators running a fleet of devices need a checked-in config
// rather than a long flag line.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the coordinator, notarizer and HTTP server need
// to run.
type Config struct {
	// Chain Configuration
	Web3URL         string `yaml:"web3_url"`
	ChainID         int64  `yaml:"chain_id"`
	ContractsBase   string `yaml:"contracts_base"` // directory holding contract ABI/address artifacts
	ContractAddress string `yaml:"contract_address"`
	PrivateKey      string `yaml:"private_key"`
	BlockchainLabel string `yaml:"blockchain_label"`

	// Dataset Configuration
	DatasetLimit uint32 `yaml:"dataset_limit"`

	// Storage Configuration
	RedisURL string `yaml:"redis_url"`

	// Server Configuration
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Defaults returns a Config populated from the BITACORA_* environment
// variables, falling back to a built-in default for each one that is unset
// or does not parse.
func Defaults() *Config {
	return &Config{
		Web3URL:         getEnv("BITACORA_WEB3_URL", "http://localhost:8545"),
		ChainID:         getEnvInt64("BITACORA_CHAIN_ID", 11155111),
		ContractsBase:   getEnv("BITACORA_CONTRACTS_BASE", "./contracts"),
		ContractAddress: getEnv("BITACORA_CONTRACT_ADDRESS", ""),
		PrivateKey:      getEnv("BITACORA_PRIVATE_KEY", ""),
		BlockchainLabel: getEnv("BITACORA_BLOCKCHAIN_LABEL", "evm"),
		DatasetLimit:    uint32(getEnvInt("BITACORA_DATASET_LIMIT", 10)),
		RedisURL:        getEnv("BITACORA_REDIS_URL", "redis://localhost:6379"),
		ListenAddr:      getEnv("BITACORA_LISTEN_ADDR", ":8080"),
		MetricsAddr:     getEnv("BITACORA_METRICS_ADDR", ":9090"),
		LogLevel:        getEnv("BITACORA_LOG_LEVEL", "info"),
	}
}

// LoadFile merges a YAML config file's fields onto the receiver. Absent
// fields in the file leave the receiver's current value untouched, since
// yaml.Unmarshal only overwrites keys present in the document.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that the fields required to run the service are
// present.
func (c *Config) Validate() error {
	var errs []string
	if c.Web3URL == "" {
		errs = append(errs, "web3 URL is required")
	}
	if c.ContractAddress == "" {
		errs = append(errs, "contract address is required")
	}
	if c.PrivateKey == "" {
		errs = append(errs, "private key is required")
	}
	if c.DatasetLimit == 0 {
		errs = append(errs, "dataset limit must be greater than zero")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
