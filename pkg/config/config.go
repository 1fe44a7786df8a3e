// Package config loads and validates the oracle's configuration from
// environment variables, following the same getEnv*/Validate/
// ValidateForDevelopment shape used across the wider example pack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every recognized option from spec.md §6 plus the ambient
// options SPEC_FULL.md §10 adds on top (log level, the opt-in /logs
// endpoint, optional audit trail).
type Config struct {
	// Chain endpoints and contracts
	AssetRPCURL             string
	PaymentRPCURL            string
	AssetChainID             int64
	PaymentChainID           int64
	AssetContractAddress     string
	PaymentContractAddress   string
	AssetSignerKey           string
	PaymentSignerKey         string

	// Timers
	EventPollInterval time.Duration
	SweepInterval     time.Duration

	// Submitter
	CallbackGasLimit uint64
	SubmitMaxRetries int

	// Status Surface
	ServerPort int

	// Ambient
	LogLevel          string
	LogsEndpointEnabled bool // see DESIGN.md Open Question decision #1

	// Optional audit trail (additive, never blocks the state machine)
	AuditDatabaseURL string
}

// Load reads configuration from environment variables. Required fields
// (RPC URLs, contract addresses, signer keys) have no defaults; call
// Validate() before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		AssetRPCURL:            getEnv("ORACLE_ASSET_RPC_URL", ""),
		PaymentRPCURL:          getEnv("ORACLE_PAYMENT_RPC_URL", ""),
		AssetChainID:           getEnvInt64("ORACLE_ASSET_CHAIN_ID", 1),
		PaymentChainID:         getEnvInt64("ORACLE_PAYMENT_CHAIN_ID", 1),
		AssetContractAddress:   getEnv("ORACLE_ASSET_CONTRACT_ADDRESS", ""),
		PaymentContractAddress: getEnv("ORACLE_PAYMENT_CONTRACT_ADDRESS", ""),
		AssetSignerKey:         getEnv("ORACLE_ASSET_SIGNER_KEY", ""),
		PaymentSignerKey:       getEnv("ORACLE_PAYMENT_SIGNER_KEY", ""),

		EventPollInterval: getEnvDuration("ORACLE_EVENT_POLL_INTERVAL", 15*time.Second),
		SweepInterval:     getEnvDuration("ORACLE_SWEEP_INTERVAL", 30*time.Second),

		CallbackGasLimit: uint64(getEnvInt("ORACLE_CALLBACK_GAS_LIMIT", 200_000)),
		SubmitMaxRetries: getEnvInt("ORACLE_SUBMIT_MAX_RETRIES", 3),

		ServerPort: getEnvInt("ORACLE_SERVER_PORT", 8080),

		LogLevel:            getEnv("ORACLE_LOG_LEVEL", "info"),
		LogsEndpointEnabled: getEnvBool("ORACLE_LOGS_ENDPOINT_ENABLED", false),

		AuditDatabaseURL: getEnv("ORACLE_AUDIT_DATABASE_URL", ""),
	}

	return cfg, nil
}

// Validate checks that every field required for production operation is
// present and internally consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.AssetRPCURL == "" {
		errs = append(errs, "ORACLE_ASSET_RPC_URL is required but not set")
	}
	if c.PaymentRPCURL == "" {
		errs = append(errs, "ORACLE_PAYMENT_RPC_URL is required but not set")
	}
	if c.AssetContractAddress == "" {
		errs = append(errs, "ORACLE_ASSET_CONTRACT_ADDRESS is required but not set")
	}
	if c.PaymentContractAddress == "" {
		errs = append(errs, "ORACLE_PAYMENT_CONTRACT_ADDRESS is required but not set")
	}
	if c.AssetSignerKey == "" {
		errs = append(errs, "ORACLE_ASSET_SIGNER_KEY is required but not set")
	}
	if c.PaymentSignerKey == "" {
		errs = append(errs, "ORACLE_PAYMENT_SIGNER_KEY is required but not set")
	}
	if c.EventPollInterval <= 0 {
		errs = append(errs, "ORACLE_EVENT_POLL_INTERVAL must be positive")
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, "ORACLE_SWEEP_INTERVAL must be positive")
	}
	if c.CallbackGasLimit == 0 {
		errs = append(errs, "ORACLE_CALLBACK_GAS_LIMIT must be positive")
	}
	if c.SubmitMaxRetries <= 0 {
		errs = append(errs, "ORACLE_SUBMIT_MAX_RETRIES must be positive")
	}
	if c.AuditDatabaseURL != "" && strings.Contains(c.AuditDatabaseURL, "sslmode=disable") {
		errs = append(errs, "ORACLE_AUDIT_DATABASE_URL must not disable TLS in production")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation for local development
// against two local devnets. WARNING: do not use in production.
func (c *Config) ValidateForDevelopment() error {
	var errs []string

	if c.AssetRPCURL == "" {
		errs = append(errs, "ORACLE_ASSET_RPC_URL is required")
	}
	if c.PaymentRPCURL == "" {
		errs = append(errs, "ORACLE_PAYMENT_RPC_URL is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("development configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
