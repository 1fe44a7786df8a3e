package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ORACLE_ASSET_RPC_URL", "ORACLE_PAYMENT_RPC_URL",
		"ORACLE_ASSET_CONTRACT_ADDRESS", "ORACLE_PAYMENT_CONTRACT_ADDRESS",
		"ORACLE_ASSET_SIGNER_KEY", "ORACLE_PAYMENT_SIGNER_KEY",
		"ORACLE_EVENT_POLL_INTERVAL", "ORACLE_SWEEP_INTERVAL",
		"ORACLE_CALLBACK_GAS_LIMIT", "ORACLE_SUBMIT_MAX_RETRIES",
		"ORACLE_AUDIT_DATABASE_URL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.EventPollInterval != 15*time.Second {
		t.Errorf("EventPollInterval = %v, want 15s", cfg.EventPollInterval)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.CallbackGasLimit != 200_000 {
		t.Errorf("CallbackGasLimit = %d, want 200000", cfg.CallbackGasLimit)
	}
	if cfg.SubmitMaxRetries != 3 {
		t.Errorf("SubmitMaxRetries = %d, want 3", cfg.SubmitMaxRetries)
	}
	if cfg.LogsEndpointEnabled {
		t.Error("LogsEndpointEnabled should default to false (opt-in)")
	}
}

func TestValidateRequiresCoreFields(t *testing.T) {
	clearEnv(t)
	cfg, _ := Load()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error with no env set")
	}
	for _, want := range []string{
		"ORACLE_ASSET_RPC_URL", "ORACLE_PAYMENT_RPC_URL",
		"ORACLE_ASSET_CONTRACT_ADDRESS", "ORACLE_PAYMENT_CONTRACT_ADDRESS",
		"ORACLE_ASSET_SIGNER_KEY", "ORACLE_PAYMENT_SIGNER_KEY",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing mention of %s: %v", want, err)
		}
	}
}

func TestValidatePasses(t *testing.T) {
	clearEnv(t)
	os.Setenv("ORACLE_ASSET_RPC_URL", "http://localhost:8545")
	os.Setenv("ORACLE_PAYMENT_RPC_URL", "http://localhost:8546")
	os.Setenv("ORACLE_ASSET_CONTRACT_ADDRESS", "0x1111111111111111111111111111111111111111")
	os.Setenv("ORACLE_PAYMENT_CONTRACT_ADDRESS", "0x2222222222222222222222222222222222222222")
	os.Setenv("ORACLE_ASSET_SIGNER_KEY", "deadbeef")
	os.Setenv("ORACLE_PAYMENT_SIGNER_KEY", "beefdead")
	defer clearEnv(t)

	cfg, _ := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
