package config

import (
	"os"
	"testing"
)

// withEnv sets the given env vars for the duration of the test and
// restores whatever was there before, including unsetting vars that
// didn't exist beforehand.
func withEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		old, had := os.LookupEnv(k)
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("set env %s: %v", k, err)
		}
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
}

func baseRequiredEnv() map[string]string {
	return map[string]string{
		"WS_RPC_URL":     "wss://example.invalid/ws",
		"ORDERBOOK":      "0x0000000000000000000000000000000000000001",
		"ORDER_OWNER":    "0x0000000000000000000000000000000000000002",
		"USDC":           "0x0000000000000000000000000000000000000003",
		"ENCRYPTION_KEY": "00000000000000000000000000000000000000000000000000000000000000",
	}
}

func TestLoadDryRunRequiresOnlyBaseFields(t *testing.T) {
	env := baseRequiredEnv()
	env["BROKER"] = "dry-run"
	withEnv(t, env)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with dry-run broker and no broker-specific vars: %v", err)
	}
	if cfg.Broker.Kind != "dry-run" {
		t.Errorf("Broker.Kind = %q, want dry-run", cfg.Broker.Kind)
	}
}

func TestLoadOAuthRequiresAppCredentials(t *testing.T) {
	env := baseRequiredEnv()
	env["BROKER"] = "oauth"
	withEnv(t, env)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with BROKER=oauth and no APP_KEY/APP_SECRET/BASE_URL/REDIRECT_URI did not error")
	}

	env["BASE_URL"] = "https://broker.invalid"
	env["APP_KEY"] = "key"
	env["APP_SECRET"] = "secret"
	env["REDIRECT_URI"] = "https://hedgeengine.invalid/callback"
	withEnv(t, env)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with all oauth fields set: %v", err)
	}
	if cfg.Broker.AppKey != "key" {
		t.Errorf("Broker.AppKey = %q, want key", cfg.Broker.AppKey)
	}
}

func TestLoadAPIKeyRequiresValidTradingMode(t *testing.T) {
	env := baseRequiredEnv()
	env["BROKER"] = "apikey"
	env["BASE_URL"] = "https://broker.invalid"
	env["KEY_ID"] = "key-id"
	env["SECRET_KEY"] = "secret-key"
	env["TRADING_MODE"] = "bogus"
	withEnv(t, env)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with an invalid TRADING_MODE did not error")
	}

	env["TRADING_MODE"] = "paper"
	withEnv(t, env)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with TRADING_MODE=paper: %v", err)
	}
	if cfg.Broker.TradingMode != "paper" {
		t.Errorf("Broker.TradingMode = %q, want paper", cfg.Broker.TradingMode)
	}
}

func TestLoadRejectsUnsupportedBrokerKind(t *testing.T) {
	env := baseRequiredEnv()
	env["BROKER"] = "carrier-pigeon"
	withEnv(t, env)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with an unsupported BROKER kind did not error")
	}
}

func TestLoadRejectsShortEncryptionKey(t *testing.T) {
	env := baseRequiredEnv()
	env["BROKER"] = "dry-run"
	env["ENCRYPTION_KEY"] = "abcd"
	withEnv(t, env)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with a non-32-byte ENCRYPTION_KEY did not error")
	}
}

func TestLoadRejectsMissingChainFields(t *testing.T) {
	for _, missing := range []string{"WS_RPC_URL", "ORDERBOOK", "ORDER_OWNER", "USDC"} {
		env := baseRequiredEnv()
		env["BROKER"] = "dry-run"
		delete(env, missing)
		withEnv(t, env)
		_ = os.Unsetenv(missing)

		if _, err := Load(); err == nil {
			t.Errorf("Load() with %s unset did not error", missing)
		}
	}
}
