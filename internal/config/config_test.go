package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTOML = `
[global]
rpc_user = "defaultuser"
rpc_pass = "defaultpass"
http_ip = "127.0.0.1"

[coins.btc]
genesis_block_hash = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26"
address_version = 0
p2sh_version = 5
rpc_endpoint = "http://127.0.0.1:8332"
rest_endpoint = "http://127.0.0.1:8332"
http_port = 9001
data_dir = "/tmp/btc"

[coins.ltc]
genesis_block_hash = "12a765e31ffd4059bada1e25190f6e98c99d9714d334efa41a195a7e7e04bfe"
address_version = 48
rpc_endpoint = "http://127.0.0.1:9332"
rpc_user = "ltcuser"
http_port = 9002
data_dir = "/tmp/ltc"
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMergesGlobalDefaultsIntoEachCoin(t *testing.T) {
	cfg, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	btc, ok := cfg.Get("btc")
	if !ok {
		t.Fatalf("Get(btc) = false, want true")
	}
	if btc.RPCUser != "defaultuser" || btc.RPCPass != "defaultpass" {
		t.Fatalf("btc credentials = %q/%q, want global defaults", btc.RPCUser, btc.RPCPass)
	}
	if btc.HTTPIP != "127.0.0.1" {
		t.Fatalf("btc.HTTPIP = %q, want inherited global default", btc.HTTPIP)
	}
	if btc.Name != "btc" {
		t.Fatalf("btc.Name = %q, want btc", btc.Name)
	}
}

func TestLoadPerCoinOverridesGlobal(t *testing.T) {
	cfg, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ltc, ok := cfg.Get("ltc")
	if !ok {
		t.Fatalf("Get(ltc) = false, want true")
	}
	if ltc.RPCUser != "ltcuser" {
		t.Fatalf("ltc.RPCUser = %q, want the per-coin override ltcuser", ltc.RPCUser)
	}
	if ltc.RPCPass != "defaultpass" {
		t.Fatalf("ltc.RPCPass = %q, want the inherited global default", ltc.RPCPass)
	}
}

func TestGetUnknownCoin(t *testing.T) {
	cfg, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Get("doge"); ok {
		t.Fatalf("Get(doge) = true, want false")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatalf("Load(missing file) = nil error, want error")
	}
}

func TestApplyEnvSecretsOverridesRPCCredentials(t *testing.T) {
	t.Setenv("BTC_RPC_USER", "envuser")
	t.Setenv("BTC_RPC_PASS", "envpass")

	cfg, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	btc, ok := cfg.Get("btc")
	if !ok {
		t.Fatalf("Get(btc) = false, want true")
	}
	if btc.RPCUser != "envuser" || btc.RPCPass != "envpass" {
		t.Fatalf("btc credentials = %q/%q, want env overrides", btc.RPCUser, btc.RPCPass)
	}
}
