// Package config loads the per-coin TOML configuration via spf13/viper. A
// [global] table supplies defaults that each [coins.NAME] table overrides;
// RPC credentials additionally accept an environment-variable override
// (COIN_RPC_USER / COIN_RPC_PASS) for secrets that should never live in a
// committed file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Coin holds one chain's full configuration after merging [global] defaults
// with its [coins.NAME] overrides.
type Coin struct {
	Name             string `mapstructure:"-"`
	GenesisBlockHash string `mapstructure:"genesis_block_hash"`
	AddressVersion   int    `mapstructure:"address_version"`
	P2SHVersion      int    `mapstructure:"p2sh_version"`
	SegwitHRP        string `mapstructure:"segwit_hrp"`
	RPCEndpoint      string `mapstructure:"rpc_endpoint"`
	RPCUser          string `mapstructure:"rpc_user"`
	RPCPass          string `mapstructure:"rpc_pass"`
	RESTEndpoint     string `mapstructure:"rest_endpoint"`
	ZMQEndpoint      string `mapstructure:"zmq_endpoint"`
	HTTPIP           string `mapstructure:"http_ip"`
	HTTPPort         int    `mapstructure:"http_port"`
	WSEndpoint       string `mapstructure:"ws_endpoint"`
	DataDir          string `mapstructure:"data_dir"`
}

// Config is the whole parsed file: every coin, already merged with global
// defaults.
type Config struct {
	Coins map[string]*Coin
}

// Load reads and merges the TOML file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	global := v.GetStringMap("global")
	coinsRaw := v.GetStringMap("coins")

	cfg := &Config{Coins: make(map[string]*Coin, len(coinsRaw))}
	for name, raw := range coinsRaw {
		coinMap, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("config: coins.%s is not a table", name)
		}
		merged := make(map[string]interface{}, len(global)+len(coinMap))
		for k, val := range global {
			merged[k] = val
		}
		for k, val := range coinMap {
			merged[k] = val
		}

		var coin Coin
		if err := mapstructure.Decode(merged, &coin); err != nil {
			return nil, fmt.Errorf("config: decode coins.%s: %w", name, err)
		}
		coin.Name = name
		applyEnvSecrets(&coin)
		cfg.Coins[name] = &coin
	}
	return cfg, nil
}

// applyEnvSecrets overrides RPC credentials from <COIN>_RPC_USER and
// <COIN>_RPC_PASS when set, so operators never need to commit them to the
// TOML file.
func applyEnvSecrets(c *Coin) {
	prefix := strings.ToUpper(c.Name)
	if v := os.Getenv(prefix + "_RPC_USER"); v != "" {
		c.RPCUser = v
	}
	if v := os.Getenv(prefix + "_RPC_PASS"); v != "" {
		c.RPCPass = v
	}
}

// Get returns the named coin's config, or ok=false if unknown.
func (c *Config) Get(name string) (*Coin, bool) {
	coin, ok := c.Coins[name]
	return coin, ok
}
