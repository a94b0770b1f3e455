package api

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/rawblock/utxo-explorer/internal/config"
)

// paramsForCoin builds the chaincfg.Params btcutil needs to decode an
// address for coin, from the version bytes and segwit HRP in its TOML
// config. Only the fields address decoding actually reads are filled
// in — this is not a full network profile.
func paramsForCoin(coin *config.Coin) *chaincfg.Params {
	return &chaincfg.Params{
		PubKeyHashAddrID: byte(coin.AddressVersion),
		ScriptHashAddrID: byte(coin.P2SHVersion),
		Bech32HRPSegwit:  coin.SegwitHRP,
	}
}

// decodeScriptOrAddress implements the "script_or_address" path parameter
// contract: try network address decode first, fall back to raw hex script.
func decodeScriptOrAddress(params *chaincfg.Params, s string) ([]byte, error) {
	if addr, err := btcutil.DecodeAddress(s, params); err == nil {
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("api: build script for address %s: %w", s, err)
		}
		return script, nil
	}
	script, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("api: %q is neither a valid address nor hex script", s)
	}
	return script, nil
}
