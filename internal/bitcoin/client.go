// Package bitcoin is the node adapter: a read-only client exposing
// chaininfo, headers(count, from_hash), block(hash), and
// sendrawtransaction(hex), plus a subscription stream standing in for the
// node's hashblock/rawtx push notifications. Headers are fetched against
// Bitcoin Core's native REST interface, since no JSON-RPC method returns a
// header range directly.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// Config holds the connection parameters for one coin's node. The engine
// fills the RPC fields from the coin's config, where <COIN>_RPC_USER and
// <COIN>_RPC_PASS environment variables override the TOML values; REST is a
// plain HTTP base URL.
type Config struct {
	RPCEndpoint string
	RPCUser     string
	RPCPass     string
	RESTEndpoint string
}

// Client is the node adapter: an RPC client for chaininfo/block/broadcast,
// plus a plain HTTP client against the node's REST interface for headers.
type Client struct {
	rpc      *rpcclient.Client
	restBase string
	http     *http.Client
}

// NewClient connects to the node's JSON-RPC interface and verifies the
// connection with a lightweight call before handing back a usable Client.
func NewClient(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.RPCEndpoint,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("[bitcoin] connecting to node RPC at %s...", cfg.RPCEndpoint)
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: connect rpc: %w", err)
	}

	blockCount, err := rpc.GetBlockCount()
	if err != nil {
		rpc.Shutdown()
		return nil, fmt.Errorf("bitcoin: verify rpc connection: %w", err)
	}
	log.Printf("[bitcoin] connected, node height %d", blockCount)

	return &Client{
		rpc:      rpc,
		restBase: cfg.RESTEndpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Shutdown releases the RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// ChainInfo is the chaininfo() response.
type ChainInfo struct {
	Blocks        uint32
	BestBlockHash chainhash.Hash
}

// ChainInfo returns the node's current tip.
func (c *Client) ChainInfo() (ChainInfo, error) {
	info, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return ChainInfo{}, fmt.Errorf("bitcoin: chaininfo: %w", err)
	}
	hash, err := chainhash.NewHashFromStr(info.BestBlockHash)
	if err != nil {
		return ChainInfo{}, fmt.Errorf("bitcoin: parse bestblockhash: %w", err)
	}
	return ChainInfo{Blocks: uint32(info.Blocks), BestBlockHash: *hash}, nil
}

// Headers requests up to count consensus-encoded headers starting with
// fromHash's own header (the node echoes it first; callers that want to
// skip it — the fetcher always does — drop headers[0] themselves). Returns
// an empty slice, not an error, when fromHash is unknown to the node: that
// is the reorg detection signal the applier watches for.
func (c *Client) Headers(ctx context.Context, count int, fromHash chainhash.Hash) ([]*wire.BlockHeader, error) {
	url := fmt.Sprintf("%s/rest/headers/%d/%s.bin", c.restBase, count, fromHash.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: build headers request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: headers request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bitcoin: headers request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: read headers response: %w", err)
	}

	const headerSize = 80
	if len(body)%headerSize != 0 {
		return nil, fmt.Errorf("bitcoin: headers response not a multiple of %d bytes", headerSize)
	}

	n := len(body) / headerSize
	headers := make([]*wire.BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		var raw [headerSize]byte
		copy(raw[:], body[i*headerSize:(i+1)*headerSize])
		h, err := decodeHeader(raw)
		if err != nil {
			return nil, fmt.Errorf("bitcoin: decode header %d: %w", i, err)
		}
		headers = append(headers, h)
	}
	return headers, nil
}

func decodeHeader(raw [80]byte) (*wire.BlockHeader, error) {
	h := &wire.BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(raw[:])); err != nil {
		return nil, err
	}
	return h, nil
}

// Block fetches a full block by hash via JSON-RPC.
func (c *Client) Block(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	block, err := c.rpc.GetBlock(&hash)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: block %s: %w", hash, err)
	}
	return block, nil
}

// SendRawTransaction broadcasts a hex-encoded transaction and returns its
// txid.
func (c *Client) SendRawTransaction(rawHex string) (chainhash.Hash, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("bitcoin: decode raw tx hex: %w", err)
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return chainhash.Hash{}, fmt.Errorf("bitcoin: deserialize raw tx: %w", err)
	}
	txid, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("bitcoin: sendrawtransaction: %w", err)
	}
	return *txid, nil
}

// GetRawMempool lists the txids currently in the node's mempool.
func (c *Client) GetRawMempool() ([]*chainhash.Hash, error) {
	hashes, err := c.rpc.GetRawMempool()
	if err != nil {
		return nil, fmt.Errorf("bitcoin: getrawmempool: %w", err)
	}
	return hashes, nil
}

// GetRawTransaction fetches a full transaction by txid, used by the
// subscription adapter to turn a mempool txid into the raw tx payload the
// event bus carries.
func (c *Client) GetRawTransaction(txid *chainhash.Hash) (*wire.MsgTx, error) {
	tx, err := c.rpc.GetRawTransaction(txid)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: getrawtransaction %s: %w", txid, err)
	}
	return tx.MsgTx(), nil
}
