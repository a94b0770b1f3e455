// Package api is the HTTP/JSON + WebSocket surface: a read-only query
// front-end over the indexer's stores and in-memory services, plus a
// PUT endpoint that forwards a raw transaction to the node.
package api

import (
	"bytes"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gin-gonic/gin"
	"github.com/rawblock/utxo-explorer/internal/bitcoin"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
	"github.com/rawblock/utxo-explorer/internal/config"
	"github.com/rawblock/utxo-explorer/internal/indexer"
	"github.com/rawblock/utxo-explorer/pkg/models"
)

// maxBlockSummary caps a single /v1/block_summary page to prevent an
// unbounded limit parameter from forcing a scan over the entire chain.
const maxBlockSummary = 5000

// APIHandler serves one coin's HTTP/WebSocket surface over its Applier and
// node adapter.
type APIHandler struct {
	applier *indexer.Applier
	node    *bitcoin.Client
	params  *chaincfg.Params
	wsHub   *Hub
}

// SetupRouter wires the full route table for one coin, CORS, rate
// limiting, and the WebSocket fan-out at coin.WSEndpoint.
func SetupRouter(applier *indexer.Applier, node *bitcoin.Client, coin *config.Coin, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &APIHandler{
		applier: applier,
		node:    node,
		params:  paramsForCoin(coin),
		wsHub:   wsHub,
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/status", noStore(h.handleStatus))
		v1.GET("/tx/:txid", longTTL(h.handleTx))
		v1.PUT("/tx/broadcast", noStore(NewRateLimiter(30, 5).Middleware(), AuthMiddleware(), h.handleBroadcast))
		v1.GET("/block/:hash_or_height", longTTL(h.handleBlock))
		v1.GET("/block_with_txids/:hash_or_height", longTTL(h.handleBlockWithTxids))
		v1.GET("/block_with_txs/:hash_or_height", longTTL(h.handleBlockWithTxs))
		v1.GET("/block_summary/:offset/:limit", longTTL(h.handleBlockSummary))
		v1.GET("/txids/:script_or_address", noStore(h.handleTxids))
		v1.GET("/txs/:script_or_address", noStore(h.handleTxs))
		v1.GET("/utxos/:script_or_address", noStore(h.handleUtxos))
		v1.GET("/rich_list_count", noStore(h.handleRichListCount))
		v1.GET("/rich_list_addr_rank/:script_or_address", noStore(h.handleRichListRank))
		v1.GET("/rich_list/:offset/:limit", noStore(h.handleRichListRange))
	}

	if coin.WSEndpoint != "" {
		r.GET(coin.WSEndpoint, wsHub.Subscribe)
	}

	return r
}

// noStore wraps handlers that must never be cached (mutable state).
func noStore(handlers ...gin.HandlerFunc) gin.HandlerFunc {
	chain := append([]gin.HandlerFunc{func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
	}}, handlers...)
	return func(c *gin.Context) {
		for _, fn := range chain {
			if c.IsAborted() {
				return
			}
			fn(c)
		}
	}
}

// longTTL wraps handlers serving confirmed-block data, which never changes
// once written.
func longTTL(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		handler(c)
	}
}

func (h *APIHandler) handleStatus(c *gin.Context) {
	height, ok := h.applier.SyncedHeight()
	if !ok {
		c.JSON(http.StatusOK, models.StatusResponse{Blocks: -1})
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Blocks: int32(height)})
}

func (h *APIHandler) handleTx(c *gin.Context) {
	txid, err := chainhash.NewHashFromStr(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid txid"})
		return
	}
	tx, err := h.applier.TxStore().GetRendered(*txid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tx == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown txid"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *APIHandler) handleBroadcast(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	rawHex := strings.TrimSpace(string(body))

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed transaction hex"})
		return
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed transaction encoding"})
		return
	}

	txid, err := h.node.SendRawTransaction(rawHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "broadcast rejected by node", "details": err.Error()})
		return
	}

	if err := h.applier.Submit(tx); err != nil {
		// The node already accepted it; indexing it locally is best-effort.
	}

	c.JSON(http.StatusOK, models.BroadcastResponse{Txid: txid.String()})
}

func (h *APIHandler) resolveBlock(raw string) (chainenc.BlockMeta, chainhash.Hash, bool, error) {
	if len(raw) == 64 {
		if hash, err := chainhash.NewHashFromStr(raw); err == nil {
			meta, ok, err := h.applier.BlockStore().GetByHash(*hash)
			return meta, *hash, ok, err
		}
	}
	height, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return chainenc.BlockMeta{}, chainhash.Hash{}, false, errBadHashOrHeight
	}
	meta, ok, err := h.applier.BlockStore().GetByHeight(uint32(height))
	if err != nil || !ok {
		return meta, chainhash.Hash{}, ok, err
	}
	header, err := chainenc.DecodeHeader(meta.Header)
	if err != nil {
		return meta, chainhash.Hash{}, false, err
	}
	return meta, header.BlockHash(), true, nil
}

var errBadHashOrHeight = &badInputError{"not a 64-hex-char hash or decimal height"}

type badInputError struct{ msg string }

func (e *badInputError) Error() string { return e.msg }

func blockHeaderModel(meta chainenc.BlockMeta, hash chainhash.Hash) (models.BlockHeader, error) {
	header, err := chainenc.DecodeHeader(meta.Header)
	if err != nil {
		return models.BlockHeader{}, err
	}
	return models.BlockHeader{
		Hash:         hash.String(),
		Height:       meta.Height,
		Version:      header.Version,
		PrevBlock:    header.PrevBlock.String(),
		MerkleRoot:   header.MerkleRoot.String(),
		Timestamp:    header.Timestamp.Unix(),
		Bits:         header.Bits,
		Nonce:        header.Nonce,
		Size:         meta.Size,
		StrippedSize: meta.StrippedSize,
		Weight:       meta.Weight,
	}, nil
}

func (h *APIHandler) handleBlock(c *gin.Context) {
	meta, hash, ok, err := h.resolveBlock(c.Param("hash_or_height"))
	if err != nil {
		if _, bad := err.(*badInputError); bad {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown block"})
		return
	}
	resp, err := blockHeaderModel(meta, hash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) handleBlockWithTxids(c *gin.Context) {
	meta, hash, ok, err := h.resolveBlock(c.Param("hash_or_height"))
	if err != nil {
		if _, bad := err.(*badInputError); bad {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown block"})
		return
	}
	header, err := blockHeaderModel(meta, hash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	txids := make([]string, len(meta.TxIDs))
	for i, t := range meta.TxIDs {
		txids[i] = t.String()
	}
	c.JSON(http.StatusOK, models.BlockWithTxids{BlockHeader: header, Txids: txids})
}

func (h *APIHandler) handleBlockWithTxs(c *gin.Context) {
	meta, hash, ok, err := h.resolveBlock(c.Param("hash_or_height"))
	if err != nil {
		if _, bad := err.(*badInputError); bad {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown block"})
		return
	}
	header, err := blockHeaderModel(meta, hash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	txs := make([]models.Transaction, 0, len(meta.TxIDs))
	var missing []string
	for _, txid := range meta.TxIDs {
		tx, err := h.applier.TxStore().GetRendered(txid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if tx == nil {
			missing = append(missing, txid.String())
			continue
		}
		txs = append(txs, *tx)
	}
	if len(missing) > 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve transactions", "missing": missing})
		return
	}
	c.JSON(http.StatusOK, models.BlockWithTxs{BlockHeader: header, Txs: txs})
}

func (h *APIHandler) handleBlockSummary(c *gin.Context) {
	offset, err1 := strconv.ParseUint(c.Param("offset"), 10, 32)
	limit, err2 := strconv.ParseUint(c.Param("limit"), 10, 32)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset and limit must be non-negative integers"})
		return
	}
	if limit > maxBlockSummary {
		limit = maxBlockSummary
	}

	syncedHeight, ok := h.applier.SyncedHeight()
	summaries := []models.BlockSummary{}
	if !ok {
		c.JSON(http.StatusOK, summaries)
		return
	}

	for i := uint64(0); i < limit; i++ {
		height := offset + i
		if height > uint64(syncedHeight) {
			break
		}
		meta, ok, err := h.applier.BlockStore().GetByHeight(uint32(height))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			break
		}
		header, err := chainenc.DecodeHeader(meta.Header)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		summaries = append(summaries, models.BlockSummary{
			Hash:      header.BlockHash().String(),
			Height:    meta.Height,
			Timestamp: header.Timestamp.Unix(),
			NumTxs:    len(meta.TxIDs),
		})
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *APIHandler) handleTxids(c *gin.Context) {
	script, err := decodeScriptOrAddress(h.params, c.Param("script_or_address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txids, err := h.applier.AddressIndex().Get(script)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]string, len(txids))
	for i, t := range txids {
		out[i] = t.String()
	}
	c.JSON(http.StatusOK, out)
}

func (h *APIHandler) handleTxs(c *gin.Context) {
	script, err := decodeScriptOrAddress(h.params, c.Param("script_or_address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txids, err := h.applier.AddressIndex().Get(script)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	txs := make([]models.Transaction, 0, len(txids))
	var missing []string
	for _, txid := range txids {
		tx, err := h.applier.TxStore().GetRendered(txid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if tx == nil {
			missing = append(missing, txid.String())
			continue
		}
		txs = append(txs, *tx)
	}
	if len(missing) > 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve transactions", "missing": missing})
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *APIHandler) handleUtxos(c *gin.Context) {
	script, err := decodeScriptOrAddress(h.params, c.Param("script_or_address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outpoints := h.applier.UtxoByScript().Get(script)
	out := make([]models.UtxoEntry, 0, len(outpoints))
	for _, op := range outpoints {
		entry, err := h.applier.UtxoStore().Get(op.Txid, op.Vout)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entry == nil {
			continue
		}
		out = append(out, models.UtxoEntry{
			Txid:         op.Txid.String(),
			Vout:         op.Vout,
			Value:        entry.Value,
			ScriptPubKey: hex.EncodeToString(entry.PkScript),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *APIHandler) handleRichListCount(c *gin.Context) {
	c.JSON(http.StatusOK, models.RichListCount{Count: h.applier.RichList().Count()})
}

func (h *APIHandler) handleRichListRank(c *gin.Context) {
	script, err := decodeScriptOrAddress(h.params, c.Param("script_or_address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rank, ok := h.applier.RichList().RankOf(script)
	resp := models.RichListRank{}
	if ok {
		resp.Rank = &rank
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) handleRichListRange(c *gin.Context) {
	offset, err1 := strconv.Atoi(c.Param("offset"))
	limit, err2 := strconv.Atoi(c.Param("limit"))
	if err1 != nil || err2 != nil || offset < 0 || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset and limit must be non-negative integers"})
		return
	}
	entries := h.applier.RichList().GetRange(offset, limit)
	out := make([]models.RichListEntry, len(entries))
	for i, e := range entries {
		out[i] = models.RichListEntry{ScriptPubKey: hex.EncodeToString(e.PkScript), Value: e.Value}
	}
	c.JSON(http.StatusOK, out)
}

