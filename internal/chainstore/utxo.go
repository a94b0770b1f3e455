package chainstore

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
	"github.com/rawblock/utxo-explorer/internal/kv"
)

// UtxoEntry is one unspent output: the full (txid, vout, scriptPubKey,
// value) tuple, used both as UtxoStore's decoded record shape and as the
// unit the in-memory services (internal/memindex) index over.
type UtxoEntry struct {
	Txid     chainhash.Hash
	Vout     uint32
	PkScript []byte
	Value    uint64
}

// ErrMissingUtxo is returned by ProcessBlock in non-permissive mode when an
// input spends an outpoint that is not found in the overlay or on disk —
// an out-of-order block or corrupted state.
type ErrMissingUtxo struct {
	Txid chainhash.Hash
	Vout uint32
}

func (e *ErrMissingUtxo) Error() string {
	return fmt.Sprintf("chainstore: missing utxo %s:%d", e.Txid, e.Vout)
}

// UtxoStore is the (txid, vout) → (scriptPubKey, value) set. It exclusively
// owns the utxo/ directory.
type UtxoStore struct {
	kv         *kv.Store
	permissive bool
}

// OpenUtxoStore opens the utxo/ column family under root. permissive
// enables a test-harness placeholder behavior: a spend that cannot find
// its UTXO fabricates a zero-value entry instead of failing fatally.
func OpenUtxoStore(root string, temporary bool, permissive bool) (*UtxoStore, error) {
	db, err := kv.Open(root+"/utxo", temporary)
	if err != nil {
		return nil, err
	}
	return &UtxoStore{kv: db, permissive: permissive}, nil
}

// Close closes the underlying column family.
func (s *UtxoStore) Close() error { return s.kv.Close() }

func utxoKey(txid chainhash.Hash, vout uint32) []byte {
	var buf bytes.Buffer
	buf.Write(chainenc.EncodeHash(txid))
	chainenc.PutUint32LE(&buf, vout)
	return buf.Bytes()
}

func encodeUtxoValue(pkScript []byte, value uint64) []byte {
	var buf bytes.Buffer
	buf.Write(chainenc.EncodeScript(pkScript))
	chainenc.PutUint64LE(&buf, value)
	return buf.Bytes()
}

func decodeUtxoValue(b []byte) (pkScript []byte, value uint64, err error) {
	r := bytes.NewReader(b)
	pkScript, err = chainenc.ReadScript(r)
	if err != nil {
		return nil, 0, err
	}
	value, err = chainenc.ReadUint64LE(r)
	return pkScript, value, err
}

// ProcessBlock inserts one entry per output of every transaction in block,
// then for every non-coinbase input removes the corresponding entry,
// returning the removed entries in input order across the block. Outputs
// created earlier in the same block are visible to later inputs via an
// in-memory overlay that is reconciled into a single atomic batch before
// any of it is written — an output created and spent within the same block
// never touches disk.
func (s *UtxoStore) ProcessBlock(block *wire.MsgBlock) ([]UtxoEntry, error) {
	batch := kv.NewBatch()
	overlay := make(map[string]UtxoEntry)
	var spent []UtxoEntry

	for _, tx := range block.Transactions {
		txid := tx.TxHash()
		for vout, out := range tx.TxOut {
			entry := UtxoEntry{Txid: txid, Vout: uint32(vout), PkScript: out.PkScript, Value: uint64(out.Value)}
			key := utxoKey(txid, uint32(vout))
			overlay[string(key)] = entry
			batch.Put(key, encodeUtxoValue(out.PkScript, uint64(out.Value)))
		}
	}

	for _, tx := range block.Transactions {
		if chainenc.IsCoinbase(tx) {
			continue
		}
		for _, in := range tx.TxIn {
			prevOut := in.PreviousOutPoint
			key := utxoKey(prevOut.Hash, prevOut.Index)

			if entry, ok := overlay[string(key)]; ok {
				delete(overlay, string(key))
				batch.Delete(key)
				spent = append(spent, entry)
				continue
			}

			raw, err := s.kv.Get(key)
			if err == kv.ErrNotFound {
				if s.permissive {
					spent = append(spent, UtxoEntry{Txid: prevOut.Hash, Vout: prevOut.Index})
					continue
				}
				return nil, &ErrMissingUtxo{Txid: prevOut.Hash, Vout: prevOut.Index}
			}
			if err != nil {
				return nil, fmt.Errorf("chainstore: get utxo %s:%d: %w", prevOut.Hash, prevOut.Index, err)
			}
			pkScript, value, err := decodeUtxoValue(raw)
			if err != nil {
				return nil, fmt.Errorf("chainstore: corrupt utxo %s:%d: %w", prevOut.Hash, prevOut.Index, err)
			}
			batch.Delete(key)
			spent = append(spent, UtxoEntry{Txid: prevOut.Hash, Vout: prevOut.Index, PkScript: pkScript, Value: value})
		}
	}

	if err := s.kv.Write(batch); err != nil {
		return nil, fmt.Errorf("chainstore: write utxo batch: %w", err)
	}
	return spent, nil
}

// ReorgBlock undoes block: for each non-coinbase input, re-inserts the
// spent output using the supplied previous transactions, then deletes every
// output block itself created.
func (s *UtxoStore) ReorgBlock(block *wire.MsgBlock, prevTxs map[chainhash.Hash]*wire.MsgTx) error {
	batch := kv.NewBatch()

	for _, tx := range block.Transactions {
		if chainenc.IsCoinbase(tx) {
			continue
		}
		for _, in := range tx.TxIn {
			prevOut := in.PreviousOutPoint
			prevTx, ok := prevTxs[prevOut.Hash]
			if !ok {
				return fmt.Errorf("chainstore: reorg missing prev tx %s", prevOut.Hash)
			}
			if int(prevOut.Index) >= len(prevTx.TxOut) {
				return fmt.Errorf("chainstore: reorg prev tx %s has no output %d", prevOut.Hash, prevOut.Index)
			}
			out := prevTx.TxOut[prevOut.Index]
			key := utxoKey(prevOut.Hash, prevOut.Index)
			batch.Put(key, encodeUtxoValue(out.PkScript, uint64(out.Value)))
		}
	}

	for _, tx := range block.Transactions {
		txid := tx.TxHash()
		for vout := range tx.TxOut {
			batch.Delete(utxoKey(txid, uint32(vout)))
		}
	}

	if err := s.kv.Write(batch); err != nil {
		return fmt.Errorf("chainstore: write reorg utxo batch: %w", err)
	}
	return nil
}

// Get returns the UTXO at (txid, vout), if any.
func (s *UtxoStore) Get(txid chainhash.Hash, vout uint32) (*UtxoEntry, error) {
	raw, err := s.kv.Get(utxoKey(txid, vout))
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chainstore: get utxo %s:%d: %w", txid, vout, err)
	}
	pkScript, value, err := decodeUtxoValue(raw)
	if err != nil {
		return nil, fmt.Errorf("chainstore: corrupt utxo %s:%d: %w", txid, vout, err)
	}
	return &UtxoEntry{Txid: txid, Vout: vout, PkScript: pkScript, Value: value}, nil
}

// Stream calls fn for every UTXO in the store without buffering the full
// set in memory — the mechanism bulk load uses to feed UtxoByScript and
// RichList builders.
func (s *UtxoStore) Stream(fn func(UtxoEntry) error) error {
	return s.kv.Stream(nil, func(key, value []byte) error {
		if len(key) < chainhash.HashSize+4 {
			return fmt.Errorf("chainstore: corrupt utxo key (len %d)", len(key))
		}
		var txid chainhash.Hash
		copy(txid[:], key[:chainhash.HashSize])
		vout := chainenc.LoadUint32LE(key[chainhash.HashSize:])
		pkScript, value64, err := decodeUtxoValue(value)
		if err != nil {
			return fmt.Errorf("chainstore: corrupt utxo value: %w", err)
		}
		return fn(UtxoEntry{Txid: txid, Vout: vout, PkScript: pkScript, Value: value64})
	})
}
