package chainstore

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
	"github.com/rawblock/utxo-explorer/internal/kv"
)

// AddressIndex maps each scriptPubKey to the set of txids that mention it,
// either as a resolved input's previous output or as an output of the
// transaction itself. Keys are CE(script) ∥ txid, empty value — the
// length-prefixed script makes every key self-delimiting, so a prefix scan
// for a short script can never match a longer script that merely starts
// with the same bytes.
type AddressIndex struct {
	kv *kv.Store
}

// OpenAddressIndex opens the address_index/ column family under root.
func OpenAddressIndex(root string, temporary bool) (*AddressIndex, error) {
	db, err := kv.Open(root+"/address_index", temporary)
	if err != nil {
		return nil, err
	}
	return &AddressIndex{kv: db}, nil
}

// Close closes the underlying column family.
func (a *AddressIndex) Close() error { return a.kv.Close() }

// ProcessBlock records, for every transaction in block, every scriptPubKey
// touched by a resolved input or an output, paired with that transaction's
// txid.
func (a *AddressIndex) ProcessBlock(block *wire.MsgBlock, prevOuts []chainenc.PrevOut) error {
	batch := kv.NewBatch()
	err := chainenc.ForEachTxPrevOuts(block, prevOuts, func(tx *wire.MsgTx, txPrevOuts []chainenc.PrevOut) error {
		txid := tx.TxHash()
		txidBytes := chainenc.EncodeHash(txid)

		seen := make(map[string]bool)
		put := func(script []byte) {
			key := append(append([]byte(nil), chainenc.EncodeScript(script)...), txidBytes...)
			k := string(key)
			if seen[k] {
				return
			}
			seen[k] = true
			batch.Put(key, nil)
		}

		for _, po := range txPrevOuts {
			put(po.PkScript)
		}
		for _, out := range tx.TxOut {
			put(out.PkScript)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("chainstore: build address index batch: %w", err)
	}
	if err := a.kv.Write(batch); err != nil {
		return fmt.Errorf("chainstore: write address index batch: %w", err)
	}
	return nil
}

// Get returns every txid recorded against script, in ascending key order
// (which sorts by txid since the script prefix is fixed across the scan).
func (a *AddressIndex) Get(script []byte) ([]chainhash.Hash, error) {
	prefix := chainenc.EncodeScript(script)
	entries, err := a.kv.PrefixIter(prefix)
	if err != nil {
		return nil, fmt.Errorf("chainstore: scan address index: %w", err)
	}
	out := make([]chainhash.Hash, 0, len(entries))
	for _, e := range entries {
		txidBytes := e.Key[len(prefix):]
		if len(txidBytes) != chainhash.HashSize {
			return nil, fmt.Errorf("chainstore: corrupt address index key (len %d)", len(txidBytes))
		}
		var h chainhash.Hash
		copy(h[:], txidBytes)
		out = append(out, h)
	}
	return out, nil
}
