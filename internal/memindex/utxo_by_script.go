// Package memindex implements two in-memory services rebuilt from the
// on-disk stores: UtxoByScript (script-hash → outpoint list, serving
// address UTXO queries) and RichList (balance-ordered address ranking).
// Both are owned exclusively by the applier during writes and safe for
// concurrent readers otherwise.
package memindex

import (
	"crypto/sha256"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
)

// Outpoint identifies a transaction output.
type Outpoint struct {
	Txid chainhash.Hash
	Vout uint32
}

// scriptHash is the 32-byte lookup key: a single SHA-256 of the script,
// the same hash function BIP141 uses for P2WSH, chosen for its fixed size
// and because every address type's scriptPubKey is already hashed at least
// once by the protocol itself. Collisions within the hash class are
// disambiguated by the caller re-fetching the output.
func scriptHash(script []byte) [32]byte {
	return sha256.Sum256(script)
}

// UtxoByScript is an insertion-ordered mapping from a script's hash to its
// list of live outpoints.
type UtxoByScript struct {
	mu      sync.RWMutex
	entries map[[32]byte][]Outpoint
}

// NewUtxoByScript returns an empty UtxoByScript.
func NewUtxoByScript() *UtxoByScript {
	return &UtxoByScript{entries: make(map[[32]byte][]Outpoint)}
}

// Get returns a copy of script's live outpoints.
func (u *UtxoByScript) Get(script []byte) []Outpoint {
	u.mu.RLock()
	defer u.mu.RUnlock()
	list := u.entries[scriptHash(script)]
	out := make([]Outpoint, len(list))
	copy(out, list)
	return out
}

// Push appends outpoint to script's list.
func (u *UtxoByScript) Push(script []byte, outpoint Outpoint) {
	u.mu.Lock()
	defer u.mu.Unlock()
	h := scriptHash(script)
	u.entries[h] = append(u.entries[h], outpoint)
}

// Remove deletes the (txid, vout) entry from script's list. Cost is linear
// in the list's length, acceptable because per-script lists are short in
// practice and this is not the hot query path.
func (u *UtxoByScript) Remove(script []byte, txid chainhash.Hash, vout uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	h := scriptHash(script)
	list := u.entries[h]
	for i, e := range list {
		if e.Txid == txid && e.Vout == vout {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(u.entries, h)
	} else {
		u.entries[h] = list
	}
}

// ProcessBlock applies block's effect to the index: every output is pushed
// (vout order), then every non-coinbase input's resolved prev-out is
// removed (vin order) — the same vout-then-vin order UtxoStore.ProcessBlock
// uses. Zero-value outputs (OP_RETURN, provably unspendable) are never
// indexed.
func (u *UtxoByScript) ProcessBlock(block *wire.MsgBlock, prevOuts []chainenc.PrevOut) error {
	for _, tx := range block.Transactions {
		txid := tx.TxHash()
		for vout, out := range tx.TxOut {
			if out.Value == 0 {
				continue
			}
			u.Push(out.PkScript, Outpoint{Txid: txid, Vout: uint32(vout)})
		}
	}
	return chainenc.ForEachTxPrevOuts(block, prevOuts, func(tx *wire.MsgTx, txPrevOuts []chainenc.PrevOut) error {
		for i, in := range tx.TxIn {
			po := txPrevOuts[i]
			if po.Value == 0 {
				continue
			}
			u.Remove(po.PkScript, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		}
		return nil
	})
}

// ShrinkToFit releases excess slice capacity after bulk load, when no
// further growth is expected until follow mode starts mutating again.
func (u *UtxoByScript) ShrinkToFit() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for h, list := range u.entries {
		shrunk := make([]Outpoint, len(list))
		copy(shrunk, list)
		u.entries[h] = shrunk
	}
}

// Size reports a byte-accurate estimate of the structure's footprint:
// Σ hashlen + 36×|list| (32-byte txid + 4-byte vout per outpoint).
func (u *UtxoByScript) Size() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	total := 0
	for h, list := range u.entries {
		total += len(h) + 36*len(list)
	}
	return total
}
