package chainenc

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// ForEachTxPrevOuts walks block's transactions in order and hands perTx the
// slice of prevOuts consumed by that transaction's non-coinbase inputs.
// prevOuts is the flat, in-input-order list produced by
// UtxoStore.ProcessBlock; this is the single place that re-inflates it back
// into per-transaction groups, so every downstream step (TxStore,
// AddressIndex, the in-memory services) shares one bookkeeping pass.
func ForEachTxPrevOuts(block *wire.MsgBlock, prevOuts []PrevOut, perTx func(tx *wire.MsgTx, txPrevOuts []PrevOut) error) error {
	cursor := 0
	for _, tx := range block.Transactions {
		var txPrevOuts []PrevOut
		if !IsCoinbase(tx) {
			n := len(tx.TxIn)
			if cursor+n > len(prevOuts) {
				return fmt.Errorf("chainenc: prevOuts exhausted at tx %s (need %d, have %d)",
					tx.TxHash(), n, len(prevOuts)-cursor)
			}
			txPrevOuts = prevOuts[cursor : cursor+n]
			cursor += n
		}
		if err := perTx(tx, txPrevOuts); err != nil {
			return err
		}
	}
	return nil
}
