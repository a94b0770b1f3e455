package chainstore

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
	"github.com/rawblock/utxo-explorer/internal/kv"
	"github.com/rawblock/utxo-explorer/pkg/models"
)

// ErrMissingPrevTx is returned by PutUnconfirmed when a non-coinbase input's
// previous transaction is not yet known to the store.
type ErrMissingPrevTx struct {
	Txid chainhash.Hash
}

func (e *ErrMissingPrevTx) Error() string {
	return fmt.Sprintf("chainstore: missing prev tx %s", e.Txid)
}

// TxStore records, per txid, the confirmation height (or Unconfirmed) and
// the resolved previous outputs of every non-coinbase input, so a
// transaction response never needs a second traversal to other stores.
type TxStore struct {
	kv *kv.Store
}

// OpenTxStore opens the tx/ column family under root.
func OpenTxStore(root string, temporary bool) (*TxStore, error) {
	db, err := kv.Open(root+"/tx", temporary)
	if err != nil {
		return nil, err
	}
	return &TxStore{kv: db}, nil
}

// Close closes the underlying column family.
func (s *TxStore) Close() error { return s.kv.Close() }

// PutConfirmed writes one record per transaction in block, with
// confirmed_height = height and the prevOuts resolved by
// UtxoStore.ProcessBlock attached in input order. All records land in a
// single atomic batch.
func (s *TxStore) PutConfirmed(height uint32, block *wire.MsgBlock, prevOuts []chainenc.PrevOut) error {
	batch := kv.NewBatch()
	err := chainenc.ForEachTxPrevOuts(block, prevOuts, func(tx *wire.MsgTx, txPrevOuts []chainenc.PrevOut) error {
		raw, err := chainenc.EncodeTx(tx)
		if err != nil {
			return err
		}
		val := chainenc.TxValue{
			ConfirmedHeight: int32(height),
			RawTx:           raw,
			PrevOuts:        append([]chainenc.PrevOut(nil), txPrevOuts...),
		}
		txid := tx.TxHash()
		batch.Put(chainenc.EncodeHash(txid), val.Encode())
		return nil
	})
	if err != nil {
		return fmt.Errorf("chainstore: build confirmed tx batch at height %d: %w", height, err)
	}
	if err := s.kv.Write(batch); err != nil {
		return fmt.Errorf("chainstore: write confirmed txs at height %d: %w", height, err)
	}
	return nil
}

// PutUnconfirmed resolves tx's non-coinbase inputs against already-known
// transactions and writes it with ConfirmedHeight = Unconfirmed. If any
// input's previous txid is unknown, it returns that txid wrapped in
// ErrMissingPrevTx and writes nothing.
func (s *TxStore) PutUnconfirmed(tx *wire.MsgTx) error {
	var prevOuts []chainenc.PrevOut
	if !chainenc.IsCoinbase(tx) {
		prevOuts = make([]chainenc.PrevOut, 0, len(tx.TxIn))
		for _, in := range tx.TxIn {
			prevTxid := in.PreviousOutPoint.Hash
			prevVal, err := s.Get(prevTxid)
			if err != nil {
				return fmt.Errorf("chainstore: lookup prev tx %s: %w", prevTxid, err)
			}
			if prevVal == nil {
				return &ErrMissingPrevTx{Txid: prevTxid}
			}
			prevTx, err := chainenc.DecodeTx(prevVal.RawTx)
			if err != nil {
				return fmt.Errorf("chainstore: decode prev tx %s: %w", prevTxid, err)
			}
			idx := in.PreviousOutPoint.Index
			if int(idx) >= len(prevTx.TxOut) {
				return fmt.Errorf("chainstore: prev tx %s has no output %d", prevTxid, idx)
			}
			out := prevTx.TxOut[idx]
			prevOuts = append(prevOuts, chainenc.PrevOut{Value: out.Value, PkScript: out.PkScript})
		}
	}

	raw, err := chainenc.EncodeTx(tx)
	if err != nil {
		return err
	}
	val := chainenc.TxValue{ConfirmedHeight: chainenc.Unconfirmed, RawTx: raw, PrevOuts: prevOuts}
	txid := tx.TxHash()
	if err := s.kv.Put(chainenc.EncodeHash(txid), val.Encode()); err != nil {
		return fmt.Errorf("chainstore: put unconfirmed tx %s: %w", txid, err)
	}
	return nil
}

// Get returns the stored record for txid, or nil if absent.
func (s *TxStore) Get(txid chainhash.Hash) (*chainenc.TxValue, error) {
	raw, err := s.kv.Get(chainenc.EncodeHash(txid))
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chainstore: get tx %s: %w", txid, err)
	}
	val, err := chainenc.DecodeTxValue(raw)
	if err != nil {
		return nil, fmt.Errorf("chainstore: corrupt tx record %s: %w", txid, err)
	}
	return &val, nil
}

// GetRendered returns the API-facing rendering of txid: resolved inputs,
// outputs, and the fee (Σ in − Σ out, negative for coinbase).
func (s *TxStore) GetRendered(txid chainhash.Hash) (*models.Transaction, error) {
	val, err := s.Get(txid)
	if err != nil || val == nil {
		return nil, err
	}
	tx, err := chainenc.DecodeTx(val.RawTx)
	if err != nil {
		return nil, fmt.Errorf("chainstore: decode raw tx %s: %w", txid, err)
	}

	var inSum int64
	inputs := make([]models.RenderedInput, 0, len(tx.TxIn))
	if !chainenc.IsCoinbase(tx) {
		for i, in := range tx.TxIn {
			po := val.PrevOuts[i]
			inSum += po.Value
			inputs = append(inputs, models.RenderedInput{
				Txid:         in.PreviousOutPoint.Hash.String(),
				Vout:         in.PreviousOutPoint.Index,
				Value:        po.Value,
				ScriptPubKey: fmt.Sprintf("%x", po.PkScript),
			})
		}
	}

	var outSum int64
	outputs := make([]models.RenderedOutput, 0, len(tx.TxOut))
	for i, out := range tx.TxOut {
		outSum += out.Value
		outputs = append(outputs, models.RenderedOutput{
			Vout:         uint32(i),
			Value:        out.Value,
			ScriptPubKey: fmt.Sprintf("%x", out.PkScript),
		})
	}

	var confirmedHeight *int32
	if val.ConfirmedHeight != chainenc.Unconfirmed {
		h := val.ConfirmedHeight
		confirmedHeight = &h
	}

	return &models.Transaction{
		Txid:            txid.String(),
		ConfirmedHeight: confirmedHeight,
		Inputs:          inputs,
		Outputs:         outputs,
		Fee:             inSum - outSum,
		Raw:             fmt.Sprintf("%x", val.RawTx),
	}, nil
}
