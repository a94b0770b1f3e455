package chainenc

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockMeta is the BlockStore record: a header plus the metadata derived
// from the full block at index time, so BlockStore never needs to re-parse
// the raw block to answer height/size/weight/txid-list queries.
//
// Layout: height(u32) ∥ header(80B) ∥ size(u32) ∥ stripped_size(u32) ∥
// weight(u32) ∥ txid_list(32B × n), where stripped_size = (weight - size) / 3.
type BlockMeta struct {
	Height       uint32
	Header       [80]byte
	Size         uint32
	StrippedSize uint32
	Weight       uint32
	TxIDs        []chainhash.Hash
}

// Encode serializes m per the BlockMeta layout above.
func (m BlockMeta) Encode() []byte {
	var buf bytes.Buffer
	PutUint32LE(&buf, m.Height)
	buf.Write(m.Header[:])
	PutUint32LE(&buf, m.Size)
	PutUint32LE(&buf, m.StrippedSize)
	PutUint32LE(&buf, m.Weight)
	for _, txid := range m.TxIDs {
		buf.Write(EncodeHash(txid))
	}
	return buf.Bytes()
}

// DecodeBlockMeta parses a BlockMeta record.
func DecodeBlockMeta(b []byte) (BlockMeta, error) {
	var m BlockMeta
	r := bytes.NewReader(b)

	var err error
	if m.Height, err = ReadUint32LE(r); err != nil {
		return m, fmt.Errorf("chainenc: block meta height: %w", err)
	}
	if _, err := r.Read(m.Header[:]); err != nil {
		return m, fmt.Errorf("chainenc: block meta header: %w", err)
	}
	if m.Size, err = ReadUint32LE(r); err != nil {
		return m, fmt.Errorf("chainenc: block meta size: %w", err)
	}
	if m.StrippedSize, err = ReadUint32LE(r); err != nil {
		return m, fmt.Errorf("chainenc: block meta stripped_size: %w", err)
	}
	if m.Weight, err = ReadUint32LE(r); err != nil {
		return m, fmt.Errorf("chainenc: block meta weight: %w", err)
	}
	for r.Len() > 0 {
		h, err := ReadHash(r)
		if err != nil {
			return m, fmt.Errorf("chainenc: block meta txid: %w", err)
		}
		m.TxIDs = append(m.TxIDs, h)
	}
	return m, nil
}

// BuildBlockMeta derives a BlockMeta from a fully-populated wire.MsgBlock at
// the given height. Size and weight are computed directly from the block's
// own serialization rather than trusted from the node's JSON response, since
// the node adapter may hand us a block fetched as raw bytes.
func BuildBlockMeta(height uint32, block *wire.MsgBlock) (BlockMeta, error) {
	header, err := EncodeHeader(&block.Header)
	if err != nil {
		return BlockMeta{}, err
	}

	baseSize := 80 + wire.VarIntSerializeSize(uint64(len(block.Transactions)))
	totalSize := baseSize
	txids := make([]chainhash.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		baseSize += tx.SerializeSizeStripped()
		totalSize += tx.SerializeSize()
		txids[i] = tx.TxHash()
	}
	weight := 3*baseSize + totalSize

	return BlockMeta{
		Height:       height,
		Header:       header,
		Size:         uint32(totalSize),
		StrippedSize: uint32(baseSize),
		Weight:       uint32(weight),
		TxIDs:        txids,
	}, nil
}

// PrevOut is one spent-output record embedded in a TxValue: the output an
// input consumed, captured at index time so TxStore can render fees and
// input addresses without a second lookup into a (possibly already-spent)
// UtxoStore entry.
type PrevOut struct {
	Value    int64
	PkScript []byte
}

// TxValue is the TxStore record.
//
// Layout: confirmed_height(i32, -1=unconfirmed) ∥ tx_len(u32) ∥ raw_tx(CE) ∥
// (prev_out_len(u32) ∥ prev_out(CE))*, one PrevOut per non-coinbase input, in
// input order.
type TxValue struct {
	ConfirmedHeight int32
	RawTx           []byte
	PrevOuts        []PrevOut
}

// Unconfirmed is the sentinel ConfirmedHeight for a mempool transaction.
const Unconfirmed int32 = -1

// Encode serializes v per the TxValue layout above.
func (v TxValue) Encode() []byte {
	var buf bytes.Buffer
	PutInt32LE(&buf, v.ConfirmedHeight)
	PutUint32LE(&buf, uint32(len(v.RawTx)))
	buf.Write(v.RawTx)
	for _, po := range v.PrevOuts {
		enc := EncodeTxOut(po.Value, po.PkScript)
		PutUint32LE(&buf, uint32(len(enc)))
		buf.Write(enc)
	}
	return buf.Bytes()
}

// DecodeTxValue parses a TxValue record.
func DecodeTxValue(b []byte) (TxValue, error) {
	var v TxValue
	r := bytes.NewReader(b)

	h, err := ReadInt32LE(r)
	if err != nil {
		return v, fmt.Errorf("chainenc: tx value confirmed_height: %w", err)
	}
	v.ConfirmedHeight = h

	txLen, err := ReadUint32LE(r)
	if err != nil {
		return v, fmt.Errorf("chainenc: tx value tx_len: %w", err)
	}
	rawTx := make([]byte, txLen)
	if _, err := r.Read(rawTx); err != nil {
		return v, fmt.Errorf("chainenc: tx value raw_tx: %w", err)
	}
	v.RawTx = rawTx

	for r.Len() > 0 {
		poLen, err := ReadUint32LE(r)
		if err != nil {
			return v, fmt.Errorf("chainenc: tx value prev_out_len: %w", err)
		}
		poBytes := make([]byte, poLen)
		if _, err := r.Read(poBytes); err != nil {
			return v, fmt.Errorf("chainenc: tx value prev_out: %w", err)
		}
		value, pkScript, err := ReadTxOut(bytes.NewReader(poBytes))
		if err != nil {
			return v, fmt.Errorf("chainenc: tx value prev_out decode: %w", err)
		}
		v.PrevOuts = append(v.PrevOuts, PrevOut{Value: value, PkScript: pkScript})
	}
	return v, nil
}
