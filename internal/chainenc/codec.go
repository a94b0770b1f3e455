// Package chainenc implements the consensus-encoding (CE) primitives and the
// custom binary record schemas the index stores persist. All multi-byte
// integers in the custom record framings below are little-endian; embedded Bitcoin
// payloads (headers, transactions, scripts) use the network's own consensus
// encoding, reusing btcsuite/btcd/wire — the same module the node adapter
// already depends on — rather than hand-rolling a second encoder.
package chainenc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// protoVer is passed to wire's CompactSize helpers. The functions ignore it
// for integer/byte-slice encoding (it only matters for witness-aware message
// framing), so any fixed value works; wire.ProtocolVersion keeps it honest.
const protoVer = wire.ProtocolVersion

// PutUint32LE appends v to buf in little-endian order.
func PutUint32LE(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// PutInt32LE appends v to buf in little-endian order.
func PutInt32LE(buf *bytes.Buffer, v int32) {
	PutUint32LE(buf, uint32(v))
}

// PutUint64LE appends v to buf in little-endian order.
func PutUint64LE(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

// PutInt64LE appends v to buf in little-endian order.
func PutInt64LE(buf *bytes.Buffer, v int64) {
	PutUint64LE(buf, uint64(v))
}

// LoadUint32LE decodes a 4-byte little-endian integer directly from a byte
// slice, for callers that already hold the bytes (e.g. splitting a fixed-
// width key) rather than reading from a stream.
func LoadUint32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// ReadUint32LE reads a 4-byte little-endian integer.
func ReadUint32LE(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

// ReadInt32LE reads a 4-byte little-endian signed integer.
func ReadInt32LE(r io.Reader) (int32, error) {
	v, err := ReadUint32LE(r)
	return int32(v), err
}

// ReadUint64LE reads an 8-byte little-endian integer.
func ReadUint64LE(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

// ReadInt64LE reads an 8-byte little-endian signed integer.
func ReadInt64LE(r io.Reader) (int64, error) {
	v, err := ReadUint64LE(r)
	return int64(v), err
}

// EncodeScript CE-encodes a scriptPubKey as a Bitcoin CompactSize length
// prefix followed by the raw script bytes. The length prefix makes the
// encoding self-delimiting, which is what keeps AddressIndex's script-prefix
// scan from matching a longer script that merely starts with the same bytes.
func EncodeScript(script []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarBytes(&buf, protoVer, script)
	return buf.Bytes()
}

// ReadScript reads a CE-encoded scriptPubKey (CompactSize length + bytes)
// from r.
func ReadScript(r io.Reader) ([]byte, error) {
	return wire.ReadVarBytes(r, protoVer, wire.MaxMessagePayload, "script")
}

// EncodeHash returns the canonical 32-byte consensus encoding of a hash
// (already in internal byte order, never display-reversed).
func EncodeHash(h chainhash.Hash) []byte {
	b := make([]byte, chainhash.HashSize)
	copy(b, h[:])
	return b
}

// ReadHash reads a fixed 32-byte hash.
func ReadHash(r io.Reader) (chainhash.Hash, error) {
	var h chainhash.Hash
	_, err := io.ReadFull(r, h[:])
	return h, err
}

// EncodeTx returns the full (witness-aware) consensus encoding of tx.
func EncodeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("chainenc: serialize tx: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTx parses a full consensus-encoded transaction.
func DecodeTx(b []byte) (*wire.MsgTx, error) {
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("chainenc: deserialize tx: %w", err)
	}
	return tx, nil
}

// EncodeHeader returns the fixed 80-byte consensus encoding of a header.
func EncodeHeader(h *wire.BlockHeader) ([80]byte, error) {
	var out [80]byte
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return out, fmt.Errorf("chainenc: serialize header: %w", err)
	}
	copy(out[:], buf.Bytes())
	return out, nil
}

// DecodeHeader parses a fixed 80-byte header.
func DecodeHeader(b [80]byte) (*wire.BlockHeader, error) {
	h := &wire.BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(b[:])); err != nil {
		return nil, fmt.Errorf("chainenc: deserialize header: %w", err)
	}
	return h, nil
}

// EncodeTxOut writes the Bitcoin consensus encoding of a single output:
// an 8-byte little-endian value followed by a CompactSize-length-prefixed
// script. This is the prev-out payload embedded in a TxValue record and the
// value half of a UtxoStore entry.
func EncodeTxOut(value int64, pkScript []byte) []byte {
	var buf bytes.Buffer
	PutInt64LE(&buf, value)
	_ = wire.WriteVarBytes(&buf, protoVer, pkScript)
	return buf.Bytes()
}

// ReadTxOut reads a CE-encoded (value, pkScript) pair from r.
func ReadTxOut(r io.Reader) (value int64, pkScript []byte, err error) {
	value, err = ReadInt64LE(r)
	if err != nil {
		return 0, nil, err
	}
	pkScript, err = wire.ReadVarBytes(r, protoVer, wire.MaxMessagePayload, "pkScript")
	if err != nil {
		return 0, nil, err
	}
	return value, pkScript, nil
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input whose previous outpoint is the null outpoint.
func IsCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prevOut := &tx.TxIn[0].PreviousOutPoint
	return prevOut.Index == math.MaxUint32 && prevOut.Hash == chainhash.Hash{}
}
