package chainenc

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func TestIntCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	PutUint32LE(&buf, 0xdeadbeef)
	PutInt32LE(&buf, -1)
	PutUint64LE(&buf, 0x1122334455667788)
	PutInt64LE(&buf, -42)

	u32, err := ReadUint32LE(&buf)
	if err != nil || u32 != 0xdeadbeef {
		t.Fatalf("ReadUint32LE = %x, %v", u32, err)
	}
	i32, err := ReadInt32LE(&buf)
	if err != nil || i32 != -1 {
		t.Fatalf("ReadInt32LE = %d, %v", i32, err)
	}
	u64, err := ReadUint64LE(&buf)
	if err != nil || u64 != 0x1122334455667788 {
		t.Fatalf("ReadUint64LE = %x, %v", u64, err)
	}
	i64, err := ReadInt64LE(&buf)
	if err != nil || i64 != -42 {
		t.Fatalf("ReadInt64LE = %d, %v", i64, err)
	}
}

func TestLoadUint32LE(t *testing.T) {
	var buf bytes.Buffer
	PutUint32LE(&buf, 12345)
	if got := LoadUint32LE(buf.Bytes()); got != 12345 {
		t.Fatalf("LoadUint32LE = %d, want 12345", got)
	}
}

func TestScriptRoundTrip(t *testing.T) {
	script := []byte{0x76, 0xa9, 0x14, 1, 2, 3, 4, 0x88, 0xac}
	enc := EncodeScript(script)
	got, err := ReadScript(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("ReadScript: %v", err)
	}
	if !bytes.Equal(got, script) {
		t.Fatalf("ReadScript = %x, want %x", got, script)
	}
}

func TestEncodeScriptIsSelfDelimiting(t *testing.T) {
	short := EncodeScript([]byte{0x01, 0x02})
	long := EncodeScript([]byte{0x01, 0x02, 0x03})
	if bytes.HasPrefix(long, short) && len(short) == len(long) {
		t.Fatalf("short encoding is a byte-for-byte prefix match of long encoding")
	}
	// A length-prefixed encoding must not let a longer script's prefix scan
	// as a match for a shorter script's exact key.
	r, err := ReadScript(bytes.NewReader(short))
	if err != nil || !bytes.Equal(r, []byte{0x01, 0x02}) {
		t.Fatalf("ReadScript(short) = %x, %v", r, err)
	}
}

func TestHashRoundTrip(t *testing.T) {
	var h chainhash.Hash
	for i := range h {
		h[i] = byte(i)
	}
	enc := EncodeHash(h)
	if len(enc) != chainhash.HashSize {
		t.Fatalf("len(EncodeHash) = %d, want %d", len(enc), chainhash.HashSize)
	}
	got, err := ReadHash(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("ReadHash: %v", err)
	}
	if got != h {
		t.Fatalf("ReadHash = %x, want %x", got, h)
	}
}

func sampleTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0},
		SignatureScript:  []byte{0x01, 0x02},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 5000, PkScript: []byte{0x76, 0xa9, 0x14}})
	return tx
}

func TestTxRoundTrip(t *testing.T) {
	tx := sampleTx()
	enc, err := EncodeTx(tx)
	if err != nil {
		t.Fatalf("EncodeTx: %v", err)
	}
	got, err := DecodeTx(enc)
	if err != nil {
		t.Fatalf("DecodeTx: %v", err)
	}
	if got.TxHash() != tx.TxHash() {
		t.Fatalf("DecodeTx hash mismatch: got %s, want %s", got.TxHash(), tx.TxHash())
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{2},
		MerkleRoot: chainhash.Hash{3},
		Timestamp:  time.Unix(1600000000, 0),
		Bits:       0x1d00ffff,
		Nonce:      12345,
	}
	enc, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if len(enc) != 80 {
		t.Fatalf("len(EncodeHeader) = %d, want 80", len(enc))
	}
	got, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.BlockHash() != h.BlockHash() {
		t.Fatalf("DecodeHeader hash mismatch")
	}
}

func TestTxOutRoundTrip(t *testing.T) {
	script := []byte{0xa9, 0x14, 9, 9}
	enc := EncodeTxOut(7777, script)
	value, pkScript, err := ReadTxOut(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("ReadTxOut: %v", err)
	}
	if value != 7777 || !bytes.Equal(pkScript, script) {
		t.Fatalf("ReadTxOut = (%d, %x), want (7777, %x)", value, pkScript, script)
	}
}

func TestIsCoinbase(t *testing.T) {
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: 0xffffffff},
	})
	coinbase.AddTxOut(&wire.TxOut{Value: 5000000000, PkScript: []byte{}})
	if !IsCoinbase(coinbase) {
		t.Fatalf("IsCoinbase(coinbase) = false, want true")
	}

	regular := sampleTx()
	if IsCoinbase(regular) {
		t.Fatalf("IsCoinbase(regular) = true, want false")
	}
}
