package chainstore

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
)

func openAddressIndex(t *testing.T) *AddressIndex {
	t.Helper()
	a, err := OpenAddressIndex(filepath.Join(t.TempDir(), "addr"), true)
	if err != nil {
		t.Fatalf("OpenAddressIndex: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAddressIndexOutputsAndInputs(t *testing.T) {
	a := openAddressIndex(t)

	scriptA := []byte{0x76, 0xa9, 0x14, 0x01}
	scriptB := []byte{0x76, 0xa9, 0x14, 0x02}

	cb := coinbaseTx(5000)
	cb.TxOut[0].PkScript = scriptA
	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(cb)
	if err := a.ProcessBlock(block, nil); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	spend := spendTx(cb.TxHash(), 0, 4900)
	spend.TxOut[0].PkScript = scriptB
	block2 := wire.NewMsgBlock(&wire.BlockHeader{})
	block2.AddTransaction(spend)
	prevOuts := []chainenc.PrevOut{{Value: 5000, PkScript: scriptA}}
	if err := a.ProcessBlock(block2, prevOuts); err != nil {
		t.Fatalf("ProcessBlock with prevOuts: %v", err)
	}

	gotA, err := a.Get(scriptA)
	if err != nil {
		t.Fatalf("Get scriptA: %v", err)
	}
	if len(gotA) != 2 {
		t.Fatalf("Get scriptA = %v, want 2 txids (output + later input)", gotA)
	}

	gotB, err := a.Get(scriptB)
	if err != nil {
		t.Fatalf("Get scriptB: %v", err)
	}
	if len(gotB) != 1 || gotB[0] != spend.TxHash() {
		t.Fatalf("Get scriptB = %v, want [%s]", gotB, spend.TxHash())
	}
}

func TestAddressIndexDuplicateEntryIsIdempotent(t *testing.T) {
	a := openAddressIndex(t)
	script := []byte{0xca, 0xfe}

	// A transaction whose output pays the same script twice must only
	// record the txid once: the index key is (script, txid), so a repeat
	// write is a no-op rather than a duplicate entry.
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff}})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: script})
	tx.AddTxOut(&wire.TxOut{Value: 2000, PkScript: script})

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(tx)
	if err := a.ProcessBlock(block, nil); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	got, err := a.Get(script)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Get = %v, want exactly one txid", got)
	}
}

func TestAddressIndexPrefixExclusivity(t *testing.T) {
	a := openAddressIndex(t)
	short := []byte{0x51}
	long := append(append([]byte{}, short...), 0x52, 0x53)

	txShort := coinbaseTx(1000)
	txShort.TxOut[0].PkScript = short
	txLong := coinbaseTx(2000)
	txLong.TxOut[0].PkScript = long

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(txShort)
	block.AddTransaction(txLong)
	if err := a.ProcessBlock(block, nil); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	got, err := a.Get(short)
	if err != nil {
		t.Fatalf("Get(short): %v", err)
	}
	if len(got) != 1 || got[0] != txShort.TxHash() {
		t.Fatalf("Get(short) = %v, want only the short-script tx (no prefix bleed from long)", got)
	}
}
