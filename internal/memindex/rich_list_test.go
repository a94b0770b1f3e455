package memindex

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
)

func TestRichListBuilderFinalizeSortsDescending(t *testing.T) {
	b := NewRichListBuilder()
	b.Push([]byte("a"), 100)
	b.Push([]byte("b"), 300)
	b.Push([]byte("c"), 200)

	rl := b.Finalize()
	if rl.Count() != 3 {
		t.Fatalf("Count = %d, want 3", rl.Count())
	}
	entries := rl.GetRange(0, 3)
	want := []uint64{300, 200, 100}
	for i, v := range want {
		if entries[i].Value != v {
			t.Fatalf("entries[%d].Value = %d, want %d", i, entries[i].Value, v)
		}
	}
}

func TestRichListBuilderTieBreakByScriptBytes(t *testing.T) {
	b := NewRichListBuilder()
	b.Push([]byte("zz"), 100)
	b.Push([]byte("aa"), 100)

	rl := b.Finalize()
	entries := rl.GetRange(0, 2)
	if string(entries[0].PkScript) != "aa" || string(entries[1].PkScript) != "zz" {
		t.Fatalf("tie-break order = %q, %q, want aa, zz", entries[0].PkScript, entries[1].PkScript)
	}
}

func TestRichListBuilderZeroValueExcluded(t *testing.T) {
	b := NewRichListBuilder()
	b.Push([]byte("a"), 0)
	b.Push([]byte("b"), 50)
	b.Remove([]byte("b"), 50)

	rl := b.Finalize()
	if rl.Count() != 0 {
		t.Fatalf("Count = %d, want 0", rl.Count())
	}
}

func TestRichListRankOf(t *testing.T) {
	b := NewRichListBuilder()
	b.Push([]byte("a"), 300)
	b.Push([]byte("b"), 200)
	b.Push([]byte("c"), 100)
	rl := b.Finalize()

	rank, ok := rl.RankOf([]byte("b"))
	if !ok || rank != 2 {
		t.Fatalf("RankOf(b) = %d, %v, want 2, true", rank, ok)
	}
	if _, ok := rl.RankOf([]byte("unknown")); ok {
		t.Fatalf("RankOf(unknown) = true, want false")
	}
}

func TestRichListGetRangeClamps(t *testing.T) {
	b := NewRichListBuilder()
	b.Push([]byte("a"), 300)
	b.Push([]byte("b"), 200)
	rl := b.Finalize()

	if got := rl.GetRange(5, 10); got != nil {
		t.Fatalf("GetRange past end = %v, want nil", got)
	}
	if got := rl.GetRange(1, 10); len(got) != 1 {
		t.Fatalf("GetRange(1, 10) = %v, want 1 entry", got)
	}
}

func TestRichListProcessBlockAppliesDeltasAndResorts(t *testing.T) {
	b := NewRichListBuilder()
	scriptA := []byte("scriptA")
	scriptB := []byte("scriptB")
	b.Push(scriptA, 1000)
	b.Push(scriptB, 500)
	rl := b.Finalize()

	// scriptB receives a new output worth more than scriptA's balance,
	// should overtake scriptA in rank after ProcessBlock.
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff}})
	tx.AddTxOut(&wire.TxOut{Value: 700, PkScript: scriptB})

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(tx)

	if err := rl.ProcessBlock(block, nil); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	rankB, ok := rl.RankOf(scriptB)
	if !ok || rankB != 1 {
		t.Fatalf("RankOf(scriptB) = %d, %v, want 1, true (1200 > 1000)", rankB, ok)
	}
	rankA, ok := rl.RankOf(scriptA)
	if !ok || rankA != 2 {
		t.Fatalf("RankOf(scriptA) = %d, %v, want 2, true", rankA, ok)
	}
}

func TestRichListProcessBlockSpendToZeroRemovesEntry(t *testing.T) {
	b := NewRichListBuilder()
	script := []byte("script")
	b.Push(script, 1000)
	rl := b.Finalize()

	prevCb := wire.NewMsgTx(wire.TxVersion)
	prevCb.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff}})
	prevCb.AddTxOut(&wire.TxOut{Value: 1000, PkScript: script})

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: prevCb.TxHash(), Index: 0}})
	spend.AddTxOut(&wire.TxOut{Value: 900, PkScript: []byte("other")})

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(spend)

	prevOuts := []chainenc.PrevOut{{Value: 1000, PkScript: script}}
	if err := rl.ProcessBlock(block, prevOuts); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	if _, ok := rl.RankOf(script); ok {
		t.Fatalf("RankOf(script) after full spend = true, want false (zero balance removed)")
	}
	if rl.Count() != 1 {
		t.Fatalf("Count = %d, want 1 (only \"other\")", rl.Count())
	}
}

func TestRichListTotalMatchesSumOfEntries(t *testing.T) {
	b := NewRichListBuilder()
	b.Push([]byte("a"), 100)
	b.Push([]byte("b"), 250)
	rl := b.Finalize()
	if rl.Total() != 350 {
		t.Fatalf("Total = %d, want 350", rl.Total())
	}
}
