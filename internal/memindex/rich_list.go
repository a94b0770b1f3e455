package memindex

import (
	"bytes"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
)

// RichListEntry is one (scriptPubKey, balance) pair in the ranking.
type RichListEntry struct {
	PkScript []byte
	Value    uint64
}

// RichListBuilder accumulates per-script running totals during bulk load,
// then Finalize materializes the sorted vector and its position index in
// one pass.
type RichListBuilder struct {
	totals map[string]uint64
}

// NewRichListBuilder returns an empty builder.
func NewRichListBuilder() *RichListBuilder {
	return &RichListBuilder{totals: make(map[string]uint64)}
}

// Push adds value to script's running total. Zero-value entries are never
// pushed by bulk load.
func (b *RichListBuilder) Push(script []byte, value uint64) {
	if value == 0 {
		return
	}
	b.totals[string(script)] += value
}

// Remove subtracts value from script's running total.
func (b *RichListBuilder) Remove(script []byte, value uint64) {
	if value == 0 {
		return
	}
	key := string(script)
	if b.totals[key] <= value {
		delete(b.totals, key)
		return
	}
	b.totals[key] -= value
}

// Finalize builds the sorted RichList from the accumulated totals.
func (b *RichListBuilder) Finalize() *RichList {
	entries := make([]RichListEntry, 0, len(b.totals))
	for script, total := range b.totals {
		if total == 0 {
			continue
		}
		entries = append(entries, RichListEntry{PkScript: []byte(script), Value: total})
	}
	sortEntries(entries)

	rl := &RichList{entries: entries}
	rl.rebuildIndex()
	return rl
}

func sortEntries(entries []RichListEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return bytes.Compare(entries[i].PkScript, entries[j].PkScript) < 0
	})
}

// RichList is the balance-descending ranking of every script currently
// holding non-zero funds, with stable tie-break by script bytes and an
// O(log N) rank-of-script index.
type RichList struct {
	mu       sync.RWMutex
	entries  []RichListEntry
	index    map[string]int // script -> position in entries
	balances map[string]uint64
}

func (r *RichList) rebuildIndex() {
	r.index = make(map[string]int, len(r.entries))
	for i, e := range r.entries {
		r.index[string(e.PkScript)] = i
	}
}

// ShrinkToFit releases excess slice capacity after bulk load.
func (r *RichList) ShrinkToFit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	shrunk := make([]RichListEntry, len(r.entries))
	copy(shrunk, r.entries)
	r.entries = shrunk
}

// GetRange returns entries in [offset, offset+limit), clamped to the
// available range.
func (r *RichList) GetRange(offset, limit int) []RichListEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if offset >= len(r.entries) {
		return nil
	}
	end := offset + limit
	if end > len(r.entries) || limit < 0 {
		end = len(r.entries)
	}
	out := make([]RichListEntry, end-offset)
	copy(out, r.entries[offset:end])
	return out
}

// RankOf returns script's 1-based rank, or ok=false if it holds no balance.
func (r *RichList) RankOf(script []byte) (rank uint32, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, found := r.index[string(script)]
	if !found {
		return 0, false
	}
	return uint32(pos + 1), true
}

// Count returns the number of entries.
func (r *RichList) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Total returns Σ entries.value.
func (r *RichList) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum uint64
	for _, e := range r.entries {
		sum += e.Value
	}
	return sum
}

func (r *RichList) ensureBalances() {
	if r.balances != nil {
		return
	}
	r.balances = make(map[string]uint64, len(r.entries))
	for _, e := range r.entries {
		r.balances[string(e.PkScript)] = e.Value
	}
}

// ProcessBlock applies block's effect to the ranking during follow mode:
// deltas are applied to a lazily-built balance map, then only the affected
// scripts are re-sorted — extracted, updated, and reinserted by binary
// search — leaving the rest of the vector untouched.
func (r *RichList) ProcessBlock(block *wire.MsgBlock, prevOuts []chainenc.PrevOut) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureBalances()

	affected := make(map[string]bool)
	apply := func(script []byte, delta int64) {
		if delta == 0 {
			return
		}
		key := string(script)
		bal := int64(r.balances[key]) + delta
		if bal < 0 {
			bal = 0
		}
		r.balances[key] = uint64(bal)
		affected[key] = true
	}

	for _, tx := range block.Transactions {
		for _, out := range tx.TxOut {
			if out.Value == 0 {
				continue
			}
			apply(out.PkScript, out.Value)
		}
	}
	err := chainenc.ForEachTxPrevOuts(block, prevOuts, func(tx *wire.MsgTx, txPrevOuts []chainenc.PrevOut) error {
		for _, po := range txPrevOuts {
			if po.Value == 0 {
				continue
			}
			apply(po.PkScript, -po.Value)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Track the lowest position touched by this round so the position
	// index can be patched for just the disturbed range afterward:
	// removing or inserting an entry only shifts the positions of entries
	// at or after it, leaving everything before untouched.
	minTouched := len(r.entries)
	for key := range affected {
		if pos, ok := r.index[key]; ok && pos < minTouched {
			minTouched = pos
		}
	}

	// Remove every affected script from the current vector, then reinsert
	// the ones still holding a non-zero balance at their new sorted
	// position.
	remaining := r.entries[:0:0]
	for _, e := range r.entries {
		if !affected[string(e.PkScript)] {
			remaining = append(remaining, e)
		}
	}
	r.entries = remaining

	for key := range affected {
		value := r.balances[key]
		if value == 0 {
			delete(r.balances, key)
			delete(r.index, key)
			continue
		}
		entry := RichListEntry{PkScript: []byte(key), Value: value}
		pos := sort.Search(len(r.entries), func(i int) bool {
			if r.entries[i].Value != entry.Value {
				return r.entries[i].Value < entry.Value
			}
			return bytes.Compare(r.entries[i].PkScript, entry.PkScript) >= 0
		})
		if pos < minTouched {
			minTouched = pos
		}
		r.entries = append(r.entries, RichListEntry{})
		copy(r.entries[pos+1:], r.entries[pos:])
		r.entries[pos] = entry
	}

	for i := minTouched; i < len(r.entries); i++ {
		r.index[string(r.entries[i].PkScript)] = i
	}
	return nil
}
