package fetcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// fakeNode serves a fixed, linear chain of headers/blocks keyed by hash,
// mimicking Bitcoin Core's REST headers endpoint: Headers always echoes
// fromHash's own header first.
type fakeNode struct {
	mu      sync.Mutex
	headers []*wire.BlockHeader // index 0 is genesis
	byHash  map[chainhash.Hash]int
}

func newFakeNode(n int) *fakeNode {
	f := &fakeNode{byHash: make(map[chainhash.Hash]int)}
	var prev chainhash.Hash
	for i := 0; i < n; i++ {
		h := &wire.BlockHeader{
			PrevBlock: prev,
			Nonce:     uint32(i),
			Timestamp: time.Unix(1600000000+int64(i), 0),
		}
		f.headers = append(f.headers, h)
		hash := h.BlockHash()
		f.byHash[hash] = i
		prev = hash
	}
	return f
}

func (f *fakeNode) genesisHash() chainhash.Hash { return f.headers[0].BlockHash() }

func (f *fakeNode) Headers(ctx context.Context, count int, fromHash chainhash.Hash) ([]*wire.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.byHash[fromHash]
	if !ok {
		return nil, fmt.Errorf("fakeNode: unknown from_hash %s", fromHash)
	}
	var out []*wire.BlockHeader
	for i := idx; i < len(f.headers) && len(out) < count; i++ {
		out = append(out, f.headers[i])
	}
	return out, nil
}

func (f *fakeNode) Block(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	f.mu.Lock()
	idx, ok := f.byHash[hash]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakeNode: unknown block %s", hash)
	}
	return wire.NewMsgBlock(f.headers[idx]), nil
}

func TestFetcherPopulatesQueueInHeightOrder(t *testing.T) {
	node := newFakeNode(10)
	f := New(node, node.genesisHash(), 0, 9, DefaultBudget)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	deadline := time.After(2 * time.Second)
	for i := 1; i <= 9; i++ {
		var block *wire.MsgBlock
		var ok bool
		for {
			block, ok = f.PopFront()
			if ok {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for block at height %d", i)
			case <-time.After(5 * time.Millisecond):
			}
		}
		if block.Header.Nonce != uint32(i) {
			t.Fatalf("PopFront() at step %d = nonce %d, want %d (strictly increasing height order)", i, block.Header.Nonce, i)
		}
	}
}

func TestFetcherPopFrontEmptyQueue(t *testing.T) {
	node := newFakeNode(1)
	f := New(node, node.genesisHash(), 0, 0, DefaultBudget)
	if _, ok := f.PopFront(); ok {
		t.Fatalf("PopFront on empty/at-target fetcher = ok=true, want false")
	}
}

func TestFetcherSetTargetOnlyRaises(t *testing.T) {
	node := newFakeNode(5)
	f := New(node, node.genesisHash(), 0, 2, DefaultBudget)
	f.SetTarget(1)
	if f.target != 2 {
		t.Fatalf("SetTarget(1) lowered target to %d, want unchanged 2", f.target)
	}
	f.SetTarget(4)
	if f.target != 4 {
		t.Fatalf("SetTarget(4) = %d, want 4", f.target)
	}
}

func TestFetcherStopHaltsRun(t *testing.T) {
	node := newFakeNode(3)
	f := New(node, node.genesisHash(), 0, 2, DefaultBudget)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	f.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after Stop")
	}
}

func TestFetcherErrWrapsHash(t *testing.T) {
	inner := fmt.Errorf("boom")
	e := &Err{Hash: chainhash.Hash{1}, Err: inner}
	if e.Unwrap() != inner {
		t.Fatalf("Unwrap() = %v, want inner error", e.Unwrap())
	}
	if e.Error() == "" {
		t.Fatalf("Error() returned empty string")
	}
}
