// Package fetcher implements a bounded-queue parallel prefetch of
// contiguous blocks from the node, preserving height order at the queue's
// output: atomic progress counters, a single driver goroutine, and
// ctx.Done() cancellation feed a continuously topped-up bounded queue.
package fetcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// NodeClient is the subset of the node adapter the fetcher needs.
type NodeClient interface {
	Headers(ctx context.Context, count int, fromHash chainhash.Hash) ([]*wire.BlockHeader, error)
	Block(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error)
}

// DefaultBudget is the default maximum outstanding-blocks budget.
const DefaultBudget = 1000

const retryDelay = 100 * time.Millisecond

// Fetcher maintains a FIFO queue of blocks delivered in strictly increasing
// height order, starting at startHeight+1.
type Fetcher struct {
	node   NodeClient
	budget int

	mu         sync.Mutex
	queue      []*wire.MsgBlock
	cursorHash chainhash.Hash
	nextHeight uint32
	target     uint32

	stopped atomic.Bool
	queued  atomic.Int64
}

// New returns a Fetcher that will start requesting blocks at startHeight+1,
// following on from startHash, up through target. Target may be raised
// later via SetTarget as new chain tips are learned.
func New(node NodeClient, startHash chainhash.Hash, startHeight, target uint32, budget int) *Fetcher {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Fetcher{
		node:       node,
		budget:     budget,
		cursorHash: startHash,
		nextHeight: startHeight + 1,
		target:     target,
	}
}

// SetTarget raises the fetcher's target height, e.g. when the applier
// observes a new chain tip mid-sync.
func (f *Fetcher) SetTarget(target uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if target > f.target {
		f.target = target
	}
}

// Stop signals the driver goroutine to exit at its next check.
func (f *Fetcher) Stop() {
	f.stopped.Store(true)
}

// Run drives the prefetch loop until ctx is cancelled or Stop is called.
// It is meant to be started in its own goroutine.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(retryDelay)
	defer ticker.Stop()

	for {
		if f.stopped.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.mu.Lock()
		queueLen := len(f.queue)
		atHeight := f.nextHeight
		target := f.target
		cursor := f.cursorHash
		f.mu.Unlock()

		room := f.budget - queueLen
		if room <= 0 || atHeight > target {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		// Request one extra header: Bitcoin Core's REST headers endpoint
		// echoes from_hash's own header first.
		headers, err := f.node.Headers(ctx, room+1, cursor)
		if err != nil {
			log.Printf("[Fetcher] headers(%d, %s): %v", room+1, cursor, err)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		if len(headers) <= 1 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		headers = headers[1:]

		for _, h := range headers {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if f.stopped.Load() {
				return
			}

			hash := h.BlockHash()
			block, err := f.node.Block(ctx, hash)
			if err != nil {
				log.Printf("[Fetcher] block(%s): %v", hash, err)
				break
			}

			f.mu.Lock()
			f.queue = append(f.queue, block)
			f.cursorHash = hash
			f.nextHeight++
			f.mu.Unlock()
			f.queued.Add(1)
		}
	}
}

// PopFront returns the next queued block, or ok=false if the queue is
// currently empty ("try later"). The fetcher is advisory: if it falls
// behind, the applier may bypass it and fetch a block directly by height.
func (f *Fetcher) PopFront() (*wire.MsgBlock, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	block := f.queue[0]
	f.queue = f.queue[1:]
	return block, true
}

// Len reports the current queue depth, for diagnostics.
func (f *Fetcher) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Err wraps a fetch failure with the offending hash, for callers that want
// structured context beyond the logged line.
type Err struct {
	Hash chainhash.Hash
	Err  error
}

func (e *Err) Error() string {
	return fmt.Sprintf("fetcher: %s: %v", e.Hash, e.Err)
}
func (e *Err) Unwrap() error { return e.Err }
