// Package eventbus implements a single-producer, multi-consumer relay of
// hashblock/rawtx notifications, used both to trigger the applier's sync
// pass and to feed the WebSocket fan-out. A single mutex-protected registry
// fans a typed Event out to every subscriber, each of which gets
// latest-value semantics rather than an unbounded queue.
package eventbus

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Kind discriminates the three message shapes the bus carries.
type Kind int

const (
	// Init is the sentinel value every new subscriber observes before the
	// first real event arrives.
	Init Kind = iota
	// HashBlockEvent signals a new chain tip.
	HashBlockEvent
	// RawTxEvent carries a newly seen mempool transaction.
	RawTxEvent
)

// Event is one message on the bus. Seq increases monotonically with every
// Publish, so consumers detect "new" by inequality rather than by
// inspecting payload fields.
type Event struct {
	Kind Kind
	Hash chainhash.Hash
	Tx   *wire.MsgTx
	Seq  uint64
}

// Bus fans Publish calls out to every live subscriber. Each subscriber's
// channel holds only the latest event: if a slow consumer hasn't drained
// the previous value, Publish overwrites it rather than blocking the
// sender.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	latest Event
}

// New returns a Bus whose initial value is the Init sentinel.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event), latest: Event{Kind: Init}}
}

// Publish broadcasts e to every current subscriber and records it as the
// latest value for future subscribers.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.Seq = b.latest.Seq + 1
	b.latest = e

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer: drop its stale pending value and replace it,
			// preserving latest-value semantics instead of blocking.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Subscribe registers a new receiver, seeded with the current latest value,
// and returns a cancel function that must be called when the subscriber is
// done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 1)
	ch <- b.latest
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
	return ch, cancel
}
