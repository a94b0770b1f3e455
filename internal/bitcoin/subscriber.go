package bitcoin

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/utxo-explorer/internal/eventbus"
)

// Subscriber stands in for the node's hashblock/rawtx ZMQ push stream by
// polling instead: a ticker-driven scan with a seen-set to suppress
// duplicate notifications, plus a periodic cleanup pass so the seen-set
// doesn't grow without bound. It publishes onto the same eventbus.Bus a
// real push-based subscriber would.
type Subscriber struct {
	client   *Client
	bus      *eventbus.Bus
	interval time.Duration

	mu      sync.Mutex
	seenTx  map[string]time.Time
	lastTip chainhash.Hash
	haveTip bool
}

// NewSubscriber returns a Subscriber polling client every interval.
func NewSubscriber(client *Client, bus *eventbus.Bus, interval time.Duration) *Subscriber {
	return &Subscriber{
		client:   client,
		bus:      bus,
		interval: interval,
		seenTx:   make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled. Meant to be started in its own
// goroutine.
func (s *Subscriber) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			s.cleanupSeen()
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Subscriber) poll() {
	info, err := s.client.ChainInfo()
	if err == nil {
		s.mu.Lock()
		changed := !s.haveTip || info.BestBlockHash != s.lastTip
		if changed {
			s.lastTip = info.BestBlockHash
			s.haveTip = true
		}
		s.mu.Unlock()
		if changed {
			s.bus.Publish(eventbus.Event{Kind: eventbus.HashBlockEvent, Hash: info.BestBlockHash})
		}
	}

	txids, err := s.client.GetRawMempool()
	if err != nil {
		return
	}
	for _, txid := range txids {
		key := txid.String()
		s.mu.Lock()
		_, seen := s.seenTx[key]
		if !seen {
			s.seenTx[key] = time.Now()
		}
		s.mu.Unlock()
		if seen {
			continue
		}

		tx, err := s.client.GetRawTransaction(txid)
		if err != nil {
			continue
		}
		s.bus.Publish(eventbus.Event{Kind: eventbus.RawTxEvent, Tx: tx})
	}
}

func (s *Subscriber) cleanupSeen() {
	cutoff := time.Now().Add(-time.Hour)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.seenTx {
		if t.Before(cutoff) {
			delete(s.seenTx, k)
		}
	}
}
