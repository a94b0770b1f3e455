package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
	"github.com/rawblock/utxo-explorer/internal/chainstore"
	"github.com/rawblock/utxo-explorer/internal/eventbus"
	"github.com/rawblock/utxo-explorer/internal/fetcher"
)

const (
	nodeBackoff = 100 * time.Millisecond
	idleTimeout = 60 * time.Second
	queuePoll   = 20 * time.Millisecond
)

// Run drives the applier through its full lifecycle: Init, a bulk sync to
// the chain tip, a one-shot load_utxo, then Following until Stop is
// called. It blocks until shutdown completes.
func (a *Applier) Run(ctx context.Context) error {
	defer close(a.stopped)

	log.Printf("[Applier] starting, data dir %s", a.cfg.DataDir)

	a.state.Store(StateSyncingBulk)
	if err := a.bulkSync(ctx); err != nil {
		return fmt.Errorf("indexer: bulk sync: %w", err)
	}
	if a.shouldStop() {
		return a.shutdown()
	}

	a.state.Store(StateLoadingUtxo)
	log.Printf("[Applier] loading utxo in-memory services")
	if err := a.loadUtxo(); err != nil {
		return fmt.Errorf("indexer: load_utxo: %w", err)
	}

	a.state.Store(StateFollowing)
	log.Printf("[Applier] following, height=%v", mustHeight(a))

	events, cancel := a.bus.Subscribe()
	defer cancel()
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-a.stopCh:
			return a.shutdown()
		case <-ctx.Done():
			return a.shutdown()
		case <-idle.C:
			a.state.Store(StateSyncingFollow)
			if err := a.followSync(ctx); err != nil {
				log.Printf("[Applier] defensive sync error: %v", err)
			}
			a.state.Store(StateFollowing)
			idle.Reset(idleTimeout)
		case ev := <-events:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)
			switch ev.Kind {
			case eventbus.HashBlockEvent:
				a.state.Store(StateSyncingFollow)
				if err := a.followSync(ctx); err != nil {
					log.Printf("[Applier] follow sync error: %v", err)
				}
				a.state.Store(StateFollowing)
			case eventbus.RawTxEvent:
				if ev.Tx == nil {
					continue
				}
				if err := a.Submit(ev.Tx); err != nil {
					var missing *chainstore.ErrMissingPrevTx
					if errors.As(err, &missing) {
						log.Printf("[Applier] unconfirmed tx %s: missing prev tx %s", ev.Tx.TxHash(), missing.Txid)
					} else {
						log.Printf("[Applier] unconfirmed tx %s: %v", ev.Tx.TxHash(), err)
					}
				}
			}
		}
	}
}

func (a *Applier) shouldStop() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

func (a *Applier) shutdown() error {
	a.state.Store(StateStopping)
	log.Printf("[Applier] stopping")
	if a.fetch != nil {
		a.fetch.Stop()
	}
	err := a.Close()
	a.state.Store(StateStopped)
	return err
}

func mustHeight(a *Applier) int64 {
	h, ok := a.SyncedHeight()
	if !ok {
		return -1
	}
	return int64(h)
}

// bulkSync fetches and applies blocks from the current synced height (or
// genesis, if none) up through the chain tip observed at the start of the
// pass, skipping the in-memory services for throughput. It re-checks the
// tip as it goes so a chain that grows during the initial sync is still
// fully caught up.
func (a *Applier) bulkSync(ctx context.Context) error {
	if err := a.ensureGenesis(ctx); err != nil {
		return err
	}

	for {
		if a.shouldStop() {
			return nil
		}
		if err := a.reorgIfNeeded(ctx); err != nil {
			return err
		}

		height, ok := a.SyncedHeight()
		if !ok {
			return fmt.Errorf("indexer: bulk sync: no synced height after genesis apply")
		}
		info, err := a.node.ChainInfo()
		if err != nil {
			log.Printf("[Applier] chaininfo: %v, retrying", err)
			if !sleepOrStop(ctx, a.stopCh, nodeBackoff) {
				return nil
			}
			continue
		}
		if height >= info.Blocks {
			return nil
		}

		if err := a.ensureFetcher(ctx, height, info.Blocks); err != nil {
			return err
		}
		a.fetch.SetTarget(info.Blocks)

		applied, err := a.drainFetcherTo(ctx, info.Blocks, true)
		if err != nil {
			return err
		}
		if !applied && !sleepOrStop(ctx, a.stopCh, queuePoll) {
			return nil
		}
	}
}

// followSync runs reorg detection then catches up to the current tip,
// applying blocks with the in-memory services live. It handles arbitrarily
// many blocks in one call, which is also how multi-block catch-up after a
// missed notification is handled.
func (a *Applier) followSync(ctx context.Context) error {
	if err := a.reorgIfNeeded(ctx); err != nil {
		return err
	}
	for {
		if a.shouldStop() {
			return nil
		}
		height, ok := a.SyncedHeight()
		if !ok {
			return fmt.Errorf("indexer: follow sync: no synced height")
		}
		info, err := a.node.ChainInfo()
		if err != nil {
			return fmt.Errorf("chaininfo: %w", err)
		}
		if height >= info.Blocks {
			return nil
		}

		// Fetch the next block directly by walking one header forward from
		// the local tip, bypassing the bulk fetcher for this single block.
		// The block_hash entry above the synced height is not consulted:
		// after a rollback it still names the orphaned block.
		tipHash, ok, err := a.blockStore.GetHashByHeight(height)
		if err != nil || !ok {
			return fmt.Errorf("indexer: follow sync: missing local hash at height %d", height)
		}
		headers, err := a.node.Headers(ctx, 2, tipHash)
		if err != nil || len(headers) < 2 {
			return fmt.Errorf("indexer: follow sync: headers from %d: %w", height, err)
		}
		nextHash := headers[1].BlockHash()
		block, err := a.node.Block(ctx, nextHash)
		if err != nil {
			return fmt.Errorf("indexer: follow sync: fetch block %s: %w", nextHash, err)
		}

		if err := a.applyBlock(height+1, block, false); err != nil {
			return err
		}
	}
}

// ensureGenesis applies the configured genesis block when no block has
// been applied yet.
func (a *Applier) ensureGenesis(ctx context.Context) error {
	if _, ok := a.SyncedHeight(); ok {
		return nil
	}
	log.Printf("[Applier] no synced height, fetching genesis block %s", a.cfg.GenesisHash)
	block, err := a.node.Block(ctx, a.cfg.GenesisHash)
	if err != nil {
		return fmt.Errorf("indexer: fetch genesis block: %w", err)
	}
	return a.applyBlock(0, block, true)
}

func (a *Applier) ensureFetcher(ctx context.Context, height, target uint32) error {
	if a.fetch != nil {
		return nil
	}
	hash, ok, err := a.blockStore.GetHashByHeight(height)
	if err != nil {
		return fmt.Errorf("indexer: lookup hash at height %d: %w", height, err)
	}
	if !ok {
		return fmt.Errorf("indexer: no local hash at height %d", height)
	}
	budget := a.cfg.FetchBudget
	if budget <= 0 {
		budget = fetcher.DefaultBudget
	}
	a.fetch = fetcher.New(a.node, hash, height, target, budget)
	go a.fetch.Run(ctx)
	return nil
}

// drainFetcherTo applies every block the fetcher currently has queued, up
// to target height, returning applied=true if at least one block landed.
func (a *Applier) drainFetcherTo(ctx context.Context, target uint32, bulk bool) (applied bool, err error) {
	for {
		if a.shouldStop() {
			return applied, nil
		}
		height, ok := a.SyncedHeight()
		if !ok || height >= target {
			return applied, nil
		}
		block, ok := a.fetch.PopFront()
		if !ok {
			return applied, nil
		}
		if err := a.applyBlock(height+1, block, bulk); err != nil {
			return applied, err
		}
		applied = true
	}
}

// reorgIfNeeded detects and recovers from a reorg: probe the node with
// headers(1, local_hash_at_H); an empty response means the local block was
// orphaned, so roll back one block at a time until the local hash is
// confirmed canonical again.
func (a *Applier) reorgIfNeeded(ctx context.Context) error {
	for {
		height, ok := a.SyncedHeight()
		if !ok {
			return nil
		}
		localHash, ok, err := a.blockStore.GetHashByHeight(height)
		if err != nil {
			return fmt.Errorf("indexer: reorg probe: lookup local hash at %d: %w", height, err)
		}
		if !ok {
			return fmt.Errorf("indexer: reorg probe: no local hash at synced height %d", height)
		}

		headers, err := a.node.Headers(ctx, 1, localHash)
		if err != nil {
			return fmt.Errorf("indexer: reorg probe headers(%s): %w", localHash, err)
		}
		if len(headers) > 0 {
			return nil
		}
		if height == 0 {
			return fmt.Errorf("indexer: reorg rolled back past genesis")
		}

		log.Printf("[Applier] reorg: local block %s at height %d orphaned, rolling back", localHash, height)
		if err := a.rollbackOne(height, localHash); err != nil {
			return err
		}

		if a.liveInMemoryServices() {
			log.Printf("[Applier] reorg: rebuilding in-memory services")
			if err := a.loadUtxo(); err != nil {
				return fmt.Errorf("indexer: reorg rebuild load_utxo: %w", err)
			}
		}
		a.fetch = nil // cursor is now stale; ensureFetcher rebuilds it on the next bulk sync
	}
}

func (a *Applier) liveInMemoryServices() bool {
	s := a.state.Load()
	return s == StateFollowing || s == StateSyncingFollow
}

// rollbackOne undoes the block at height, reconstructing it from BlockStore
// (header) and TxStore (transactions by txid list), and decrements
// SyncedHeight.
func (a *Applier) rollbackOne(height uint32, hash chainhash.Hash) error {
	a.muUtxo.Lock()
	defer a.muUtxo.Unlock()
	a.muBlock.Lock()
	defer a.muBlock.Unlock()
	a.muSyncedHeight.Lock()
	defer a.muSyncedHeight.Unlock()

	meta, ok, err := a.blockStore.GetByHash(hash)
	if err != nil || !ok {
		return fmt.Errorf("indexer: rollback: block meta %s: %w", hash, err)
	}
	header, err := chainenc.DecodeHeader(meta.Header)
	if err != nil {
		return fmt.Errorf("indexer: rollback: decode header %s: %w", hash, err)
	}

	block := &wire.MsgBlock{Header: *header}
	prevTxs := make(map[chainhash.Hash]*wire.MsgTx)
	for _, txid := range meta.TxIDs {
		val, err := a.txStore.Get(txid)
		if err != nil || val == nil {
			return fmt.Errorf("indexer: rollback: tx %s not found: %w", txid, err)
		}
		tx, err := chainenc.DecodeTx(val.RawTx)
		if err != nil {
			return fmt.Errorf("indexer: rollback: decode tx %s: %w", txid, err)
		}
		block.Transactions = append(block.Transactions, tx)

		if !chainenc.IsCoinbase(tx) {
			for i, in := range tx.TxIn {
				po := val.PrevOuts[i]
				prevTxid := in.PreviousOutPoint.Hash
				idx := int(in.PreviousOutPoint.Index)

				prevTx, ok := prevTxs[prevTxid]
				if !ok {
					prevTx = &wire.MsgTx{}
					prevTxs[prevTxid] = prevTx
				}
				// Only the referenced output's value/script are ever read
				// back by ReorgBlock; pad so the index lines up.
				for len(prevTx.TxOut) <= idx {
					prevTx.TxOut = append(prevTx.TxOut, &wire.TxOut{})
				}
				prevTx.TxOut[idx] = &wire.TxOut{Value: po.Value, PkScript: po.PkScript}
			}
		}
	}

	if err := a.utxoStore.ReorgBlock(block, prevTxs); err != nil {
		return fmt.Errorf("indexer: rollback: utxo reorg_block: %w", err)
	}
	if err := a.syncedHeight.Put(height - 1); err != nil {
		return fmt.Errorf("indexer: rollback: decrement synced height: %w", err)
	}
	return nil
}

func sleepOrStop(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}
