package indexer

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/bitcoin"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
	"github.com/rawblock/utxo-explorer/internal/chainstore"
	"github.com/rawblock/utxo-explorer/internal/eventbus"
	"github.com/rawblock/utxo-explorer/internal/fetcher"
	"github.com/rawblock/utxo-explorer/internal/memindex"
)

// Config bundles what Open needs to stand up an Applier for one coin.
type Config struct {
	DataDir     string
	GenesisHash chainhash.Hash
	FetchBudget int
	Permissive  bool // test-harness UTXO placeholder mode
}

// Applier owns every on-disk store and in-memory service for one chain and
// mediates all writes through a fixed lock order:
// utxo, tx, address, utxo_by_script, rich_list, block, synced_height.
type Applier struct {
	cfg  Config
	node *bitcoin.Client
	bus  *eventbus.Bus

	utxoStore    *chainstore.UtxoStore
	txStore      *chainstore.TxStore
	addressIndex *chainstore.AddressIndex
	blockStore   *chainstore.BlockStore
	syncedHeight *chainstore.SyncedHeightStore

	muUtxo, muTx, muAddress, muUtxoByScript, muRichList, muBlock, muSyncedHeight sync.RWMutex

	utxoByScript *memindex.UtxoByScript
	richList     *memindex.RichList

	fetch *fetcher.Fetcher

	state   stateBox
	stopCh  chan struct{}
	stopped chan struct{}
}

// Open opens (creating if absent) every store under cfg.DataDir.
func Open(cfg Config, node *bitcoin.Client, bus *eventbus.Bus) (*Applier, error) {
	utxoStore, err := chainstore.OpenUtxoStore(cfg.DataDir, false, cfg.Permissive)
	if err != nil {
		return nil, fmt.Errorf("indexer: open utxo store: %w", err)
	}
	txStore, err := chainstore.OpenTxStore(cfg.DataDir, false)
	if err != nil {
		return nil, fmt.Errorf("indexer: open tx store: %w", err)
	}
	addressIndex, err := chainstore.OpenAddressIndex(cfg.DataDir, false)
	if err != nil {
		return nil, fmt.Errorf("indexer: open address index: %w", err)
	}
	blockStore, err := chainstore.OpenBlockStore(cfg.DataDir, false)
	if err != nil {
		return nil, fmt.Errorf("indexer: open block store: %w", err)
	}
	syncedHeight, err := chainstore.OpenSyncedHeightStore(cfg.DataDir + "/synced_height")
	if err != nil {
		return nil, fmt.Errorf("indexer: open synced height store: %w", err)
	}

	a := &Applier{
		cfg:          cfg,
		node:         node,
		bus:          bus,
		utxoStore:    utxoStore,
		txStore:      txStore,
		addressIndex: addressIndex,
		blockStore:   blockStore,
		syncedHeight: syncedHeight,
		utxoByScript: memindex.NewUtxoByScript(),
		richList:     memindex.NewRichListBuilder().Finalize(),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	a.state.Store(StateInit)
	return a, nil
}

// Close flushes and closes every store. Part of the Stopping→Stopped
// transition.
func (a *Applier) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(a.utxoStore.Close())
	record(a.txStore.Close())
	record(a.addressIndex.Close())
	record(a.blockStore.Close())
	return firstErr
}

// State returns the applier's current state machine phase.
func (a *Applier) State() State { return a.state.Load() }

// Stop requests shutdown; Run returns once the current block finishes
// applying and stores are closed.
func (a *Applier) Stop() {
	close(a.stopCh)
	<-a.stopped
}

// SyncedHeight returns the current high-water mark, or ok=false if no
// block has been applied yet.
func (a *Applier) SyncedHeight() (uint32, bool) {
	h, ok, err := a.syncedHeight.Get()
	if err != nil {
		return 0, false
	}
	return h, ok
}

// BlockStore, TxStore, AddressIndex and UtxoStore expose the read-only
// query surface for the HTTP API. They return the stores directly and take
// no store locks; the underlying badger transactions give each read a
// point-in-time snapshot.
func (a *Applier) BlockStore() *chainstore.BlockStore       { return a.blockStore }
func (a *Applier) TxStore() *chainstore.TxStore             { return a.txStore }
func (a *Applier) AddressIndex() *chainstore.AddressIndex   { return a.addressIndex }
func (a *Applier) UtxoStore() *chainstore.UtxoStore         { return a.utxoStore }

// UtxoByScript returns the current in-memory service, guarded against the
// pointer swap loadUtxo performs after bulk load or a reorg.
func (a *Applier) UtxoByScript() *memindex.UtxoByScript {
	a.muUtxoByScript.RLock()
	defer a.muUtxoByScript.RUnlock()
	return a.utxoByScript
}

// RichList returns the current in-memory service, guarded against the
// pointer swap loadUtxo performs after bulk load or a reorg.
func (a *Applier) RichList() *memindex.RichList {
	a.muRichList.RLock()
	defer a.muRichList.RUnlock()
	return a.richList
}

// Submit resolves and stores an unconfirmed transaction, used by the
// broadcast HTTP handler after it has handed the raw tx to the node.
func (a *Applier) Submit(tx *wire.MsgTx) error {
	a.muTx.Lock()
	defer a.muTx.Unlock()
	return a.txStore.PutUnconfirmed(tx)
}

// applyBlock performs the six-step per-block apply, holding every store's
// write lock for the full duration so the block's effects become visible to
// readers atomically. bulk skips the two in-memory services.
func (a *Applier) applyBlock(height uint32, block *wire.MsgBlock, bulk bool) error {
	a.muUtxo.Lock()
	defer a.muUtxo.Unlock()
	a.muTx.Lock()
	defer a.muTx.Unlock()
	a.muAddress.Lock()
	defer a.muAddress.Unlock()
	a.muUtxoByScript.Lock()
	defer a.muUtxoByScript.Unlock()
	a.muRichList.Lock()
	defer a.muRichList.Unlock()
	a.muBlock.Lock()
	defer a.muBlock.Unlock()
	a.muSyncedHeight.Lock()
	defer a.muSyncedHeight.Unlock()

	spent, err := a.utxoStore.ProcessBlock(block)
	if err != nil {
		return fmt.Errorf("indexer: utxo process_block at height %d: %w", height, err)
	}
	prevOuts := spentToPrevOuts(spent)

	if err := a.txStore.PutConfirmed(height, block, prevOuts); err != nil {
		return fmt.Errorf("indexer: tx put_confirmed at height %d: %w", height, err)
	}
	if err := a.addressIndex.ProcessBlock(block, prevOuts); err != nil {
		return fmt.Errorf("indexer: address index process_block at height %d: %w", height, err)
	}
	if !bulk {
		if err := a.utxoByScript.ProcessBlock(block, prevOuts); err != nil {
			return fmt.Errorf("indexer: utxo_by_script process_block at height %d: %w", height, err)
		}
		if err := a.richList.ProcessBlock(block, prevOuts); err != nil {
			return fmt.Errorf("indexer: rich_list process_block at height %d: %w", height, err)
		}
	}
	if _, err := a.blockStore.Put(height, block); err != nil {
		return fmt.Errorf("indexer: block store put at height %d: %w", height, err)
	}
	if err := a.syncedHeight.Put(height); err != nil {
		return fmt.Errorf("indexer: synced height commit at height %d: %w", height, err)
	}
	return nil
}

func spentToPrevOuts(spent []chainstore.UtxoEntry) []chainenc.PrevOut {
	out := make([]chainenc.PrevOut, len(spent))
	for i, e := range spent {
		out[i] = chainenc.PrevOut{Value: int64(e.Value), PkScript: e.PkScript}
	}
	return out
}

// loadUtxo streams the entire UtxoStore into fresh UtxoByScript and
// RichList builders and swaps them in — the one-shot pass that ends bulk
// load and the lazy rebuild after a reorg that touched live in-memory
// services. Zero-value entries are excluded (OP_RETURN, provably-unspendable
// outputs).
func (a *Applier) loadUtxo() error {
	fresh := memindex.NewUtxoByScript()
	builder := memindex.NewRichListBuilder()

	err := a.utxoStore.Stream(func(e chainstore.UtxoEntry) error {
		if e.Value == 0 {
			return nil
		}
		fresh.Push(e.PkScript, memindex.Outpoint{Txid: e.Txid, Vout: e.Vout})
		builder.Push(e.PkScript, e.Value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexer: load_utxo stream: %w", err)
	}
	fresh.ShrinkToFit()
	richList := builder.Finalize()
	richList.ShrinkToFit()

	a.muUtxoByScript.Lock()
	a.utxoByScript = fresh
	a.muUtxoByScript.Unlock()

	a.muRichList.Lock()
	a.richList = richList
	a.muRichList.Unlock()

	return nil
}
