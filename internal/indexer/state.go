// Package indexer implements the applier: per-block apply with a fixed
// store-lock order, initial bulk sync, event-driven follow mode, reorg
// detection and rollback, and the
// Init→SyncingBulk→LoadingUtxo→Following→SyncingFollow state machine.
package indexer

import "sync/atomic"

// State is one phase of the applier's state machine.
type State int32

const (
	StateInit State = iota
	StateSyncingBulk
	StateLoadingUtxo
	StateFollowing
	StateSyncingFollow
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSyncingBulk:
		return "syncing_bulk"
	case StateLoadingUtxo:
		return "loading_utxo"
	case StateFollowing:
		return "following"
	case StateSyncingFollow:
		return "syncing_follow"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateBox is an atomic holder for State, so HTTP handlers can read it
// without taking any store lock.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() State   { return State(b.v.Load()) }
func (b *stateBox) Store(s State) { b.v.Store(int32(s)) }
