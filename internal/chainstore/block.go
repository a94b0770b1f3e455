package chainstore

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/utxo-explorer/internal/chainenc"
	"github.com/rawblock/utxo-explorer/internal/kv"
)

// BlockStore records both directions of the block index: height→hash (the
// block_hash/ directory) and hash→BlockMeta (the block/ directory). There is
// no delete; a reorged record simply becomes unreachable once SyncedHeight
// rolls back past it, and is overwritten in place if a new block lands at
// the same height.
type BlockStore struct {
	byHeight *kv.Store
	byHash   *kv.Store
}

// OpenBlockStore opens the block_hash/ and block/ column families under
// root.
func OpenBlockStore(root string, temporary bool) (*BlockStore, error) {
	byHeight, err := kv.Open(root+"/block_hash", temporary)
	if err != nil {
		return nil, err
	}
	byHash, err := kv.Open(root+"/block", temporary)
	if err != nil {
		return nil, err
	}
	return &BlockStore{byHeight: byHeight, byHash: byHash}, nil
}

// Close closes both column families.
func (s *BlockStore) Close() error {
	err1 := s.byHeight.Close()
	err2 := s.byHash.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func heightKey(h uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], h)
	return b[:]
}

// Put records both the height→hash mapping and the hash→BlockMeta mapping
// for block, which was applied at height.
func (s *BlockStore) Put(height uint32, block *wire.MsgBlock) (chainenc.BlockMeta, error) {
	meta, err := chainenc.BuildBlockMeta(height, block)
	if err != nil {
		return meta, err
	}
	hash := block.BlockHash()

	if err := s.byHeight.Put(heightKey(height), chainenc.EncodeHash(hash)); err != nil {
		return meta, fmt.Errorf("chainstore: put block_hash[%d]: %w", height, err)
	}
	if err := s.byHash.Put(chainenc.EncodeHash(hash), meta.Encode()); err != nil {
		return meta, fmt.Errorf("chainstore: put block[%s]: %w", hash, err)
	}
	return meta, nil
}

// GetHashByHeight returns the canonical block hash at height, if any.
func (s *BlockStore) GetHashByHeight(height uint32) (chainhash.Hash, bool, error) {
	val, err := s.byHeight.Get(heightKey(height))
	if err == kv.ErrNotFound {
		return chainhash.Hash{}, false, nil
	}
	if err != nil {
		return chainhash.Hash{}, false, fmt.Errorf("chainstore: get block_hash[%d]: %w", height, err)
	}
	var h chainhash.Hash
	copy(h[:], val)
	return h, true, nil
}

// GetByHash returns the BlockMeta for hash, if any.
func (s *BlockStore) GetByHash(hash chainhash.Hash) (chainenc.BlockMeta, bool, error) {
	val, err := s.byHash.Get(chainenc.EncodeHash(hash))
	if err == kv.ErrNotFound {
		return chainenc.BlockMeta{}, false, nil
	}
	if err != nil {
		return chainenc.BlockMeta{}, false, fmt.Errorf("chainstore: get block[%s]: %w", hash, err)
	}
	meta, err := chainenc.DecodeBlockMeta(val)
	if err != nil {
		return chainenc.BlockMeta{}, false, fmt.Errorf("chainstore: corrupt block meta[%s]: %w", hash, err)
	}
	return meta, true, nil
}

// GetByHeight returns the BlockMeta recorded at height, if any.
func (s *BlockStore) GetByHeight(height uint32) (chainenc.BlockMeta, bool, error) {
	hash, ok, err := s.GetHashByHeight(height)
	if err != nil || !ok {
		return chainenc.BlockMeta{}, ok, err
	}
	return s.GetByHash(hash)
}
