// Package kv provides a uniform binary key/value store abstraction over an
// embedded LSM engine (badger). Every index store in internal/chainstore
// binds a typed key/value codec on top of one Store instance, and every
// Store owns exactly one on-disk directory.
package kv

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = badger.ErrKeyNotFound

// Store wraps a single badger.DB. It is safe for concurrent use by multiple
// goroutines; callers that need cross-key atomicity use Write with a Batch.
type Store struct {
	db        *badger.DB
	path      string
	temporary bool
}

// Open opens (creating if absent) the badger instance rooted at path. When
// temporary is true the directory is wiped before opening and again when the
// Store is closed — this is the "scratch instance" mode used by tests.
func Open(path string, temporary bool) (*Store, error) {
	if temporary {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("kv: wipe temporary dir %s: %w", path, err)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("kv: create dir %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).WithLogger(badgerLogAdapter{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	return &Store{db: db, path: path, temporary: temporary}, nil
}

// Close flushes and closes the underlying badger instance. Temporary
// instances additionally wipe their directory, matching the substrate
// contract's "re-wipes on drop (tests only)".
func (s *Store) Close() error {
	err := s.db.Close()
	if s.temporary {
		if rmErr := os.RemoveAll(s.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// MultiGet fetches several keys inside a single read transaction, returning
// a slice aligned with keys; missing keys yield a nil slot.
func (s *Store) MultiGet(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, key := range keys {
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[i] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put writes a single key/value pair. Durability is implementation-defined
// for single puts, per the substrate contract; callers needing
// crash-atomicity across several keys use Write with a Batch.
func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// KV is a single entry in an ordered scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Iter returns every key/value pair in ascending key order. Reflects a
// point-in-time snapshot as of the call.
func (s *Store) Iter() ([]KV, error) {
	return s.PrefixIter(nil)
}

// PrefixIter returns every key/value pair whose key starts with prefix, in
// ascending key order. A nil or empty prefix scans the whole store.
func (s *Store) PrefixIter(prefix []byte) ([]KV, error) {
	var out []KV
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, KV{Key: key, Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream calls fn for every key/value pair under prefix, in ascending key
// order, without buffering the full result set in memory. Used by bulk UTXO
// load (see internal/indexer) which must not hold the entire UtxoStore in
// RAM at once. fn receives a copy of key/value that outlives the callback.
func (s *Store) Stream(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// HasPrefix reports whether any key starts with prefix, without copying
// values.
func (s *Store) HasPrefix(prefix []byte) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(prefix)
		found = it.ValidForPrefix(prefix)
		return nil
	})
	return found, err
}

// Batch accumulates puts and deletes for atomic application via Write.
type Batch struct {
	puts    []KV
	deletes [][]byte
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put stages a key/value write.
func (b *Batch) Put(key, value []byte) {
	b.puts = append(b.puts, KV{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
}

// Delete stages a key removal.
func (b *Batch) Delete(key []byte) {
	b.deletes = append(b.deletes, append([]byte(nil), key...))
}

// Len reports the number of staged operations.
func (b *Batch) Len() int {
	return len(b.puts) + len(b.deletes)
}

// Write applies every staged put and delete atomically: either all of them
// land, or (on error) none of the later ones are guaranteed to, but badger
// transactions never apply a partial set of writes on failure.
func (s *Store) Write(b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, kv := range b.puts {
			if err := txn.Set(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		for _, key := range b.deletes {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// HasKey reports whether key is present, without copying its value.
func (s *Store) HasKey(key []byte) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// badgerLogAdapter routes badger's internal logging through the standard
// logger at a reduced verbosity — badger is chatty at Info level about
// compaction internals that aren't useful here.
type badgerLogAdapter struct{}

func (badgerLogAdapter) Errorf(f string, v ...interface{})   { log.Printf("[kv] ERROR "+f, v...) }
func (badgerLogAdapter) Warningf(f string, v ...interface{}) { log.Printf("[kv] WARN "+f, v...) }
func (badgerLogAdapter) Infof(f string, v ...interface{})    {}
func (badgerLogAdapter) Debugf(f string, v ...interface{})   {}

// HexPrefix concatenates parts into a single key prefix, for keys built
// from several CE-encoded fields. The chainstore stores build their keys
// themselves and do not call it.
func HexPrefix(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}
