package chainstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// SyncedHeightStore persists the authoritative high-water mark as a single
// human-readable integer in a plain file — the one store that is not an LSM
// column family, kept that way so an operator can `cat` it.
type SyncedHeightStore struct {
	mu   sync.RWMutex
	path string
}

// OpenSyncedHeightStore opens (creating the parent directory if absent) the
// synced-height marker file at dir/HEIGHT.
func OpenSyncedHeightStore(dir string) (*SyncedHeightStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chainstore: create synced_height dir: %w", err)
	}
	return &SyncedHeightStore{path: filepath.Join(dir, "HEIGHT")}, nil
}

// Get returns the persisted height, or ok=false if the marker has never
// been written (no block applied yet).
func (s *SyncedHeightStore) Get() (height uint32, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("chainstore: read synced height: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("chainstore: corrupt synced height file %q: %w", text, err)
	}
	return uint32(v), true, nil
}

// Put durably records h as the new synced height. The applier must not
// proceed past this call until it returns, since it is the commit point of
// per-block apply.
func (s *SyncedHeightStore) Put(h uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(h), 10)+"\n"), 0o644); err != nil {
		return fmt.Errorf("chainstore: write synced height: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("chainstore: commit synced height: %w", err)
	}
	return nil
}
