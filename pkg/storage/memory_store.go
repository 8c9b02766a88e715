package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgehq/forge/pkg/types"
)

// MemoryStore implements Store entirely in memory, with the same
// ordering and validation rules as FileStore but none of the durability.
// It exists for unit and integration tests that exercise Raft logic
// without touching the filesystem.
type MemoryStore struct {
	mu sync.RWMutex

	currentTerm uint64
	votedFor    *string
	log         []types.LogEntry

	snapshotIndex uint64
	snapshotData  []byte
	hasSnapshot   bool
	history       []SnapshotMeta
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadState implements Store.
func (m *MemoryStore) LoadState() (*types.PersistedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logCopy := make([]types.LogEntry, len(m.log))
	copy(logCopy, m.log)

	return &types.PersistedState{
		CurrentTerm: m.currentTerm,
		VotedFor:    m.votedFor,
		Log:         logCopy,
	}, nil
}

// SaveTerm implements Store.
func (m *MemoryStore) SaveTerm(term uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if term < m.currentTerm {
		return fmt.Errorf("storage: refusing to move term backward (%d -> %d)", m.currentTerm, term)
	}
	m.currentTerm = term
	m.votedFor = nil
	return nil
}

// SaveVotedFor implements Store.
func (m *MemoryStore) SaveVotedFor(votedFor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votedFor = votedFor
	return nil
}

// SaveLogEntry implements Store.
func (m *MemoryStore) SaveLogEntry(entry types.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := uint64(len(m.log))
	switch {
	case entry.Index == n+1:
		m.log = append(m.log, entry)
	case entry.Index >= 1 && entry.Index <= n:
		m.log[entry.Index-1] = entry
	default:
		return fmt.Errorf("storage: non-sequential log write at index %d (log has %d entries)", entry.Index, n)
	}
	return nil
}

// TruncateLogFrom implements Store.
func (m *MemoryStore) TruncateLogFrom(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 1 {
		return fmt.Errorf("storage: truncateLogFrom index must be >= 1, got %d", index)
	}
	n := uint64(len(m.log))
	if index > n {
		return nil
	}
	m.log = m.log[:index-1]
	return nil
}

// SaveSnapshot implements Store.
func (m *MemoryStore) SaveSnapshot(lastAppliedIndex uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := sha256.Sum256(data)
	cp := make([]byte, len(data))
	copy(cp, data)

	m.snapshotIndex = lastAppliedIndex
	m.snapshotData = cp
	m.hasSnapshot = true
	m.history = append(m.history, SnapshotMeta{
		LastAppliedIndex: lastAppliedIndex,
		Checksum:         hex.EncodeToString(sum[:]),
		CreatedAt:        time.Now(),
	})
	return nil
}

// LoadSnapshot implements Store.
func (m *MemoryStore) LoadSnapshot() (uint64, []byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasSnapshot {
		return 0, nil, false, nil
	}
	cp := make([]byte, len(m.snapshotData))
	copy(cp, m.snapshotData)
	return m.snapshotIndex, cp, true, nil
}

// ListSnapshots implements Store.
func (m *MemoryStore) ListSnapshots() ([]SnapshotMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metas := make([]SnapshotMeta, len(m.history))
	copy(metas, m.history)
	sort.Slice(metas, func(i, j int) bool { return metas[i].LastAppliedIndex > metas[j].LastAppliedIndex })
	return metas, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
