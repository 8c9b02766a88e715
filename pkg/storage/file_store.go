package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/forgehq/forge/pkg/log"
	"github.com/forgehq/forge/pkg/metrics"
	"github.com/forgehq/forge/pkg/types"
)

var snapshotsBucket = []byte("snapshots")

// FileStore persists Raft state as one small JSON file per concern
// under <dataDir>/<nodeId>/:
//
//	term.json       currentTerm
//	vote.json       votedFor
//	log/<index>.json   one file per log entry
//	snapshot.json   the most recent state machine snapshot
//	snapshots.db    a bbolt side-index of snapshot metadata, which
//	                ListSnapshots reads without re-reading and
//	                re-hashing snapshot.json
//
// Every write goes to a temp file in the same directory followed by
// os.Rename, which is atomic on the same filesystem: a reader never
// observes a half-written file, and a crash mid-write leaves the old
// file (or nothing) rather than a corrupt one.
type FileStore struct {
	mu  sync.RWMutex
	dir string

	currentTerm uint64
	votedFor    *string
	log         []types.LogEntry

	snapIndex *bolt.DB
	logger    zerolog.Logger
}

// NewFileStore opens (creating if necessary) the on-disk store for
// nodeID under dataDir, and loads its cached in-memory view of
// currentTerm/votedFor/log from whatever is already on disk.
func NewFileStore(dataDir, nodeID string) (*FileStore, error) {
	dir := filepath.Join(dataDir, nodeID)
	if err := os.MkdirAll(filepath.Join(dir, "log"), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "snapshots.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open snapshot index: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init snapshot index: %w", err)
	}

	fs := &FileStore{dir: dir, snapIndex: db, logger: log.WithComponent("storage").With().Str("nodeId", nodeID).Logger()}

	state, err := fs.LoadState()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	fs.currentTerm = state.CurrentTerm
	fs.votedFor = state.VotedFor
	fs.log = state.Log

	return fs, nil
}

func (s *FileStore) termPath() string     { return filepath.Join(s.dir, "term.json") }
func (s *FileStore) votePath() string     { return filepath.Join(s.dir, "vote.json") }
func (s *FileStore) snapshotPath() string { return filepath.Join(s.dir, "snapshot.json") }
func (s *FileStore) logEntryPath(index uint64) string {
	return filepath.Join(s.dir, "log", fmt.Sprintf("%020d.json", index))
}

// writeEnvelope marshals v, wraps it with a checksum, and atomically
// replaces path.
func writeEnvelope(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", filepath.Base(path), err)
	}
	sum := sha256.Sum256(raw)
	env := envelope{Data: raw, Checksum: hex.EncodeToString(sum[:]), Timestamp: time.Now()}
	out, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("storage: marshal envelope for %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("storage: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: commit %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readEnvelope reads path, verifies its checksum, and unmarshals the
// payload into out. Returns ok=false (no error) if path doesn't exist.
func readEnvelope(path string, out interface{}) (bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: read %s: %w", filepath.Base(path), err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("storage: corrupt envelope in %s: %w", filepath.Base(path), err)
	}
	sum := sha256.Sum256(env.Data)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return false, fmt.Errorf("storage: checksum mismatch in %s, refusing to trust it", filepath.Base(path))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// LoadState implements Store.
func (s *FileStore) LoadState() (*types.PersistedState, error) {
	var term termRecord
	if _, err := readEnvelope(s.termPath(), &term); err != nil {
		return nil, err
	}

	var vote voteRecord
	if _, err := readEnvelope(s.votePath(), &vote); err != nil {
		return nil, err
	}

	entries, err := s.loadLogEntries()
	if err != nil {
		return nil, err
	}

	return &types.PersistedState{
		CurrentTerm: term.Term,
		VotedFor:    vote.VotedFor,
		Log:         entries,
	}, nil
}

func (s *FileStore) loadLogEntries() ([]types.LogEntry, error) {
	logDir := filepath.Join(s.dir, "log")
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, fmt.Errorf("storage: list log dir: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names) // zero-padded indices sort lexically in order

	entries := make([]types.LogEntry, 0, len(names))
	for _, name := range names {
		var e types.LogEntry
		ok, err := readEnvelope(filepath.Join(logDir, name), &e)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// SaveTerm implements Store.
func (s *FileStore) SaveTerm(term uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageWriteDuration, "save_term")

	if term < s.currentTerm {
		return fmt.Errorf("storage: refusing to move term backward (%d -> %d)", s.currentTerm, term)
	}
	if err := writeEnvelope(s.termPath(), termRecord{Term: term}); err != nil {
		return err
	}
	if err := writeEnvelope(s.votePath(), voteRecord{VotedFor: nil}); err != nil {
		return err
	}
	s.currentTerm = term
	s.votedFor = nil
	return nil
}

// SaveVotedFor implements Store.
func (s *FileStore) SaveVotedFor(votedFor *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageWriteDuration, "save_voted_for")

	if err := writeEnvelope(s.votePath(), voteRecord{VotedFor: votedFor}); err != nil {
		return err
	}
	s.votedFor = votedFor
	return nil
}

// SaveLogEntry implements Store.
func (s *FileStore) SaveLogEntry(entry types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageWriteDuration, "save_log_entry")

	n := uint64(len(s.log))
	switch {
	case entry.Index == n+1:
		if err := writeEnvelope(s.logEntryPath(entry.Index), entry); err != nil {
			return err
		}
		s.log = append(s.log, entry)
	case entry.Index >= 1 && entry.Index <= n:
		if err := writeEnvelope(s.logEntryPath(entry.Index), entry); err != nil {
			return err
		}
		s.log[entry.Index-1] = entry
	default:
		return fmt.Errorf("storage: non-sequential log write at index %d (log has %d entries)", entry.Index, n)
	}
	return nil
}

// TruncateLogFrom implements Store.
func (s *FileStore) TruncateLogFrom(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 1 {
		return fmt.Errorf("storage: truncateLogFrom index must be >= 1, got %d", index)
	}
	n := uint64(len(s.log))
	if index > n {
		return nil
	}
	for i := index; i <= n; i++ {
		if err := os.Remove(s.logEntryPath(i)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage: truncate log entry %d: %w", i, err)
		}
	}
	s.log = s.log[:index-1]
	return nil
}

// SaveSnapshot implements Store.
func (s *FileStore) SaveSnapshot(lastAppliedIndex uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageWriteDuration, "save_snapshot")

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	createdAt := time.Now()

	rec := snapshotRecord{LastAppliedIndex: lastAppliedIndex, Data: data, CreatedAt: createdAt}
	if err := writeEnvelope(s.snapshotPath(), rec); err != nil {
		return err
	}

	meta := SnapshotMeta{LastAppliedIndex: lastAppliedIndex, Checksum: checksum, CreatedAt: createdAt}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot meta: %w", err)
	}
	return s.snapIndex.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		return b.Put(snapshotKey(lastAppliedIndex), metaRaw)
	})
}

// LoadSnapshot implements Store.
func (s *FileStore) LoadSnapshot() (uint64, []byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec snapshotRecord
	ok, err := readEnvelope(s.snapshotPath(), &rec)
	if err != nil || !ok {
		return 0, nil, false, err
	}
	return rec.LastAppliedIndex, rec.Data, true, nil
}

// ListSnapshots implements Store.
func (s *FileStore) ListSnapshots() ([]SnapshotMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var metas []SnapshotMeta
	err := s.snapIndex.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		return b.ForEach(func(_, v []byte) error {
			var m SnapshotMeta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			metas = append(metas, m)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].LastAppliedIndex > metas[j].LastAppliedIndex })
	return metas, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.logger.Debug().Msg("closing file store")
	return s.snapIndex.Close()
}

func snapshotKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%020d", index))
}
