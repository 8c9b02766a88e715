package storage

import (
	"time"

	"github.com/forgehq/forge/pkg/types"
)

// Store is the crash-consistent home for everything a Raft node must
// survive a restart with: currentTerm, votedFor, the log, and the most
// recent state machine snapshot. Every mutating method must durably
// persist before returning, since the node relies on that ordering to
// decide when it may reply to RequestVote/AppendEntries RPCs.
type Store interface {
	// LoadState reads currentTerm, votedFor and the full log back from
	// disk. Called once at startup.
	LoadState() (*types.PersistedState, error)

	// SaveTerm durably replaces currentTerm. Per the Raft rule that a
	// node's vote is only valid for the term it was cast in, advancing
	// the term also resets votedFor to none.
	SaveTerm(term uint64) error

	// SaveVotedFor durably records (or clears, with nil) the candidate
	// this node voted for in the current term.
	SaveVotedFor(votedFor *string) error

	// SaveLogEntry durably appends entry, or overwrites the entry
	// already at that index (the replication conflict-resolution
	// case). Entry.Index must be the next index in the log or an
	// existing one; gaps are rejected.
	SaveLogEntry(entry types.LogEntry) error

	// TruncateLogFrom durably discards every entry at or after index.
	// A no-op if index is past the end of the log.
	TruncateLogFrom(index uint64) error

	// SaveSnapshot durably persists a state machine snapshot along
	// with the index of the last log entry it reflects.
	SaveSnapshot(lastAppliedIndex uint64, data []byte) error

	// LoadSnapshot returns the most recently saved snapshot, if any.
	LoadSnapshot() (lastAppliedIndex uint64, data []byte, ok bool, err error)

	// ListSnapshots returns metadata for every snapshot this store has
	// ever recorded, most recent first. cluster.Status does not include
	// this history.
	ListSnapshots() ([]SnapshotMeta, error)

	// Close releases any resources (file handles, side-index DBs) held
	// by the store.
	Close() error
}

// SnapshotMeta describes a previously saved snapshot without its
// payload, for status/observability surfaces.
type SnapshotMeta struct {
	LastAppliedIndex uint64    `json:"lastAppliedIndex"`
	Checksum         string    `json:"checksum"`
	CreatedAt        time.Time `json:"createdAt"`
}

// envelope is the on-disk wrapper every file this package writes uses:
// a checksum over the raw payload lets readEnvelope detect truncated
// or corrupted writes left behind by a crash mid-write.
type envelope struct {
	Data      []byte    `json:"data"`
	Checksum  string    `json:"checksum"`
	Timestamp time.Time `json:"timestamp"`
}

type termRecord struct {
	Term uint64 `json:"term"`
}

type voteRecord struct {
	VotedFor *string `json:"votedFor"`
}

type snapshotRecord struct {
	LastAppliedIndex uint64    `json:"lastAppliedIndex"`
	Data             []byte    `json:"data"`
	CreatedAt        time.Time `json:"createdAt"`
}
