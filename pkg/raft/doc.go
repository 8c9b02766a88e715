// Package raft implements leader election and log replication.
//
// A Node is a follower, candidate, or leader at any moment. Followers
// wait for either a valid AppendEntries from the current leader or an
// election timeout; on timeout they become candidates, increment the
// term, vote for themselves, and solicit votes over pkg/transport. A
// candidate that gathers a majority becomes leader and begins sending
// periodic AppendEntries (heartbeats, or log replication when entries
// are pending) to every peer.
//
// Submit is the entry point for client writes: it appends a command to
// the leader's log, replicates it, and blocks until a majority of the
// cluster has persisted it and advanceCommitIndexLocked has folded it
// into commitIndex. A background apply loop then hands every newly
// committed entry to pkg/statemachine in order and wakes whichever
// Submit call is waiting on it.
//
// All durable state (current term, vote, and log entries) goes through
// pkg/storage before a node acts on it, so a restarted node resumes
// with exactly the guarantees it had before crashing. A snapshot found
// in the store is restored when the node is constructed; the node does
// not take snapshots itself.
package raft
