/*
Package types defines the shared data structures used throughout Forge's
consensus engine.

It has no dependencies on the rest of the module: the Raft log entry and
command union, the inter-node RPC wire types, and the Git-oriented domain
model (projects, repositories, branches, commits, files) all live here so
that pkg/storage, pkg/statemachine, pkg/transport, pkg/raft and pkg/cluster
can share one vocabulary without import cycles.

# Core Types

Raft:
  - LogEntry: a durable (index, term, command, timestamp) record
  - Command: a tagged union over the nine command variants
  - PersistedState: currentTerm, votedFor, log as loaded/saved by pkg/storage
  - RequestVoteRequest/Response, AppendEntriesRequest/Response: wire types

Domain:
  - Project, Repository, Branch, Commit, File: the state machine's state
  - StateSummary: observability counts returned by GetState
*/
package types
