/*
Package storage implements the persistent store each Raft node uses for
currentTerm, votedFor, the log, and state machine snapshots.

	dataDir/
	  <nodeId>/
	    term.json        {"data": "<base64 of {"term":N}>", "checksum": "...", "timestamp": "..."}
	    vote.json        {"data": "<base64 of {"votedFor":"node-2"}>", ...}
	    log/
	      00000000000000000001.json
	      00000000000000000002.json
	      ...
	    snapshot.json     {"data": "<base64 of {"lastAppliedIndex":N,"data":"<base64>","createdAt":"..."}>", ...}
	    snapshots.db      bbolt side-index of snapshot metadata

An envelope's data field holds the payload's JSON bytes, which
encoding/json writes out as a base64 string. Every write lands in a temp file in the same directory and is promoted
into place with os.Rename, so a crash mid-write can never leave a
reader looking at a half-written file: it sees either the old file or
the new one. Every file carries a SHA-256 checksum of its payload so a
read can detect silent corruption rather than trust a broken file.

FileStore is the production implementation. MemoryStore implements the
same Store contract without touching disk, for tests that want to
exercise Raft logic without filesystem overhead.
*/
package storage
