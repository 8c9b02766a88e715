/*
Package transport carries RequestVote and AppendEntries RPCs between
Raft nodes over persistent WebSocket connections. Each node's Client
dials each peer, so a pair of nodes shares two connections, one per
direction.

Every message is a JSON envelope: {"kind": "...", "payload": {...}}.
Kind selects which of the four request/response types payload decodes
into. Requests and responses are correlated by the requestId field
already present on each wire type (pkg/types), so a connection can have
several RPCs in flight at once without a separate multiplexing layer.

Server accepts inbound connections from peers and dispatches decoded
requests to a Handler. Client dials a peer on demand, keeps the
connection open across calls, and reconnects lazily the next time a
call is made after a failure.
*/
package transport
