/*
Package log provides structured logging for Forge using zerolog.

The log package wraps zerolog to give every component (Raft node,
transport, store, state machine, cluster service) a JSON-structured child
logger tagged with its component name and, where relevant, node id and
Raft term.

# Usage

	import "github.com/forgehq/forge/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("raft").With().Str("node_id", nodeID).Logger()
	logger.Info().Uint64("term", term).Msg("became leader")

# Levels

Debug is for per-RPC tracing, Info for role transitions and commits, Warn
for retried transport failures, Error for storage/apply failures, Fatal for
configuration errors that block startup.
*/
package log
