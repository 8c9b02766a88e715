// Package api implements the HTTP admin surface spec.md §6 calls "the
// external interface exposed to the HTTP collaborator": status,
// metrics, config, lifecycle (start/stop/restart), command submission,
// and health/readiness, all served over plain net/http against a
// pkg/cluster.Service.
//
// Routes:
//
//	GET  /health    liveness: 200 iff the process can answer at all
//	GET  /ready     readiness: 200 iff this node has a known leader
//	GET  /status           role, term, commit/applied index, peer count
//	GET  /config           the node's effective, already-validated configuration
//	GET  /metrics-summary  rolling command/election/latency/uptime counters, as JSON
//	POST /start            start the underlying cluster service
//	POST /stop             stop it
//	POST /restart          stop then rebuild and start it
//	POST /command          submit a types.Command for consensus
//	GET  /metrics          Prometheus scrape endpoint
//
// A non-leader's response to /command carries leaderId so the caller
// can redirect, per the ClientResponse envelope.
package api
