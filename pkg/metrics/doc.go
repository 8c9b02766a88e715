/*
Package metrics provides Prometheus metrics collection and exposition for
Forge's consensus engine.

Gauges and histograms track Raft role/term/log position, replication RPC
latency and failures, and persistent-store write latency, all registered
against the default Prometheus registry at init and exposed via Handler()
for scraping. HealthChecker (health.go) tracks per-component readiness
("raft", "storage", "transport") independently of the Prometheus series;
pkg/cluster registers those components as they come up and go down. Its
handlers are not mounted by pkg/api, whose /health and /ready endpoints
answer from cluster.Service.Status() instead.
*/
package metrics
