// Package cluster wires pkg/storage, pkg/statemachine, and pkg/raft
// together into one runnable node and exposes the lifecycle operations
// an admin surface or CLI needs: Start, Stop, Restart, ExecuteCommand,
// Status, and a background metrics collector.
package cluster
