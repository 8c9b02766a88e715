package cluster

import (
	"fmt"
	"time"
)

// Config holds everything needed to construct a Service. It mirrors
// the node-identity/bind-address/data-directory shape of a manager
// config, extended with the Raft timing knobs pkg/raft needs.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// Peers maps every other node's ID to the ws:// URL of its
	// transport server.
	Peers map[string]string

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	RPCTimeout         time.Duration
	CommitTimeout      time.Duration
}

// Validate checks the config is well-formed before a Service is built
// from it. Raft-specific defaults/validation are applied separately by
// raft.Config when the node is constructed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("cluster: nodeId is required")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("cluster: bindAddr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("cluster: dataDir is required")
	}
	return nil
}
