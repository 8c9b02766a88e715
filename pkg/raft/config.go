package raft

import (
	"fmt"
	"time"
)

// Config configures a single Raft node.
type Config struct {
	// NodeID uniquely identifies this node within the cluster.
	NodeID string
	// BindAddr is the host:port the transport server listens on.
	BindAddr string
	// Peers maps every other node's ID to the ws:// URL of its
	// transport server (e.g. "ws://10.0.0.2:8300/raft").
	Peers map[string]string

	// ElectionTimeoutMin/Max bound the randomized timer a follower
	// waits without hearing from a leader before starting an election.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	// HeartbeatInterval is how often a leader sends AppendEntries to
	// keep followers from timing out.
	HeartbeatInterval time.Duration
	// RPCTimeout bounds a single RequestVote/AppendEntries round trip.
	RPCTimeout time.Duration
	// CommitTimeout bounds how long Submit waits for an entry it
	// appended to be committed before giving up.
	CommitTimeout time.Duration
}

// setDefaults fills in zero-valued fields with the package's defaults.
func (c *Config) setDefaults() {
	if c.ElectionTimeoutMin == 0 {
		c.ElectionTimeoutMin = 150 * time.Millisecond
	}
	if c.ElectionTimeoutMax == 0 {
		c.ElectionTimeoutMax = 300 * time.Millisecond
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 50 * time.Millisecond
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = 200 * time.Millisecond
	}
	if c.CommitTimeout == 0 {
		c.CommitTimeout = 2 * time.Second
	}
}

// Validate checks the config is internally consistent.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("raft: nodeId is required")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("raft: bindAddr is required")
	}
	if c.ElectionTimeoutMin >= c.ElectionTimeoutMax {
		return fmt.Errorf("raft: electionTimeoutMin (%s) must be less than electionTimeoutMax (%s)", c.ElectionTimeoutMin, c.ElectionTimeoutMax)
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("raft: heartbeatInterval (%s) must be less than electionTimeoutMin (%s), or followers will spuriously call elections", c.HeartbeatInterval, c.ElectionTimeoutMin)
	}
	for id, addr := range c.Peers {
		if id == c.NodeID {
			return fmt.Errorf("raft: peers must not include this node's own id %q", id)
		}
		if addr == "" {
			return fmt.Errorf("raft: peer %q has an empty address", id)
		}
	}
	return nil
}
