// Package cluster assembles pkg/storage, pkg/statemachine, and
// pkg/raft into a single runnable node and exposes the operations an
// admin surface or CLI drives: start, stop, restart, submit a command,
// and read back status/metrics. It mirrors the constructor and
// lifecycle-method shape of a manager, adapted to wrap a Raft node
// instead of owning Raft directly.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgehq/forge/pkg/events"
	"github.com/forgehq/forge/pkg/log"
	"github.com/forgehq/forge/pkg/metrics"
	"github.com/forgehq/forge/pkg/raft"
	"github.com/forgehq/forge/pkg/statemachine"
	"github.com/forgehq/forge/pkg/storage"
	"github.com/forgehq/forge/pkg/types"
)

// Service owns one node's full runtime: its durable store, its state
// machine, its Raft node, and the event broker wiring them together.
type Service struct {
	cfg Config

	mu        sync.Mutex
	store     *storage.FileStore
	sm        *statemachine.GitStateMachine
	broker    *events.Broker
	node      *raft.Node
	collector *Collector
	startedAt time.Time
	running   bool

	logger zerolog.Logger
}

// NewService builds a Service and its node, loading any state
// previously persisted in cfg.DataDir. It does not start networking;
// call Start for that.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		logger: log.WithComponent("cluster").With().Str("nodeId", cfg.NodeID).Logger(),
	}
	if err := s.buildNode(); err != nil {
		return nil, err
	}
	return s, nil
}

// buildNode (re)creates the store, state machine, broker, and Raft
// node. Called once by NewService and again by Restart.
func (s *Service) buildNode() error {
	store, err := storage.NewFileStore(s.cfg.DataDir, s.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("cluster: open store: %w", err)
	}

	sm := statemachine.New()
	broker := events.NewBroker()

	node, err := raft.New(raft.Config{
		NodeID:             s.cfg.NodeID,
		BindAddr:           s.cfg.BindAddr,
		Peers:              s.cfg.Peers,
		ElectionTimeoutMin: s.cfg.ElectionTimeoutMin,
		ElectionTimeoutMax: s.cfg.ElectionTimeoutMax,
		HeartbeatInterval:  s.cfg.HeartbeatInterval,
		RPCTimeout:         s.cfg.RPCTimeout,
		CommitTimeout:      s.cfg.CommitTimeout,
	}, store, sm, broker)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("cluster: build raft node: %w", err)
	}

	s.store = store
	s.sm = sm
	s.broker = broker
	s.node = node
	s.collector = NewCollector(s)
	metrics.RegisterComponent("storage", true, "open")
	return nil
}

// Start brings the service's networking, election timer, and metrics
// collector online.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("cluster: already running")
	}

	s.broker.Start()
	if err := s.node.Start(); err != nil {
		s.broker.Stop()
		metrics.RegisterComponent("raft", false, err.Error())
		metrics.RegisterComponent("transport", false, err.Error())
		return fmt.Errorf("cluster: start raft node: %w", err)
	}
	s.collector.Start()
	s.startedAt = time.Now()
	s.running = true

	metrics.RegisterComponent("raft", true, "running")
	metrics.RegisterComponent("transport", true, "listening")

	s.logger.Info().Msg("cluster service started")
	return nil
}

// Stop halts the metrics collector, the Raft node, and the event
// broker, leaving the durable store open so Status/ExecuteCommand
// against a stopped service still fail clearly rather than panic.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("cluster: not running")
	}

	s.collector.Stop()
	err := s.node.Stop()
	s.broker.Stop()
	s.running = false

	metrics.RegisterComponent("raft", false, "stopped")
	metrics.RegisterComponent("transport", false, "stopped")

	s.logger.Info().Msg("cluster service stopped")
	return err
}

// Restart stops the service (if running) and rebuilds its node from
// scratch, since a Raft Node's stop channel cannot be reopened.
func (s *Service) Restart() error {
	s.mu.Lock()
	if s.running {
		s.collector.Stop()
		_ = s.node.Stop()
		s.broker.Stop()
		s.running = false
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing store during restart")
	}
	s.mu.Unlock()

	if err := s.buildNode(); err != nil {
		return fmt.Errorf("cluster: rebuild node for restart: %w", err)
	}
	return s.Start()
}

// ExecuteCommand submits cmd to the Raft log via the underlying node
// and waits for it to commit and apply.
func (s *Service) ExecuteCommand(ctx context.Context, cmd types.Command) (*types.CommandResult, error) {
	s.mu.Lock()
	node := s.node
	running := s.running
	s.mu.Unlock()

	if !running {
		return nil, fmt.Errorf("cluster: service is not running")
	}
	return node.Submit(ctx, cmd)
}

// Status describes this node's current role and replication position.
type Status struct {
	NodeID      string    `json:"nodeId"`
	Role        string    `json:"role"`
	Term        uint64    `json:"term"`
	LeaderID    string    `json:"leaderId"`
	CommitIndex uint64    `json:"commitIndex"`
	LastApplied uint64    `json:"lastApplied"`
	PeerCount   int       `json:"peerCount"`
	Running     bool      `json:"running"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// Status reports a snapshot of this node's state.
func (s *Service) Status() Status {
	s.mu.Lock()
	node, sm, running, startedAt := s.node, s.sm, s.running, s.startedAt
	peerCount := len(s.cfg.Peers)
	s.mu.Unlock()

	return Status{
		NodeID:      s.cfg.NodeID,
		Role:        string(node.Role()),
		Term:        node.Term(),
		LeaderID:    node.LeaderID(),
		CommitIndex: node.CommitIndex(),
		LastApplied: sm.LastAppliedIndex(),
		PeerCount:   peerCount,
		Running:     running,
		StartedAt:   startedAt,
	}
}

// Metrics is the rolling counters spec.md calls for alongside Status:
// total commands submitted, leader elections won, average commit
// latency, and uptime.
type Metrics struct {
	TotalCommands         uint64  `json:"totalCommands"`
	LeaderElections       uint64  `json:"leaderElections"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
	UptimeSeconds         float64 `json:"uptimeSeconds"`
}

// Metrics reports this node's rolling command/election/latency/uptime
// counters.
func (s *Service) Metrics() Metrics {
	avg := metrics.AverageCommitDuration()
	return Metrics{
		TotalCommands:         metrics.CommandsTotal(),
		LeaderElections:       metrics.ElectionsTotal(),
		AverageResponseTimeMs: float64(avg.Microseconds()) / 1000,
		UptimeSeconds:         s.Uptime().Seconds(),
	}
}

// Config returns the configuration this service was built from.
func (s *Service) Config() Config {
	return s.cfg
}

// IsLeader reports whether this node is currently the Raft leader.
func (s *Service) IsLeader() bool {
	s.mu.Lock()
	node := s.node
	s.mu.Unlock()
	return node.IsLeader()
}

// State exposes a read-only view onto the underlying state machine,
// for admin surfaces that need to list projects/repositories directly
// rather than through a command.
func (s *Service) State() *statemachine.GitStateMachine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm
}

// Uptime returns how long the service has been running since its most
// recent Start, or zero if it is not currently running.
func (s *Service) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
