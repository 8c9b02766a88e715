// Package raft implements the consensus protocol: leader election,
// log replication, and commit/apply bookkeeping, over pkg/transport's
// WebSocket RPCs and against pkg/storage for durability and
// pkg/statemachine for command application.
package raft

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgehq/forge/pkg/events"
	"github.com/forgehq/forge/pkg/log"
	"github.com/forgehq/forge/pkg/metrics"
	"github.com/forgehq/forge/pkg/statemachine"
	"github.com/forgehq/forge/pkg/storage"
	"github.com/forgehq/forge/pkg/transport"
	"github.com/forgehq/forge/pkg/types"
)

// commitWaiter is woken up once the log entry it's waiting on has
// been applied (or the node steps down before that happens).
type commitWaiter struct {
	result chan applyOutcome
}

type applyOutcome struct {
	result *types.CommandResult
	err    error
}

// Node is one member of a Raft cluster.
type Node struct {
	cfg Config

	store storage.Store
	sm    *statemachine.GitStateMachine
	events *events.Broker

	transportServer *transport.Server
	clients         map[string]*transport.Client

	logger zerolog.Logger

	mu          sync.Mutex
	role        types.Role
	currentTerm uint64
	votedFor    *string
	raftLog     []types.LogEntry // 1-indexed: raftLog[i-1] has Index i

	commitIndex uint64
	lastApplied uint64

	leaderID string

	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	electionTimer   *time.Timer
	heartbeatTicker *time.Ticker

	commitWaiters map[uint64][]commitWaiter

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Node, loading whatever term/votedFor/log this node
// previously persisted. It does not start any network activity; call
// Start for that.
func New(cfg Config, store storage.Store, sm *statemachine.GitStateMachine, broker *events.Broker) (*Node, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	state, err := store.LoadState()
	if err != nil {
		return nil, fmt.Errorf("raft: load persisted state: %w", err)
	}

	n := &Node{
		cfg:           cfg,
		store:         store,
		sm:            sm,
		events:        broker,
		clients:       make(map[string]*transport.Client),
		logger:        log.WithNodeID(cfg.NodeID),
		role:          types.RoleFollower,
		currentTerm:   state.CurrentTerm,
		votedFor:      state.VotedFor,
		raftLog:       state.Log,
		nextIndex:     make(map[string]uint64),
		matchIndex:    make(map[string]uint64),
		commitWaiters: make(map[uint64][]commitWaiter),
		stopCh:        make(chan struct{}),
	}

	if idx, data, ok, err := store.LoadSnapshot(); err != nil {
		return nil, fmt.Errorf("raft: load snapshot: %w", err)
	} else if ok {
		if err := sm.RestoreFromSnapshot(data); err != nil {
			return nil, fmt.Errorf("raft: restore snapshot: %w", err)
		}
		n.lastApplied = idx
		n.commitIndex = idx
	}

	for id, addr := range cfg.Peers {
		n.clients[id] = transport.NewClient(addr, cfg.RPCTimeout)
	}

	metrics.RaftPeers.Set(float64(len(cfg.Peers)))
	return n, nil
}

// Start begins listening for RPCs and the election timer.
func (n *Node) Start() error {
	n.transportServer = transport.NewServer(n.cfg.BindAddr, n)
	if err := n.transportServer.Start(); err != nil {
		return err
	}

	n.mu.Lock()
	n.resetElectionTimerLocked()
	n.mu.Unlock()

	n.wg.Add(1)
	go n.applyLoop()

	n.logger.Info().Str("bindAddr", n.cfg.BindAddr).Msg("raft node started")
	return nil
}

// Stop halts timers, closes peer connections, and stops the transport server.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() { close(n.stopCh) })

	n.mu.Lock()
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
	}
	n.mu.Unlock()

	n.wg.Wait()

	for _, c := range n.clients {
		_ = c.Close()
	}

	if n.transportServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return n.transportServer.Stop(ctx)
	}
	return nil
}

// IsLeader reports whether this node currently believes itself leader.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == types.RoleLeader
}

// LeaderID returns the ID of the node this node currently believes is
// leader (empty if none is known).
func (n *Node) LeaderID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID
}

// Role returns the node's current role.
func (n *Node) Role() types.Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Term returns the node's current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// CommitIndex returns the highest log index known committed.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

func (n *Node) lastLogIndexLocked() uint64 {
	return uint64(len(n.raftLog))
}

func (n *Node) lastLogTermLocked() uint64 {
	if len(n.raftLog) == 0 {
		return 0
	}
	return n.raftLog[len(n.raftLog)-1].Term
}

func (n *Node) termAtLocked(index uint64) uint64 {
	if index == 0 || index > uint64(len(n.raftLog)) {
		return 0
	}
	return n.raftLog[index-1].Term
}

func (n *Node) entryAtLocked(index uint64) (types.LogEntry, bool) {
	if index == 0 || index > uint64(len(n.raftLog)) {
		return types.LogEntry{}, false
	}
	return n.raftLog[index-1], true
}

func (n *Node) publish(eventType events.EventType, message string, metadata map[string]string) {
	if n.events == nil {
		return
	}
	n.events.Publish(&events.Event{Type: eventType, Message: message, Metadata: metadata})
}

// becomeFollowerLocked transitions to follower in the given term,
// resetting votedFor. Caller holds n.mu.
func (n *Node) becomeFollowerLocked(term uint64) {
	changed := n.role != types.RoleFollower
	n.role = types.RoleFollower
	if term > n.currentTerm {
		if err := n.store.SaveTerm(term); err != nil {
			n.logger.Error().Err(err).Msg("failed to persist term on step-down")
		}
		n.currentTerm = term
		n.votedFor = nil
		metrics.RaftTerm.Set(float64(term))
	}
	n.stopHeartbeatLocked()
	n.resetElectionTimerLocked()

	if changed {
		metrics.RaftRole.Reset()
		metrics.RaftRole.WithLabelValues("follower").Set(1)
		metrics.RaftIsLeader.Set(0)
		n.publish(events.EventStateChanged, "became follower", map[string]string{"term": fmt.Sprint(term)})
	}
}

func (n *Node) stopHeartbeatLocked() {
	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
		n.heartbeatTicker = nil
	}
}

func (n *Node) resetElectionTimerLocked() {
	timeout := n.cfg.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(n.cfg.ElectionTimeoutMax-n.cfg.ElectionTimeoutMin)))
	if n.electionTimer == nil {
		n.electionTimer = time.AfterFunc(timeout, n.onElectionTimeout)
		return
	}
	n.electionTimer.Reset(timeout)
}

func (n *Node) onElectionTimeout() {
	select {
	case <-n.stopCh:
		return
	default:
	}

	n.mu.Lock()
	if n.role == types.RoleLeader {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	n.startElection()
}

func (n *Node) applyLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.applyCommitted()
		}
	}
}

func (n *Node) applyCommitted() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		next := n.lastApplied + 1
		entry, ok := n.entryAtLocked(next)
		n.mu.Unlock()
		if !ok {
			return
		}

		result, err := n.sm.Apply(entry)

		n.mu.Lock()
		n.lastApplied = next
		waiters := n.commitWaiters[next]
		delete(n.commitWaiters, next)
		n.mu.Unlock()

		metrics.RaftAppliedIndex.Set(float64(next))
		n.publish(events.EventLogCommitted, "log entry applied", map[string]string{"index": fmt.Sprint(next)})
		if err != nil {
			n.publish(events.EventError, err.Error(), map[string]string{"index": fmt.Sprint(next)})
		}

		for _, w := range waiters {
			w.result <- applyOutcome{result: result, err: err}
		}
	}
}
