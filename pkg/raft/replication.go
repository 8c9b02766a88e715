package raft

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/pkg/metrics"
	"github.com/forgehq/forge/pkg/types"
)

// HandleAppendEntries implements transport.Handler. It is also used
// for leader heartbeats (Entries empty).
func (n *Node) HandleAppendEntries(req *types.AppendEntriesRequest) *types.AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.currentTerm {
		return &types.AppendEntriesResponse{RequestID: req.RequestID, Term: n.currentTerm, Success: false}
	}
	if req.Term > n.currentTerm || n.role != types.RoleFollower {
		n.becomeFollowerLocked(req.Term)
	} else {
		n.resetElectionTimerLocked()
	}

	n.leaderID = req.LeaderID

	// Log consistency check.
	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex > n.lastLogIndexLocked() {
			return &types.AppendEntriesResponse{
				RequestID: req.RequestID, Term: n.currentTerm, Success: false,
				ConflictIndex: n.lastLogIndexLocked() + 1, ConflictTerm: 0,
			}
		}
		if termAtPrev := n.termAtLocked(req.PrevLogIndex); termAtPrev != req.PrevLogTerm {
			conflictTerm := termAtPrev
			conflictIndex := req.PrevLogIndex
			for conflictIndex > 1 && n.termAtLocked(conflictIndex-1) == conflictTerm {
				conflictIndex--
			}
			return &types.AppendEntriesResponse{
				RequestID: req.RequestID, Term: n.currentTerm, Success: false,
				ConflictIndex: conflictIndex, ConflictTerm: conflictTerm,
			}
		}
	}

	// Append new entries, truncating on conflict.
	for i, entry := range req.Entries {
		index := req.PrevLogIndex + uint64(i) + 1
		if existing, ok := n.entryAtLocked(index); ok {
			if existing.Term == entry.Term {
				continue
			}
			if err := n.store.TruncateLogFrom(index); err != nil {
				n.logger.Error().Err(err).Msg("failed to truncate conflicting log suffix")
			}
			n.raftLog = n.raftLog[:index-1]
		}
		if err := n.store.SaveLogEntry(entry); err != nil {
			n.logger.Error().Err(err).Msg("failed to persist replicated log entry")
			return &types.AppendEntriesResponse{RequestID: req.RequestID, Term: n.currentTerm, Success: false}
		}
		n.raftLog = append(n.raftLog, entry)
	}
	metrics.RaftLogIndex.Set(float64(n.lastLogIndexLocked()))

	if req.LeaderCommit > n.commitIndex {
		newCommit := req.LeaderCommit
		if last := n.lastLogIndexLocked(); newCommit > last {
			newCommit = last
		}
		n.commitIndex = newCommit
		metrics.RaftCommitIndex.Set(float64(n.commitIndex))
	}

	return &types.AppendEntriesResponse{RequestID: req.RequestID, Term: n.currentTerm, Success: true}
}

// startHeartbeats launches the leader's periodic AppendEntries loop.
// Caller must not hold n.mu.
func (n *Node) startHeartbeats() {
	n.mu.Lock()
	n.stopHeartbeatLocked()
	n.heartbeatTicker = time.NewTicker(n.cfg.HeartbeatInterval)
	ticker := n.heartbeatTicker
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.replicateToAllPeers()
		for {
			select {
			case <-n.stopCh:
				return
			case _, ok := <-ticker.C:
				if !ok {
					return
				}
				n.mu.Lock()
				stillLeader := n.role == types.RoleLeader
				n.mu.Unlock()
				if !stillLeader {
					return
				}
				n.replicateToAllPeers()
			}
		}
	}()
}

func (n *Node) replicateToAllPeers() {
	n.mu.Lock()
	if n.role != types.RoleLeader {
		n.mu.Unlock()
		return
	}
	peers := make([]string, 0, len(n.clients))
	for id := range n.clients {
		peers = append(peers, id)
	}
	n.mu.Unlock()

	for _, id := range peers {
		go n.replicateToPeer(id)
	}
}

func (n *Node) replicateToPeer(peerID string) {
	n.mu.Lock()
	if n.role != types.RoleLeader {
		n.mu.Unlock()
		return
	}
	client := n.clients[peerID]
	next := n.nextIndex[peerID]
	if next == 0 {
		next = 1
	}
	prevIndex := next - 1
	prevTerm := n.termAtLocked(prevIndex)

	var entries []types.LogEntry
	if next <= n.lastLogIndexLocked() {
		entries = append(entries, n.raftLog[next-1:]...)
	}

	req := &types.AppendEntriesRequest{
		RequestID:    uuid.New().String(),
		Term:         n.currentTerm,
		LeaderID:     n.cfg.NodeID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	term := n.currentTerm
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	resp, err := client.SendAppendEntries(ctx, req)
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.currentTerm {
		n.becomeFollowerLocked(resp.Term)
		return
	}
	if n.role != types.RoleLeader || term != n.currentTerm {
		return
	}

	if resp.Success {
		n.matchIndex[peerID] = prevIndex + uint64(len(entries))
		n.nextIndex[peerID] = n.matchIndex[peerID] + 1
		n.advanceCommitIndexLocked()
		return
	}

	// Replication conflict: back nextIndex up using the follower's
	// reported conflict hint rather than one entry at a time.
	if resp.ConflictTerm != 0 {
		idx := n.lastLogIndexLocked()
		found := uint64(0)
		for idx > 0 && n.termAtLocked(idx) >= resp.ConflictTerm {
			if n.termAtLocked(idx) == resp.ConflictTerm {
				found = idx
				break
			}
			idx--
		}
		if found > 0 {
			n.nextIndex[peerID] = found + 1
		} else {
			n.nextIndex[peerID] = resp.ConflictIndex
		}
	} else if resp.ConflictIndex > 0 {
		n.nextIndex[peerID] = resp.ConflictIndex
	} else if n.nextIndex[peerID] > 1 {
		n.nextIndex[peerID]--
	}
}

// advanceCommitIndexLocked applies the Raft safety rule: a leader may
// only advance commitIndex to N if a majority of matchIndex values are
// >= N AND the entry at N was appended during the leader's own term.
func (n *Node) advanceCommitIndexLocked() {
	matches := make([]uint64, 0, len(n.matchIndex)+1)
	matches = append(matches, n.lastLogIndexLocked()) // the leader itself
	for _, m := range n.matchIndex {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	majorityIdx := len(matches) / 2
	candidate := matches[majorityIdx]

	if candidate > n.commitIndex && n.termAtLocked(candidate) == n.currentTerm {
		n.commitIndex = candidate
		metrics.RaftCommitIndex.Set(float64(candidate))
	}
}

// Submit appends cmd to the log as leader and blocks until it is
// committed and applied, or CommitTimeout elapses. Returns an error
// immediately if this node is not the leader.
func (n *Node) Submit(ctx context.Context, cmd types.Command) (*types.CommandResult, error) {
	n.mu.Lock()
	if n.role != types.RoleLeader {
		leader := n.leaderID
		n.mu.Unlock()
		metrics.RaftCommandsTotal.WithLabelValues("not_leader").Inc()
		return nil, &NotLeaderError{LeaderID: leader}
	}

	entry := types.LogEntry{
		Index:     n.lastLogIndexLocked() + 1,
		Term:      n.currentTerm,
		Command:   cmd,
		Timestamp: time.Now(),
	}
	if err := n.store.SaveLogEntry(entry); err != nil {
		n.mu.Unlock()
		metrics.RaftCommandsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("raft: persist log entry: %w", err)
	}
	n.raftLog = append(n.raftLog, entry)
	metrics.RaftLogIndex.Set(float64(n.lastLogIndexLocked()))

	waitCh := make(chan applyOutcome, 1)
	n.commitWaiters[entry.Index] = append(n.commitWaiters[entry.Index], commitWaiter{result: waitCh})
	// Without peers the leader's own copy is already a majority.
	n.advanceCommitIndexLocked()
	n.mu.Unlock()

	timer := metrics.NewTimer()
	go n.replicateToAllPeers()

	timeoutCtx, cancel := context.WithTimeout(ctx, n.cfg.CommitTimeout)
	defer cancel()

	select {
	case outcome := <-waitCh:
		timer.ObserveDuration(metrics.RaftCommitDuration)
		if outcome.err != nil {
			metrics.RaftCommandsTotal.WithLabelValues("apply_error").Inc()
		} else {
			metrics.RaftCommandsTotal.WithLabelValues("committed").Inc()
		}
		return outcome.result, outcome.err
	case <-timeoutCtx.Done():
		metrics.RaftCommandsTotal.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("raft: command at index %d did not commit within %s", entry.Index, n.cfg.CommitTimeout)
	}
}

// NotLeaderError is returned by Submit when this node isn't leader.
// LeaderID is the best known leader, or empty if none is known.
type NotLeaderError struct {
	LeaderID string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == "" {
		return "raft: not leader, and no leader is currently known"
	}
	return fmt.Sprintf("raft: not leader, current leader is %s", e.LeaderID)
}
