package raft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/forgehq/forge/pkg/events"
	"github.com/forgehq/forge/pkg/metrics"
	"github.com/forgehq/forge/pkg/transport"
	"github.com/forgehq/forge/pkg/types"
)

// HandleRequestVote implements transport.Handler. It grants a vote
// when the candidate's term is current or newer, this node hasn't
// already voted for someone else this term, and the candidate's log
// is at least as up to date as this node's.
func (n *Node) HandleRequestVote(req *types.RequestVoteRequest) *types.RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.currentTerm {
		return &types.RequestVoteResponse{RequestID: req.RequestID, Term: n.currentTerm, VoteGranted: false}
	}
	if req.Term > n.currentTerm {
		n.becomeFollowerLocked(req.Term)
	}

	alreadyVoted := n.votedFor != nil && *n.votedFor != req.CandidateID
	candidateUpToDate := req.LastLogTerm > n.lastLogTermLocked() ||
		(req.LastLogTerm == n.lastLogTermLocked() && req.LastLogIndex >= n.lastLogIndexLocked())

	if alreadyVoted || !candidateUpToDate {
		return &types.RequestVoteResponse{RequestID: req.RequestID, Term: n.currentTerm, VoteGranted: false}
	}

	candidateID := req.CandidateID
	if err := n.store.SaveVotedFor(&candidateID); err != nil {
		n.logger.Error().Err(err).Msg("failed to persist vote")
		return &types.RequestVoteResponse{RequestID: req.RequestID, Term: n.currentTerm, VoteGranted: false}
	}
	n.votedFor = &candidateID
	n.resetElectionTimerLocked()

	return &types.RequestVoteResponse{RequestID: req.RequestID, Term: n.currentTerm, VoteGranted: true}
}

// startElection increments the term, votes for itself, and solicits
// votes from every peer in parallel.
func (n *Node) startElection() {
	n.mu.Lock()
	newTerm := n.currentTerm + 1
	if err := n.store.SaveTerm(newTerm); err != nil {
		n.logger.Error().Err(err).Msg("failed to persist term for election")
		n.mu.Unlock()
		return
	}
	n.currentTerm = newTerm
	n.role = types.RoleCandidate
	self := n.cfg.NodeID
	if err := n.store.SaveVotedFor(&self); err != nil {
		n.logger.Error().Err(err).Msg("failed to persist self-vote")
	}
	n.votedFor = &self
	n.resetElectionTimerLocked()
	metrics.RaftTerm.Set(float64(newTerm))

	req := &types.RequestVoteRequest{
		RequestID:    uuid.New().String(),
		Term:         newTerm,
		CandidateID:  n.cfg.NodeID,
		LastLogIndex: n.lastLogIndexLocked(),
		LastLogTerm:  n.lastLogTermLocked(),
	}
	clients := make(map[string]*transport.Client, len(n.clients))
	for id, c := range n.clients {
		clients[id] = c
	}
	n.mu.Unlock()

	metrics.RaftRole.Reset()
	metrics.RaftRole.WithLabelValues("candidate").Set(1)
	n.logger.Info().Uint64("term", newTerm).Msg("starting election")

	votes := int64(1) // vote for self
	total := len(clients) + 1
	majority := total/2 + 1
	if votes >= int64(majority) {
		// A node with no peers is a majority on its own vote.
		n.becomeLeader(newTerm)
		return
	}

	var wg sync.WaitGroup
	for id, c := range clients {
		wg.Add(1)
		go func(peerID string, c *transport.Client) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
			defer cancel()
			resp, err := c.SendRequestVote(ctx, req)
			if err != nil {
				return
			}

			n.mu.Lock()
			if resp.Term > n.currentTerm {
				n.becomeFollowerLocked(resp.Term)
				n.mu.Unlock()
				return
			}
			stillCandidate := n.role == types.RoleCandidate && n.currentTerm == newTerm
			n.mu.Unlock()

			if !stillCandidate || !resp.VoteGranted {
				return
			}
			if atomic.AddInt64(&votes, 1) == int64(majority) {
				n.becomeLeader(newTerm)
			}
		}(id, c)
	}
	wg.Wait()
}

// becomeLeader transitions to leader for term, provided the node is
// still a candidate in that term by the time every vote has arrived.
func (n *Node) becomeLeader(term uint64) {
	n.mu.Lock()
	if n.role != types.RoleCandidate || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	n.role = types.RoleLeader
	n.leaderID = n.cfg.NodeID
	next := n.lastLogIndexLocked() + 1
	for id := range n.clients {
		n.nextIndex[id] = next
		n.matchIndex[id] = 0
	}
	n.stopElectionTimerLocked()
	n.mu.Unlock()

	metrics.RaftRole.Reset()
	metrics.RaftRole.WithLabelValues("leader").Set(1)
	metrics.RaftIsLeader.Set(1)
	metrics.RaftElectionsTotal.Inc()
	n.logger.Info().Uint64("term", term).Msg("elected leader")
	n.publish(events.EventLeaderElected, "became leader", map[string]string{"term": fmt.Sprint(term)})

	n.startHeartbeats()
}

func (n *Node) stopElectionTimerLocked() {
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
}
