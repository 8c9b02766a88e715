package raft

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/pkg/events"
	"github.com/forgehq/forge/pkg/statemachine"
	"github.com/forgehq/forge/pkg/storage"
	"github.com/forgehq/forge/pkg/types"
)

// newTestCluster wires up n in-process nodes on local TCP ports, each
// backed by its own MemoryStore and GitStateMachine.
func newTestCluster(t *testing.T, n int, basePort int) []*Node {
	t.Helper()

	ids := make([]string, n)
	addrs := make(map[string]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("node-%d", i)
		addrs[ids[i]] = fmt.Sprintf("127.0.0.1:%d", basePort+i)
	}

	nodes := make([]*Node, n)
	for i, id := range ids {
		peers := make(map[string]string, n-1)
		for _, other := range ids {
			if other == id {
				continue
			}
			peers[other] = fmt.Sprintf("ws://%s/raft", addrs[other])
		}

		cfg := Config{
			NodeID:             id,
			BindAddr:           addrs[id],
			Peers:              peers,
			ElectionTimeoutMin: 100 * time.Millisecond,
			ElectionTimeoutMax: 200 * time.Millisecond,
			HeartbeatInterval:  20 * time.Millisecond,
			RPCTimeout:         100 * time.Millisecond,
			CommitTimeout:      2 * time.Second,
		}

		broker := events.NewBroker()
		broker.Start()

		node, err := New(cfg, storage.NewMemoryStore(), statemachine.New(), broker)
		require.NoError(t, err)
		nodes[i] = node
	}

	for _, node := range nodes {
		require.NoError(t, node.Start())
	}
	t.Cleanup(func() {
		for _, node := range nodes {
			_ = node.Stop()
		}
	})

	return nodes
}

func awaitLeader(t *testing.T, nodes []*Node, timeout time.Duration) *Node {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if n.IsLeader() {
				return n
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected within timeout")
	return nil
}

func TestCluster_ElectsExactlyOneLeader(t *testing.T) {
	nodes := newTestCluster(t, 3, 19100)
	leader := awaitLeader(t, nodes, 3*time.Second)

	leaderCount := 0
	for _, n := range nodes {
		if n.IsLeader() {
			leaderCount++
		}
	}
	require.Equal(t, 1, leaderCount)
	require.NotEmpty(t, leader.cfg.NodeID)
}

func TestCluster_SubmitReplicatesAndCommits(t *testing.T) {
	nodes := newTestCluster(t, 3, 19110)
	leader := awaitLeader(t, nodes, 3*time.Second)

	cmd := types.Command{
		Type: types.CommandCreateProject,
		CreateProject: &types.CreateProjectPayload{
			ID:   "proj-1",
			Name: "Integration Test Project",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := leader.Submit(ctx, cmd)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.sm.LastAppliedIndex() < 1 {
				return false
			}
			if _, ok := n.sm.GetProject("proj-1"); !ok {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond, "all nodes should converge on the committed project")
}

func TestCluster_NonLeaderSubmitReturnsNotLeaderError(t *testing.T) {
	nodes := newTestCluster(t, 3, 19120)
	leader := awaitLeader(t, nodes, 3*time.Second)

	var follower *Node
	for _, n := range nodes {
		if n != leader {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := follower.Submit(ctx, types.Command{Type: types.CommandCreateProject, CreateProject: &types.CreateProjectPayload{ID: "x", Name: "x"}})
	require.Error(t, err)

	var notLeaderErr *NotLeaderError
	require.ErrorAs(t, err, &notLeaderErr)
}
