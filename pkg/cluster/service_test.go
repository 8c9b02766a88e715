package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/pkg/types"
)

func testConfig(t *testing.T, port int) Config {
	t.Helper()
	return Config{
		NodeID:             "node-solo",
		BindAddr:           fmt.Sprintf("127.0.0.1:%d", port),
		DataDir:            t.TempDir(),
		ElectionTimeoutMin: 100 * time.Millisecond,
		ElectionTimeoutMax: 200 * time.Millisecond,
		HeartbeatInterval:  20 * time.Millisecond,
		RPCTimeout:         100 * time.Millisecond,
		CommitTimeout:      2 * time.Second,
	}
}

func TestService_ConfigValidation(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
}

func TestService_SingleNodeBecomesLeaderAndExecutesCommands(t *testing.T) {
	cfg := testConfig(t, 19201)

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := svc.ExecuteCommand(ctx, types.Command{
		Type:          types.CommandCreateProject,
		CreateProject: &types.CreateProjectPayload{ID: "p1", Name: "Solo Project"},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	status := svc.Status()
	require.Equal(t, "leader", status.Role)
	require.True(t, status.Running)
}

func TestService_MetricsReflectsCommandsAndUptime(t *testing.T) {
	cfg := testConfig(t, 19204)

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	before := svc.Metrics().TotalCommands

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = svc.ExecuteCommand(ctx, types.Command{
		Type:          types.CommandCreateProject,
		CreateProject: &types.CreateProjectPayload{ID: "p-metrics", Name: "Metrics Project"},
	})
	require.NoError(t, err)

	after := svc.Metrics()
	require.Greater(t, after.TotalCommands, before)
	require.GreaterOrEqual(t, after.UptimeSeconds, float64(0))
}

func TestService_ExecuteCommandFailsWhenStopped(t *testing.T) {
	cfg := testConfig(t, 19202)

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())

	_, err = svc.ExecuteCommand(context.Background(), types.Command{Type: types.CommandCreateProject})
	require.Error(t, err)
}

func TestService_Restart(t *testing.T) {
	cfg := testConfig(t, 19203)

	svc, err := NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = svc.ExecuteCommand(ctx, types.Command{
		Type:          types.CommandCreateProject,
		CreateProject: &types.CreateProjectPayload{ID: "p1", Name: "Before Restart"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Restart())
	defer svc.Stop()

	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	_, ok := svc.State().GetProject("p1")
	require.True(t, ok, "state restored across Restart should still contain the previously committed project")
}
