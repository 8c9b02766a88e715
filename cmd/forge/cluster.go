package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forgehq/forge/pkg/api"
	"github.com/forgehq/forge/pkg/cluster"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage a Forge cluster node",
}

var clusterStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this node and join (or form) a cluster",
	Long: `Start brings up this node's storage, state machine, and Raft node, then
serves the admin HTTP surface (status, metrics, command submission) until
interrupted.`,
	RunE: runClusterStart,
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the status of a running node",
	RunE:  runClusterStatus,
}

var clusterStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running node's Raft participation without exiting the process",
	RunE:  runClusterStop,
}

var clusterRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart a running node, rebuilding it from its persisted state",
	RunE:  runClusterRestart,
}

func init() {
	clusterCmd.AddCommand(clusterStartCmd)
	clusterCmd.AddCommand(clusterStatusCmd)
	clusterCmd.AddCommand(clusterStopCmd)
	clusterCmd.AddCommand(clusterRestartCmd)

	clusterStartCmd.Flags().String("config", "", "YAML file describing node-id, bind-addr, data-dir, and peers")
	clusterStartCmd.Flags().String("node-id", "node-1", "Unique node ID")
	clusterStartCmd.Flags().String("bind-addr", "127.0.0.1:8300", "Address the Raft transport listens on")
	clusterStartCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address the admin HTTP surface listens on")
	clusterStartCmd.Flags().String("data-dir", "./forge-data", "Directory for persisted Raft state")

	for _, c := range []*cobra.Command{clusterStatusCmd, clusterStopCmd, clusterRestartCmd} {
		c.Flags().String("api-addr", "127.0.0.1:8080", "Address of a running node's admin HTTP surface")
	}
}

// nodeFile is the on-disk shape of --config, letting a multi-node
// cluster's peer map live in a file instead of a long flag list.
type nodeFile struct {
	NodeID   string            `yaml:"nodeId"`
	BindAddr string            `yaml:"bindAddr"`
	APIAddr  string            `yaml:"apiAddr"`
	DataDir  string            `yaml:"dataDir"`
	Peers    map[string]string `yaml:"peers"`
}

func loadNodeFile(path string) (*nodeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var nf nodeFile
	if err := yaml.Unmarshal(data, &nf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &nf, nil
}

func runClusterStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	peers := map[string]string{}

	if configPath != "" {
		nf, err := loadNodeFile(configPath)
		if err != nil {
			return err
		}
		if nf.NodeID != "" {
			nodeID = nf.NodeID
		}
		if nf.BindAddr != "" {
			bindAddr = nf.BindAddr
		}
		if nf.APIAddr != "" {
			apiAddr = nf.APIAddr
		}
		if nf.DataDir != "" {
			dataDir = nf.DataDir
		}
		if nf.Peers != nil {
			peers = nf.Peers
		}
	}

	fmt.Println("Starting Forge node...")
	fmt.Printf("  Node ID:   %s\n", nodeID)
	fmt.Printf("  Raft addr: %s\n", bindAddr)
	fmt.Printf("  API addr:  %s\n", apiAddr)
	fmt.Printf("  Data dir:  %s\n", dataDir)
	fmt.Printf("  Peers:     %d\n", len(peers))

	svc, err := cluster.NewService(cluster.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
		Peers:    peers,
	})
	if err != nil {
		return fmt.Errorf("build cluster service: %w", err)
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("start cluster service: %w", err)
	}
	fmt.Println("✓ Raft node started")

	server := &http.Server{
		Addr:    apiAddr,
		Handler: api.NewServer(svc).GetHandler(),
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()
	fmt.Printf("✓ Admin surface listening on http://%s\n", apiAddr)
	fmt.Println()
	fmt.Println("Node is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop cluster service: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

func runClusterStatus(cmd *cobra.Command, args []string) error {
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	var status cluster.Status
	if err := getJSON(apiAddr, "/status", &status); err != nil {
		return err
	}

	fmt.Println("Node status:")
	fmt.Printf("  Node ID:      %s\n", status.NodeID)
	fmt.Printf("  Role:         %s\n", status.Role)
	fmt.Printf("  Term:         %d\n", status.Term)
	fmt.Printf("  Leader ID:    %s\n", status.LeaderID)
	fmt.Printf("  Commit index: %d\n", status.CommitIndex)
	fmt.Printf("  Last applied: %d\n", status.LastApplied)
	fmt.Printf("  Peer count:   %d\n", status.PeerCount)
	fmt.Printf("  Running:      %t\n", status.Running)
	return nil
}

func runClusterStop(cmd *cobra.Command, args []string) error {
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	var status cluster.Status
	if err := postJSON(apiAddr, "/stop", nil, &status); err != nil {
		return err
	}
	fmt.Println("✓ node stopped")
	return nil
}

func runClusterRestart(cmd *cobra.Command, args []string) error {
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	var status cluster.Status
	if err := postJSON(apiAddr, "/restart", nil, &status); err != nil {
		return err
	}
	fmt.Printf("✓ node restarted, role is now %s\n", status.Role)
	return nil
}
