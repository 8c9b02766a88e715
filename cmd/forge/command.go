package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgehq/forge/pkg/api"
	"github.com/forgehq/forge/pkg/types"
)

var commandCmd = &cobra.Command{
	Use:   "command",
	Short: "Submit commands to a running cluster",
}

var commandSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a JSON-encoded command for consensus",
	Long: `Submit reads a types.Command from a file (or stdin) and posts it to a
node's admin surface. If the node is not the leader, its response carries
leaderId so the caller knows where to retry.`,
	RunE: runCommandSubmit,
}

func init() {
	commandCmd.AddCommand(commandSubmitCmd)

	commandSubmitCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address of the node's admin HTTP surface")
	commandSubmitCmd.Flags().StringP("file", "f", "", "File containing a JSON-encoded command (default: stdin)")
}

func runCommandSubmit(cmd *cobra.Command, args []string) error {
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	file, _ := cmd.Flags().GetString("file")

	var data []byte
	var err error
	if file == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("read command: %w", err)
	}

	var command types.Command
	if err := json.Unmarshal(data, &command); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}

	var resp api.ClientResponse
	if err := postJSONDecode(apiAddr, "/command", command, &resp); err != nil {
		return fmt.Errorf("submit command: %w", err)
	}

	if !resp.Success {
		if resp.LeaderID != "" {
			return fmt.Errorf("not leader, retry against %s: %s", resp.LeaderID, resp.Error)
		}
		return fmt.Errorf("command rejected: %s", resp.Error)
	}

	out, _ := json.MarshalIndent(resp.Data, "", "  ")
	fmt.Println(string(out))
	return nil
}
