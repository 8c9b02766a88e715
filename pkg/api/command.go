package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgehq/forge/pkg/raft"
	"github.com/forgehq/forge/pkg/types"
)

// ClientResponse is the envelope every command submission gets back,
// per spec.md §4.5/§6: success/data on commit, error on failure, and
// leaderId populated whenever the caller should redirect.
type ClientResponse struct {
	Success  bool                 `json:"success"`
	Data     *types.CommandResult `json:"data,omitempty"`
	Error    string               `json:"error,omitempty"`
	LeaderID string               `json:"leaderId,omitempty"`
}

// commandHandler submits a generic command for consensus. A non-leader
// node replies 503 with leaderId set so the caller can redirect.
func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "cluster service not initialized", http.StatusServiceUnavailable)
		return
	}

	var cmd types.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, ClientResponse{Success: false, Error: "invalid command payload: " + err.Error()})
		return
	}

	result, err := s.service.ExecuteCommand(r.Context(), cmd)
	if err != nil {
		var notLeader *raft.NotLeaderError
		if errors.As(err, &notLeader) {
			writeJSON(w, http.StatusServiceUnavailable, ClientResponse{Success: false, Error: err.Error(), LeaderID: notLeader.LeaderID})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ClientResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ClientResponse{Success: true, Data: result})
}
