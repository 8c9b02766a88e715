package transport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/pkg/types"
)

type stubHandler struct {
	voteGranted bool
	term        uint64
}

func (h *stubHandler) HandleRequestVote(req *types.RequestVoteRequest) *types.RequestVoteResponse {
	return &types.RequestVoteResponse{RequestID: req.RequestID, Term: h.term, VoteGranted: h.voteGranted}
}

func (h *stubHandler) HandleAppendEntries(req *types.AppendEntriesRequest) *types.AppendEntriesResponse {
	return &types.AppendEntriesResponse{RequestID: req.RequestID, Term: h.term, Success: true}
}

func TestClientServerRequestVoteRoundTrip(t *testing.T) {
	handler := &stubHandler{voteGranted: true, term: 3}
	srv := NewServer("127.0.0.1:18741", handler)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond) // let the listener bind

	client := NewClient("ws://127.0.0.1:18741/raft", 2*time.Second)
	defer client.Close()

	resp, err := client.SendRequestVote(context.Background(), &types.RequestVoteRequest{
		RequestID: uuid.New().String(), Term: 3, CandidateID: "node-2",
	})
	require.NoError(t, err)
	require.True(t, resp.VoteGranted)
	require.Equal(t, uint64(3), resp.Term)
}

func TestClientServerAppendEntriesRoundTrip(t *testing.T) {
	handler := &stubHandler{term: 5}
	srv := NewServer("127.0.0.1:18742", handler)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := NewClient("ws://127.0.0.1:18742/raft", 2*time.Second)
	defer client.Close()

	resp, err := client.SendAppendEntries(context.Background(), &types.AppendEntriesRequest{
		RequestID: uuid.New().String(), Term: 5, LeaderID: "node-1",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestClientConcurrentCallsAreCorrelatedByRequestID(t *testing.T) {
	handler := &stubHandler{voteGranted: true, term: 1}
	srv := NewServer("127.0.0.1:18743", handler)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := NewClient("ws://127.0.0.1:18743/raft", 2*time.Second)
	defer client.Close()

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := client.SendRequestVote(context.Background(), &types.RequestVoteRequest{
				RequestID: uuid.New().String(), Term: 1, CandidateID: "node-2",
			})
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-errs)
	}
}
