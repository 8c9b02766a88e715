package transport

import (
	"encoding/json"
	"fmt"

	"github.com/forgehq/forge/pkg/types"
)

// messageKind selects which wire type an envelope's payload decodes into.
type messageKind string

const (
	kindRequestVoteRequest    messageKind = "requestVoteRequest"
	kindRequestVoteResponse   messageKind = "requestVoteResponse"
	kindAppendEntriesRequest  messageKind = "appendEntriesRequest"
	kindAppendEntriesResponse messageKind = "appendEntriesResponse"
)

// envelope is the single frame shape sent over a transport connection.
type envelope struct {
	Kind    messageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func encodeEnvelope(kind messageKind, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Payload: raw})
}

func decodeEnvelope(data []byte) (messageKind, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("transport: decode envelope: %w", err)
	}
	return env.Kind, env.Payload, nil
}

func decodeRequestVoteRequest(raw json.RawMessage) (*types.RequestVoteRequest, error) {
	var v types.RequestVoteRequest
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeAppendEntriesRequest(raw json.RawMessage) (*types.AppendEntriesRequest, error) {
	var v types.AppendEntriesRequest
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeRequestVoteResponse(raw json.RawMessage) (*types.RequestVoteResponse, error) {
	var v types.RequestVoteResponse
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeAppendEntriesResponse(raw json.RawMessage) (*types.AppendEntriesResponse, error) {
	var v types.AppendEntriesResponse
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
