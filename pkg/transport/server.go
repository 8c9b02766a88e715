package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/forgehq/forge/pkg/log"
	"github.com/forgehq/forge/pkg/types"
)

// Handler processes inbound RPCs delivered over a Server's connections.
// pkg/raft.Node implements this.
type Handler interface {
	HandleRequestVote(req *types.RequestVoteRequest) *types.RequestVoteResponse
	HandleAppendEntries(req *types.AppendEntriesRequest) *types.AppendEntriesResponse
}

// Server accepts WebSocket connections from peer nodes at path /raft
// and dispatches every decoded request to Handler, writing the
// response back on the same connection.
type Server struct {
	addr       string
	handler    Handler
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer returns a Server that will listen on addr once Start is called.
func NewServer(addr string, handler Handler) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("transport"),
	}
}

// Start begins listening and returns once the listener is bound; it
// serves connections in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/raft", s.handleConn)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("transport server stopped serving")
		}
	}()

	s.logger.Info().Str("addr", s.addr).Msg("transport server listening")
	return nil
}

// Stop shuts down the HTTP listener, waiting at most until ctx expires.
// WebSocket connections already upgraded by handleConn are hijacked
// from the http.Server, so Stop neither closes nor waits for them: each
// keeps dispatching requests to the Handler until its peer closes it.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		kind, payload, err := decodeEnvelope(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		var out []byte
		switch kind {
		case kindRequestVoteRequest:
			req, err := decodeRequestVoteRequest(payload)
			if err != nil {
				continue
			}
			resp := s.handler.HandleRequestVote(req)
			out, err = encodeEnvelope(kindRequestVoteResponse, resp)
			if err != nil {
				continue
			}
		case kindAppendEntriesRequest:
			req, err := decodeAppendEntriesRequest(payload)
			if err != nil {
				continue
			}
			resp := s.handler.HandleAppendEntries(req)
			out, err = encodeEnvelope(kindAppendEntriesResponse, resp)
			if err != nil {
				continue
			}
		default:
			continue
		}

		writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, out)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
