package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Handler processes a request and returns its response.
//
// Handlers run concurrently, one goroutine per request. ctx is cancelled
// when the client cancels the request, disconnects, or the server stops.
type Handler interface {
	HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, peer *Peer, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
	return f(ctx, peer, msg)
}

// Peer is a connected client.
type Peer struct {
	ID    string
	Creds *PeerCredentials

	conn    net.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	inflight map[uint32]context.CancelFunc
}

func (p *Peer) send(msg *Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return msg.Write(p.conn)
}

func (p *Peer) track(id uint32, cancel context.CancelFunc) {
	p.mu.Lock()
	p.inflight[id] = cancel
	p.mu.Unlock()
}

func (p *Peer) untrack(id uint32) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

func (p *Peer) cancel(id uint32) {
	p.mu.Lock()
	cancel := p.inflight[id]
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Peer) cancelAll() {
	p.mu.Lock()
	for _, cancel := range p.inflight {
		cancel()
	}
	p.mu.Unlock()
}

// ServerConfig configures a Server.
type ServerConfig struct {
	SocketPath string

	// Permissions of the socket file. Zero means 0600.
	Permissions os.FileMode

	// RequireSameUser rejects peers running as another user.
	RequireSameUser bool

	// MaxConnections caps concurrent peers. Zero means 16.
	MaxConnections int

	Logger *slog.Logger
}

// Server accepts connections on a unix socket and dispatches requests to
// a Handler.
type Server struct {
	cfg      ServerConfig
	handler  Handler
	logger   *slog.Logger
	listener net.Listener

	mu     sync.Mutex
	peers  map[string]*Peer
	nextID atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewServer creates a server. It does not listen until Start.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.Permissions == 0 {
		cfg.Permissions = 0o600
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ipc")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		peers:   make(map[string]*Peer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start listens on the socket and begins accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(s.cfg.SocketPath) {
		return fmt.Errorf("socket %s is in use", s.cfg.SocketPath)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, s.cfg.Permissions); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.running.Store(true)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection, cancels running handlers
// and waits for them.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		peer, err := s.admit(conn)
		if err != nil {
			s.logger.Warn("connection rejected", "error", err)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(peer)
	}
}

func (s *Server) admit(conn net.Conn) (*Peer, error) {
	peer := &Peer{
		ID:       fmt.Sprintf("peer-%d", s.nextID.Add(1)),
		conn:     conn,
		inflight: make(map[uint32]context.CancelFunc),
	}

	if creds, err := GetPeerCredentials(conn); err == nil {
		peer.Creds = creds
	}
	if s.cfg.RequireSameUser {
		same, err := VerifyPeerIsCurrentUser(conn)
		if err != nil {
			return nil, fmt.Errorf("verify peer: %w", err)
		}
		if !same {
			return nil, errors.New("peer runs as another user")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) >= s.cfg.MaxConnections {
		return nil, errors.New("too many connections")
	}
	s.peers[peer.ID] = peer
	return peer, nil
}

func (s *Server) handleConnection(peer *Peer) {
	defer s.wg.Done()

	var requests sync.WaitGroup
	defer func() {
		peer.cancelAll()
		requests.Wait()
		peer.conn.Close()
		s.mu.Lock()
		delete(s.peers, peer.ID)
		s.mu.Unlock()
	}()

	for {
		msg, err := ReadMessage(peer.conn)
		if err != nil {
			if errors.Is(err, ErrBadMagic) {
				s.logger.Warn("dropping peer", "peer", peer.ID, "error", err)
			}
			return
		}
		if msg.IsResponse() {
			continue
		}

		switch msg.Header.Type {
		case MsgPing:
			resp, _ := NewResponse(MsgPing, msg.Header.RequestID, nil)
			if err := peer.send(resp); err != nil {
				return
			}
		case MsgCancel:
			var req CancelRequest
			if err := Decode(msg.Payload, &req); err == nil {
				peer.cancel(req.RequestID)
			}
		default:
			ctx, cancel := context.WithCancel(s.ctx)
			peer.track(msg.Header.RequestID, cancel)
			requests.Add(1)
			go func(msg *Message) {
				defer requests.Done()
				defer cancel()
				defer peer.untrack(msg.Header.RequestID)
				s.dispatch(ctx, peer, msg)
			}(msg)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, peer *Peer, msg *Message) {
	resp, err := s.handler.HandleMessage(ctx, peer, msg)
	if err != nil {
		resp = errorResponse(ctx, msg.Header.RequestID, err)
	}
	if resp == nil {
		resp, _ = NewResponse(msg.Header.Type, msg.Header.RequestID, nil)
	}
	if err := peer.send(resp); err != nil {
		s.logger.Debug("send response failed", "peer", peer.ID, "type", msg.Header.Type.String(), "error", err)
	}
}

func errorResponse(ctx context.Context, reqID uint32, err error) *Message {
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		return NewErrorMessage(reqID, remote.Code, remote.Message)
	case ctx.Err() != nil:
		return NewErrorMessage(reqID, CodeCancelled, "request cancelled")
	default:
		return NewErrorMessage(reqID, CodeInternal, err.Error())
	}
}
