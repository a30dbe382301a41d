package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"vkbd/internal/ipc"
	"vkbd/internal/keyboard"
)

// ProtocolVersion is reported in Capabilities responses.
const ProtocolVersion = "vkbd/1"

// ServeSocket serves panel on a unix socket. The caller stops the
// returned server.
func ServeSocket(panel *Panel, cfg ipc.ServerConfig) (*ipc.Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "bridge")
	}
	srv := ipc.NewServer(cfg, &socketHandler{panel: panel, logger: cfg.Logger})
	if err := srv.Start(); err != nil {
		return nil, err
	}
	cfg.Logger.Info("serving panel", "socket", cfg.SocketPath)
	return srv, nil
}

type socketHandler struct {
	panel  *Panel
	logger *slog.Logger
}

func (h *socketHandler) HandleMessage(ctx context.Context, peer *ipc.Peer, msg *ipc.Message) (*ipc.Message, error) {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case ipc.MsgWaitForShow:
		cfg, err := h.panel.WaitForShow(ctx)
		if err != nil {
			return nil, toRemote(err)
		}
		data, err := keyboard.EncodeSessionConfig(cfg)
		if err != nil {
			return nil, err
		}
		h.logger.Debug("session handed out", "peer", peer.ID)
		return ipc.NewResponse(msg.Header.Type, id, &ipc.ShowResponse{Config: data})

	case ipc.MsgEndInput:
		var req ipc.EndInputRequest
		if err := ipc.Decode(msg.Payload, &req); err != nil {
			return nil, &ipc.RemoteError{Code: ipc.CodeInvalidRequest, Message: err.Error()}
		}
		if err := h.panel.EndInput(ctx, req.Value); err != nil {
			return nil, toRemote(err)
		}
		return ipc.NewResponse(msg.Header.Type, id, nil)

	case ipc.MsgStartDictation:
		text, err := h.panel.StartDictation(ctx)
		if err != nil {
			return nil, toRemote(err)
		}
		return ipc.NewResponse(msg.Header.Type, id, &ipc.DictationResponse{Transcript: text})

	case ipc.MsgStopDictation:
		h.panel.StopDictation()
		return ipc.NewResponse(msg.Header.Type, id, nil)

	case ipc.MsgCapabilities:
		return ipc.NewResponse(msg.Header.Type, id, &ipc.CapabilitiesResponse{
			DictationAvailable: h.panel.DictationAvailable(),
			Version:            ProtocolVersion,
		})

	default:
		return nil, &ipc.RemoteError{
			Code:    ipc.CodeInvalidRequest,
			Message: fmt.Sprintf("unsupported message type %s", msg.Header.Type),
		}
	}
}

var remoteCodes = []struct {
	err  error
	code int
}{
	{keyboard.ErrHostClosed, ipc.CodeHostClosed},
	{keyboard.ErrNoTranscript, ipc.CodeNoTranscript},
	{keyboard.ErrDictationUnavailable, ipc.CodeUnavailable},
	{keyboard.ErrMalformedConfig, ipc.CodeMalformedConfig},
}

func toRemote(err error) error {
	for _, rc := range remoteCodes {
		if errors.Is(err, rc.err) {
			return &ipc.RemoteError{Code: rc.code, Message: err.Error()}
		}
	}
	return err
}

func fromRemote(err error) error {
	var remote *ipc.RemoteError
	if !errors.As(err, &remote) {
		return err
	}
	for _, rc := range remoteCodes {
		if remote.Code == rc.code {
			return fmt.Errorf("%w (remote: %s)", rc.err, remote.Message)
		}
	}
	return err
}

// SocketHost is a keyboard.Host that talks to a panel served by
// ServeSocket. It dials on first use and redials after the connection
// drops, so the keyboard may start before the host.
type SocketHost struct {
	path   string
	logger *slog.Logger

	// dialMu serializes dials. mu is never held across socket I/O, so
	// StopDictation and DictationAvailable never wait on a dial.
	dialMu sync.Mutex

	mu        sync.Mutex
	client    *ipc.Client
	available bool
	closed    bool
}

// NewSocketHost returns a host for the socket at path. It does not dial.
func NewSocketHost(path string, logger *slog.Logger) *SocketHost {
	if logger == nil {
		logger = slog.Default().With("component", "bridge")
	}
	return &SocketHost{path: path, logger: logger}
}

// current returns the live client, or nil when a dial is needed.
func (h *SocketHost) current() (*ipc.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, keyboard.ErrHostClosed
	}
	if h.client != nil {
		select {
		case <-h.client.Done():
			h.client.Close()
			h.client = nil
		default:
			return h.client, nil
		}
	}
	return nil, nil
}

func (h *SocketHost) conn(ctx context.Context) (*ipc.Client, error) {
	if c, err := h.current(); c != nil || err != nil {
		return c, err
	}

	h.dialMu.Lock()
	defer h.dialMu.Unlock()
	if c, err := h.current(); c != nil || err != nil {
		return c, err
	}

	c, err := ipc.Dial(ctx, h.path)
	if err != nil {
		return nil, fmt.Errorf("dial host: %w", err)
	}
	var caps ipc.CapabilitiesResponse
	if err := c.Call(ctx, ipc.MsgCapabilities, nil, &caps); err != nil {
		c.Close()
		return nil, fmt.Errorf("query capabilities: %w", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return nil, keyboard.ErrHostClosed
	}
	h.client = c
	h.available = caps.DictationAvailable
	h.mu.Unlock()

	h.logger.Info("connected to host", "socket", h.path, "version", caps.Version, "dictation", caps.DictationAvailable)
	return c, nil
}

// WaitForShow implements keyboard.Host.
func (h *SocketHost) WaitForShow(ctx context.Context) (keyboard.SessionConfig, error) {
	c, err := h.conn(ctx)
	if err != nil {
		return keyboard.SessionConfig{}, err
	}
	var resp ipc.ShowResponse
	if err := c.Call(ctx, ipc.MsgWaitForShow, nil, &resp); err != nil {
		return keyboard.SessionConfig{}, fromRemote(err)
	}
	return keyboard.ParseSessionConfig(resp.Config)
}

// EndInput implements keyboard.Host.
func (h *SocketHost) EndInput(ctx context.Context, value *string) error {
	c, err := h.conn(ctx)
	if err != nil {
		return err
	}
	return fromRemote(c.Call(ctx, ipc.MsgEndInput, &ipc.EndInputRequest{Value: value}, nil))
}

// StartDictation implements keyboard.Host.
func (h *SocketHost) StartDictation(ctx context.Context) (string, error) {
	c, err := h.conn(ctx)
	if err != nil {
		return "", err
	}
	var resp ipc.DictationResponse
	if err := c.Call(ctx, ipc.MsgStartDictation, nil, &resp); err != nil {
		return "", fromRemote(err)
	}
	return resp.Transcript, nil
}

// StopDictation implements keyboard.Host. It only writes the request.
func (h *SocketHost) StopDictation() {
	h.mu.Lock()
	c := h.client
	h.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Notify(ipc.MsgStopDictation, nil); err != nil {
		h.logger.Debug("stop dictation not sent", "error", err)
	}
}

// DictationAvailable implements keyboard.Host. It reflects the last
// capabilities the host reported.
func (h *SocketHost) DictationAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// Close drops the connection. Later calls fail with keyboard.ErrHostClosed.
func (h *SocketHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.client != nil {
		err := h.client.Close()
		h.client = nil
		return err
	}
	return nil
}

var _ keyboard.Host = (*SocketHost)(nil)
