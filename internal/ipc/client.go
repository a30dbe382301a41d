package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

// Common errors
var (
	ErrConnectionLost = errors.New("ipc: connection lost")
	ErrNotRunning     = errors.New("ipc: server is not running")
)

// Client sends requests to a Server. It is safe for concurrent use; each
// Call waits only for its own response.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]chan *Message
	nextReqID atomic.Uint32

	done chan struct{}
}

// Dial connects to the server listening on socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[uint32]chan *Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Call sends a request of type t with payload req and decodes the
// response into resp, which may be nil. Cancelling ctx abandons the call
// and asks the server to cancel the request. An error reported by the
// server is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, t MessageType, req, resp any) error {
	data, err := Encode(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	id := c.nextReqID.Add(1)
	ch := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(NewMessage(t, id, data)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	select {
	case msg := <-ch:
		if msg.Header.Type == MsgError {
			var e ErrorResponse
			if err := Decode(msg.Payload, &e); err != nil {
				return fmt.Errorf("decode error response: %w", err)
			}
			return &RemoteError{Code: e.Code, Message: e.Message}
		}
		if resp == nil {
			return nil
		}
		if err := Decode(msg.Payload, resp); err != nil {
			return fmt.Errorf("decode %s response: %w", t, err)
		}
		return nil
	case <-ctx.Done():
		c.cancelRemote(id)
		return ctx.Err()
	case <-c.done:
		return ErrConnectionLost
	}
}

// Notify sends a request without waiting for its response. Requests on
// one client are written in call order.
func (c *Client) Notify(t MessageType, req any) error {
	data, err := Encode(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := c.send(NewMessage(t, c.nextReqID.Add(1), data)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, MsgPing, nil, nil)
}

func (c *Client) cancelRemote(id uint32) {
	data, err := Encode(&CancelRequest{RequestID: id})
	if err != nil {
		return
	}
	_ = c.send(NewMessage(MsgCancel, c.nextReqID.Add(1), data))
}

func (c *Client) send(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return msg.Write(c.conn)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			return
		}
		if !msg.IsResponse() {
			continue
		}

		c.pendingMu.Lock()
		ch := c.pending[msg.Header.RequestID]
		c.pendingMu.Unlock()
		if ch != nil {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}
