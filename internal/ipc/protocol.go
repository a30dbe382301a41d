// Package ipc implements the framed request/response protocol spoken over
// the host bridge unix socket.
//
// Every message is a 16-byte header followed by a JSON payload. Requests
// and responses are correlated by RequestID, and a connection may carry
// any number of requests at once, so a long wait for a session does not
// hold up dictation or submit calls on the same socket.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Protocol constants.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x564B4244 // "VKBD"

	// MaxPayload bounds a single message payload.
	MaxPayload = 1 << 20
)

// MessageType identifies the type of a message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing   MessageType = 0x0001
	MsgCancel MessageType = 0x0002
	MsgError  MessageType = 0x0003

	// Host bridge calls (0x01xx)
	MsgWaitForShow    MessageType = 0x0100
	MsgEndInput       MessageType = 0x0101
	MsgStartDictation MessageType = 0x0102
	MsgStopDictation  MessageType = 0x0103
	MsgCapabilities   MessageType = 0x0104
)

var typeNames = map[MessageType]string{
	MsgPing:           "Ping",
	MsgCancel:         "Cancel",
	MsgError:          "Error",
	MsgWaitForShow:    "WaitForShow",
	MsgEndInput:       "EndInput",
	MsgStartDictation: "StartDictation",
	MsgStopDictation:  "StopDictation",
	MsgCapabilities:   "Capabilities",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(0x%04x)", uint16(t))
}

// Header flags
const (
	FlagJSON     uint8 = 0x01
	FlagResponse uint8 = 0x02
)

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// Header is the fixed-size message header.
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// ErrBadMagic is returned for frames that do not start with ProtocolMagic.
var ErrBadMagic = errors.New("ipc: invalid magic number")

// NewMessage creates a request message.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool {
	return m.Header.Flags&FlagResponse != 0
}

// Write writes the header.
func (h *Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and checks a header.
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: %x", ErrBadMagic, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("ipc: unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes header and payload in a single call.
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(m.Payload))
	if err := m.Header.Write(&buf); err != nil {
		return err
	}
	buf.Write(m.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadMessage reads a complete message.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("ipc: payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Encode serializes a payload. A nil payload encodes to nothing.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode deserializes a payload. An empty payload leaves v untouched.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewResponse creates the response to request reqID.
func NewResponse(msgType MessageType, reqID uint32, payload any) (*Message, error) {
	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	m := NewMessage(msgType, reqID, data)
	m.Header.Flags |= FlagResponse
	return m, nil
}

// NewErrorMessage creates an error response to request reqID.
func NewErrorMessage(reqID uint32, code int, message string) *Message {
	data, _ := json.Marshal(&ErrorResponse{Code: code, Message: message})
	m := NewMessage(MsgError, reqID, data)
	m.Header.Flags |= FlagResponse
	return m
}

// Error codes
const (
	CodeUnknown         = 1
	CodeInvalidRequest  = 2
	CodePermission      = 3
	CodeInternal        = 4
	CodeCancelled       = 5
	CodeHostClosed      = 6
	CodeNoTranscript    = 7
	CodeUnavailable     = 8
	CodeMalformedConfig = 9
)

// ErrorResponse is the payload of MsgError.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RemoteError is an error reported by the other side.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ipc: remote error %d: %s", e.Code, e.Message)
}

// CancelRequest asks the server to abandon request RequestID.
type CancelRequest struct {
	RequestID uint32 `json:"request_id"`
}

// ShowResponse answers MsgWaitForShow with the session configuration in
// its JSON wire form.
type ShowResponse struct {
	Config json.RawMessage `json:"config,omitempty"`
}

// EndInputRequest carries the finished value. Value is nil when nothing
// was typed.
type EndInputRequest struct {
	Value *string `json:"value"`
}

// DictationResponse answers MsgStartDictation.
type DictationResponse struct {
	Transcript string `json:"transcript"`
}

// CapabilitiesResponse answers MsgCapabilities.
type CapabilitiesResponse struct {
	DictationAvailable bool   `json:"dictation_available"`
	Version            string `json:"version,omitempty"`
}
