package link

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/scan"
)

const (
	// Magic identifies control link messages ("SSCL").
	Magic uint32 = 0x5353434c

	// HeaderSize is magic (4) + type (1) + sequence (4) + length (4) + timestamp (8).
	HeaderSize = 21

	// MaxPayloadSize bounds a single message payload.
	MaxPayloadSize = 64 * 1024
)

const (
	MessageBound MessageType = iota + 1
	MessagePause
	MessageConfigure
	MessageStatus
	MessageAck
	MessageUnbind
)

var (
	// ErrInvalidMessage is returned for malformed control messages.
	ErrInvalidMessage = errors.New("invalid control message")
)

// MessageType tags a control message.
type MessageType uint8

func (t MessageType) String() string {
	switch t {
	case MessageBound:
		return "BOUND"
	case MessagePause:
		return "PAUSE"
	case MessageConfigure:
		return "CONFIGURE"
	case MessageStatus:
		return "STATUS"
	case MessageAck:
		return "ACK"
	case MessageUnbind:
		return "UNBIND"
	default:
		return fmt.Sprintf("MESSAGE(%d)", uint8(t))
	}
}

// Message is one framed control message.
type Message struct {
	Type      MessageType
	Seq       uint32
	Timestamp time.Time
	Payload   []byte
}

// Status is the worker state carried by BOUND and ACK messages.
type Status struct {
	State  string       `json:"state"`
	Config *scan.Config `json:"config,omitempty"`
	PID    int          `json:"pid,omitempty"`
}

// BoundPayload announces a bound worker. Error is set when the engine could
// not be started with the initial configuration; Invalid marks an initial
// configuration the worker rejected outright.
type BoundPayload struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Invalid bool   `json:"invalid,omitempty"`
}

// AckPayload acknowledges the command with sequence number Seq.
type AckPayload struct {
	Seq     uint32      `json:"seq"`
	Command MessageType `json:"command"`
	Error   string      `json:"error,omitempty"`
	Status  Status      `json:"status"`
}

// ConfigurePayload carries the new scan configuration.
type ConfigurePayload struct {
	Config scan.Config `json:"config"`
}

func newStatus(st scan.Status, pid int) Status {
	s := Status{State: st.State.String(), PID: pid}
	if !st.Config.IsZero() {
		c := st.Config
		s.Config = &c
	}
	return s
}

func encodePayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding payload: %w", err)
	}
	if len(b) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload too large: %d bytes", ErrInvalidMessage, len(b))
	}
	return b, nil
}

func decodePayload(m Message, v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrInvalidMessage, m.Type, err)
	}
	return nil
}

// WriteMessage writes m to conn. A zero timeout means no write deadline.
func WriteMessage(conn net.Conn, m Message, timeout time.Duration) error {
	_, err := writeMessage(conn, m, timeout)
	return err
}

// writeMessage is WriteMessage reporting how many bytes reached conn.
func writeMessage(conn net.Conn, m Message, timeout time.Duration) (int, error) {
	if len(m.Payload) > MaxPayloadSize {
		return 0, fmt.Errorf("%w: payload too large: %d bytes", ErrInvalidMessage, len(m.Payload))
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	buf[4] = byte(m.Type)
	binary.LittleEndian.PutUint32(buf[5:9], m.Seq)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(m.Payload)))
	binary.LittleEndian.PutUint64(buf[13:21], uint64(ts.UnixNano()))
	copy(buf[HeaderSize:], m.Payload)

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
		defer conn.SetWriteDeadline(time.Time{})
	}

	return conn.Write(buf)
}

// ReadMessage reads the next message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != Magic {
		return Message{}, fmt.Errorf("%w: bad magic %#08x", ErrInvalidMessage, magic)
	}

	m := Message{
		Type:      MessageType(header[4]),
		Seq:       binary.LittleEndian.Uint32(header[5:9]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(header[13:21]))),
	}

	length := binary.LittleEndian.Uint32(header[9:13])
	if length > MaxPayloadSize {
		return Message{}, fmt.Errorf("%w: payload too large: %d bytes", ErrInvalidMessage, length)
	}

	if length > 0 {
		m.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return Message{}, fmt.Errorf("error reading %s payload: %w", m.Type, err)
		}
	}

	return m, nil
}
