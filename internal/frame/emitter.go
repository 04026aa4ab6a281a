package frame

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// WriteTimeout bounds a single datagram write.
	WriteTimeout = 5 * time.Millisecond
)

// EmitterStats counts the outcome of Emit calls.
type EmitterStats struct {
	Sent    uint64
	Dropped uint64
}

// WithEmitterLogger sets the logger for the emitter
func WithEmitterLogger(logger *slog.Logger) func(e *Emitter) {
	return func(e *Emitter) {
		e.logger = logger.With(slog.String("component", "frame-emitter"))
	}
}

// WithWriteTimeout sets the per-datagram write deadline
func WithWriteTimeout(d time.Duration) func(e *Emitter) {
	return func(e *Emitter) {
		e.writeTimeout = d
	}
}

// Emitter sends frames to a renderer's frame channel. The renderer may not
// be listening yet, or may come and go: frames that cannot be delivered are
// dropped and the connection is re-established on the next Emit.
type Emitter struct {
	addr *net.UnixAddr

	mu   sync.Mutex
	conn *net.UnixConn
	buf  []byte

	closed  atomic.Bool
	sent    atomic.Uint64
	dropped atomic.Uint64

	writeTimeout time.Duration
	logger       *slog.Logger
}

// StartEmitting prepares an emitter targeting the frame channel at path.
func StartEmitting(path string, options ...func(e *Emitter)) (*Emitter, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty address", ErrChannelUnavailable)
	}

	e := Emitter{
		addr:         &net.UnixAddr{Name: path, Net: "unixgram"},
		buf:          make([]byte, 0, MaxDatagramSize),
		writeTimeout: WriteTimeout,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&e)
	}

	return &e, nil
}

// Emit encodes and sends f. A non-nil error means the frame was dropped.
func (e *Emitter) Emit(f Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := f.AppendBinary(e.buf[:0])
	if err != nil {
		e.dropped.Add(1)
		return err
	}

	return e.write(b)
}

// Forward sends an already encoded datagram as is.
func (e *Emitter) Forward(b []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.write(b)
}

// write must be called with mu held.
func (e *Emitter) write(b []byte) error {
	if e.closed.Load() {
		e.dropped.Add(1)
		return net.ErrClosed
	}

	if e.conn == nil {
		conn, err := net.DialUnix("unixgram", nil, e.addr)
		if err != nil {
			e.dropped.Add(1)
			return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
		}

		e.conn = conn
		e.logger.Debug("connected to frame channel", slog.String("address", e.addr.Name))
	}

	if err := e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout)); err != nil {
		e.reset()
		e.dropped.Add(1)
		return err
	}

	if _, err := e.conn.Write(b); err != nil {
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			// the renderer went away or rebound the address
			e.reset()
		}

		e.dropped.Add(1)
		return err
	}

	e.sent.Add(1)
	return nil
}

func (e *Emitter) reset() {
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
}

// Stats returns the emit counters.
func (e *Emitter) Stats() EmitterStats {
	return EmitterStats{
		Sent:    e.sent.Load(),
		Dropped: e.dropped.Load(),
	}
}

// Close releases the socket. Further frames are dropped.
func (e *Emitter) Close() error {
	e.closed.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}

	err := e.conn.Close()
	e.conn = nil
	return err
}
