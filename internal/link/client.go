package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/scan"
)

const (
	// SendTimeout bounds a single command write.
	SendTimeout = 250 * time.Millisecond

	// RepliesBufferSize is the number of acknowledgements kept for the
	// controller before new ones are dropped.
	RepliesBufferSize = 16
)

var (
	// ErrNotConnected is returned by Send while no worker is bound.
	ErrNotConnected = errors.New("worker not connected")
)

// Reply is an acknowledgement of a command sent with Send.
type Reply struct {
	Seq     uint32
	Command MessageType
	Err     error
	Status  Status
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(c *Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "link-client"))
	}
}

// WithSendTimeout sets the write deadline applied to every command
func WithSendTimeout(d time.Duration) func(c *Client) {
	return func(c *Client) {
		c.sendTimeout = d
	}
}

// Client is the controller end of the control link. It becomes Connected
// when the worker announces BOUND and Disconnected for good when the worker
// exits, the client unbinds or the transport fails.
type Client struct {
	conn net.Conn

	mu        sync.Mutex // serializes writes, commands leave in call order
	seq       uint32
	connected atomic.Bool
	closed    atomic.Bool

	bound     chan struct{}
	boundOnce sync.Once
	boundInfo BoundPayload

	replies        chan Reply
	droppedReplies atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once

	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewClient wraps conn, the controller side of a worker connection, and
// starts reading worker messages.
func NewClient(conn net.Conn, options ...func(c *Client)) *Client {
	c := Client{
		conn:        conn,
		bound:       make(chan struct{}),
		replies:     make(chan Reply, RepliesBufferSize),
		done:        make(chan struct{}),
		sendTimeout: SendTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	go c.readLoop()

	return &c
}

// WaitBound blocks until the worker announces it is bound. The returned
// error wraps scan.ErrInvalidConfig when the worker rejected the initial
// configuration, or scan.ErrEngineStartFailed when it could not start
// scanning; the client is Connected either way.
func (c *Client) WaitBound(ctx context.Context) (Status, error) {
	select {
	case <-c.bound:
		if c.boundInfo.Invalid {
			return c.boundInfo.Status, fmt.Errorf("%w: %s", scan.ErrInvalidConfig, c.boundInfo.Error)
		}
		if c.boundInfo.Error != "" {
			return c.boundInfo.Status, fmt.Errorf("%w: %s", scan.ErrEngineStartFailed, c.boundInfo.Error)
		}
		return c.boundInfo.Status, nil
	case <-c.done:
		return Status{}, ErrNotConnected
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Connected reports whether commands can currently be sent.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Done is closed once the client is Disconnected for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Replies delivers acknowledgements. It is closed when the link goes down.
func (c *Client) Replies() <-chan Reply {
	return c.replies
}

// DroppedReplies returns the number of acknowledgements nobody read in time.
func (c *Client) DroppedReplies() uint64 {
	return c.droppedReplies.Load()
}

// Send delivers one command to the worker. It returns ErrNotConnected,
// without queueing anything, while no worker is bound. The write is bounded
// by the send timeout or ctx, whichever expires first.
func (c *Client) Send(ctx context.Context, cmd scan.Command) (uint32, error) {
	var (
		m   = Message{}
		err error
	)

	switch cmd.Kind {
	case scan.CommandPause:
		m.Type = MessagePause
	case scan.CommandReconfigure:
		m.Type = MessageConfigure
		m.Payload, err = encodePayload(ConfigurePayload{Config: cmd.Config})
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: %s", scan.ErrUnknownCommand, cmd.Kind)
	}

	return c.send(ctx, m)
}

// RequestStatus asks the worker for its status; the answer arrives as a
// Reply.
func (c *Client) RequestStatus(ctx context.Context) (uint32, error) {
	return c.send(ctx, Message{Type: MessageStatus})
}

func (c *Client) send(ctx context.Context, m Message) (uint32, error) {
	if !c.connected.Load() {
		return 0, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// the link may have dropped while waiting for the lock
	if !c.connected.Load() {
		return 0, ErrNotConnected
	}

	timeout := c.sendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if timeout <= 0 {
		return 0, context.DeadlineExceeded
	}

	c.seq++
	m.Seq = c.seq

	if n, err := writeMessage(c.conn, m, timeout); err != nil {
		err = fmt.Errorf("error sending %s: %w", m.Type, err)

		// nothing reached the worker, the stream is still in sync
		if n == 0 && isTimeout(err) {
			c.logger.Warn("worker busy, command not sent", slog.String("type", m.Type.String()))
			return 0, err
		}

		c.disconnect(err)
		return 0, err
	}

	c.logger.Debug("command sent", slog.String("type", m.Type.String()), slog.Int("seq", int(m.Seq)))

	return m.Seq, nil
}

// Unbind asks the worker to stop scanning and detaches from it. It is
// idempotent.
func (c *Client) Unbind(ctx context.Context) error {
	var err error

	if c.connected.Load() {
		_, err = c.send(ctx, Message{Type: MessageUnbind})
		if errors.Is(err, ErrNotConnected) {
			err = nil
		}
	}

	c.disconnect(nil)

	return err
}

// Close tears the link down without notifying the worker.
func (c *Client) Close() error {
	c.disconnect(nil)
	return nil
}

func (c *Client) disconnect(cause error) {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.closed.Store(true)

		if cause != nil {
			c.logger.Warn("control link lost", slog.String("error", cause.Error()))
		} else {
			c.logger.Info("control link closed")
		}

		_ = c.conn.Close()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.replies)

	for {
		m, err := ReadMessage(c.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.closed.Load() {
				c.disconnect(nil)
			} else {
				c.disconnect(err)
			}
			return
		}

		switch m.Type {
		case MessageBound:
			var p BoundPayload
			if err := decodePayload(m, &p); err != nil {
				c.logger.Warn(err.Error())
			}

			c.boundOnce.Do(func() {
				c.boundInfo = p
				c.connected.Store(true)
				close(c.bound)
			})

			c.logger.Info("worker bound", slog.String("state", p.Status.State), slog.Int("pid", p.Status.PID))

		case MessageAck:
			var p AckPayload
			if err := decodePayload(m, &p); err != nil {
				c.logger.Warn(err.Error())
				continue
			}

			r := Reply{Seq: p.Seq, Command: p.Command, Status: p.Status}
			if p.Error != "" {
				r.Err = errors.New(p.Error)
			}

			select {
			case c.replies <- r:
			default:
				c.droppedReplies.Add(1)
			}

			if p.Command == MessageUnbind {
				c.disconnect(nil)
			}

		default:
			c.logger.Warn("unexpected message from worker", slog.String("type", m.Type.String()))
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
