package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/scan"
)

const (
	// AckTimeout bounds a single acknowledgement write.
	AckTimeout = time.Second
)

// Handler applies control commands on the worker side. scan.Worker
// implements it.
type Handler interface {
	Handle(cmd scan.Command) error
	Status() scan.Status
	Unbind() error
}

// WithServerLogger sets the logger for the server
func WithServerLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "link-server"))
	}
}

// WithAckTimeout sets the write deadline for acknowledgements
func WithAckTimeout(d time.Duration) func(s *Server) {
	return func(s *Server) {
		s.ackTimeout = d
	}
}

// Server is the worker end of the control link.
type Server struct {
	conn    net.Conn
	handler Handler
	pid     int

	ackTimeout time.Duration
	logger     *slog.Logger
}

// NewServer wraps conn, the worker side of a controller connection.
func NewServer(conn net.Conn, h Handler, options ...func(s *Server)) *Server {
	s := Server{
		conn:       conn,
		handler:    h,
		pid:        os.Getpid(),
		ackTimeout: AckTimeout,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Serve announces the bound handler and applies commands in arrival order
// until the controller unbinds, the connection drops or ctx is done. bindErr
// is the outcome of binding the handler and is reported to the controller.
// The handler is always unbound when Serve returns.
func (s *Server) Serve(ctx context.Context, bindErr error) error {
	defer func() {
		if err := s.handler.Unbind(); err != nil {
			s.logger.Warn("error unbinding worker", slog.String("error", err.Error()))
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.Close()
	})
	defer stop()

	bound := BoundPayload{Status: newStatus(s.handler.Status(), s.pid)}
	if bindErr != nil {
		bound.Error = bindErr.Error()
		bound.Invalid = errors.Is(bindErr, scan.ErrInvalidConfig)
	}

	payload, err := encodePayload(bound)
	if err != nil {
		return err
	}
	if err = WriteMessage(s.conn, Message{Type: MessageBound, Payload: payload}, s.ackTimeout); err != nil {
		return fmt.Errorf("error announcing worker: %w", err)
	}

	s.logger.Info("worker announced", slog.String("state", bound.Status.State))

	for {
		m, err := ReadMessage(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || ctx.Err() != nil {
				s.logger.Info("controller detached")
				return nil
			}
			return fmt.Errorf("error reading control message: %w", err)
		}

		done, err := s.dispatch(m)
		s.ack(m, err)

		if done {
			s.logger.Info("controller unbound")
			return nil
		}
	}
}

func (s *Server) dispatch(m Message) (bool, error) {
	s.logger.Debug("control message", slog.String("type", m.Type.String()), slog.Int("seq", int(m.Seq)))

	switch m.Type {
	case MessagePause:
		return false, s.handler.Handle(scan.Pause())

	case MessageConfigure:
		var p ConfigurePayload
		if err := decodePayload(m, &p); err != nil {
			if errors.Is(err, scan.ErrInvalidConfig) {
				return false, err
			}
			return false, fmt.Errorf("%w: %w", scan.ErrInvalidConfig, err)
		}
		return false, s.handler.Handle(scan.Reconfigure(p.Config))

	case MessageStatus:
		return false, nil

	case MessageUnbind:
		return true, s.handler.Unbind()

	default:
		return false, fmt.Errorf("%w: %s", scan.ErrUnknownCommand, m.Type)
	}
}

func (s *Server) ack(m Message, cmdErr error) {
	p := AckPayload{
		Seq:     m.Seq,
		Command: m.Type,
		Status:  newStatus(s.handler.Status(), s.pid),
	}
	if cmdErr != nil {
		p.Error = cmdErr.Error()
		s.logger.Warn("command failed",
			slog.String("type", m.Type.String()),
			slog.String("error", cmdErr.Error()),
		)
	}

	payload, err := encodePayload(p)
	if err != nil {
		s.logger.Error(err.Error())
		return
	}

	if err = WriteMessage(s.conn, Message{Type: MessageAck, Payload: payload}, s.ackTimeout); err != nil {
		s.logger.Debug("error writing ack", slog.String("error", err.Error()))
	}
}
