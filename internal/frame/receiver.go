package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ReadBackoff is the pause after a failed read before the channel is read
// again.
const ReadBackoff = 10 * time.Millisecond

// Batch is the result of a non-blocking Take: the most recent frame and the
// number of frames that arrived since the previous Take.
type Batch struct {
	Latest Frame
	Count  int
}

// Empty reports whether no frame arrived since the previous Take.
func (b Batch) Empty() bool {
	return b.Count == 0
}

// ReceiverStats counts what the receive loop saw.
type ReceiverStats struct {
	// Received is the number of valid frames.
	Received uint64

	// Dropped is the number of frames overwritten before anyone consumed them.
	Dropped uint64

	// Invalid is the number of datagrams that failed to decode.
	Invalid uint64
}

// WithReceiverLogger sets the logger for the receiver
func WithReceiverLogger(logger *slog.Logger) func(r *Receiver) {
	return func(r *Receiver) {
		r.logger = logger.With(slog.String("component", "frame-receiver"))
	}
}

// WithTap registers fn to observe every decoded frame, in arrival order, on
// the receive goroutine. fn must not block.
func WithTap(fn func(f Frame)) func(r *Receiver) {
	return func(r *Receiver) {
		r.taps = append(r.taps, fn)
	}
}

// WithReadBackoff sets the pause after a failed read
func WithReadBackoff(d time.Duration) func(r *Receiver) {
	return func(r *Receiver) {
		r.readBackoff = d
	}
}

// Receiver is the renderer end of the frame channel. It binds the channel
// address and keeps only the most recent frame: a frame not consumed before
// the next one arrives is dropped.
type Receiver struct {
	path string
	conn io.ReadCloser

	mu      sync.Mutex
	latest  Frame
	pending int
	notify  chan struct{}

	received atomic.Uint64
	dropped  atomic.Uint64
	invalid  atomic.Uint64

	taps []func(f Frame)

	readBackoff time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	logger *slog.Logger
}

// Open binds the frame channel at path and starts receiving.
func Open(path string, options ...func(r *Receiver)) (*Receiver, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty address", ErrChannelUnavailable)
	}

	r := Receiver{
		path:   path,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		readBackoff: ReadBackoff,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	// a previous session that crashed may have left its socket behind
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&fs.ModeSocket != 0 {
		_ = os.Remove(path)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}

	r.conn = conn

	r.wg.Add(1)
	go r.receive()

	r.logger.Info("frame channel open", slog.String("address", path))

	return &r, nil
}

// Address returns the bound socket path.
func (r *Receiver) Address() string {
	return r.path
}

func (r *Receiver) receive() {
	defer r.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			select {
			case <-r.done:
				return
			default:
			}

			r.logger.Warn("error reading frame channel", slog.String("error", err.Error()))

			select {
			case <-r.done:
				return
			case <-time.After(r.readBackoff):
			}
			continue
		}

		f, err := Decode(buf[:n])
		if err != nil {
			r.invalid.Add(1)
			r.logger.Debug("skipping datagram", slog.String("error", err.Error()))
			continue
		}

		r.received.Add(1)

		for _, tap := range r.taps {
			tap(f)
		}

		r.mu.Lock()
		if r.pending > 0 {
			r.dropped.Add(1)
		}
		r.latest = f
		r.pending++
		r.mu.Unlock()

		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
}

// Take returns the latest frame and the number of frames received since the
// previous Take or Next, without blocking.
func (r *Receiver) Take() Batch {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := Batch{Latest: r.latest, Count: r.pending}

	r.latest = Frame{}
	r.pending = 0

	return b
}

// Next waits for a frame. It returns false when ctx is done or the receiver
// is closed before a frame arrives.
func (r *Receiver) Next(ctx context.Context) (Frame, bool) {
	for {
		if b := r.Take(); !b.Empty() {
			return b.Latest, true
		}

		select {
		case <-r.notify:
		case <-ctx.Done():
			return Frame{}, false
		case <-r.done:
			return Frame{}, false
		}
	}
}

// Stats returns the receive counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Received: r.received.Load(),
		Dropped:  r.dropped.Load(),
		Invalid:  r.invalid.Load(),
	}
}

// Close stops receiving and removes the socket file.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)

		var errs []error
		if err := r.conn.Close(); err != nil {
			errs = append(errs, err)
		}

		r.wg.Wait()

		if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}

		r.closeErr = errors.Join(errs...)
	})

	return r.closeErr
}
