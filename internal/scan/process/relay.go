package process

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/roman-kulish/spectral-scan/internal/frame"
	"github.com/roman-kulish/spectral-scan/internal/scan"
)

// relay sits between the helper and the frame channel. The helper writes to
// the relay socket; datagrams the scanner left without a center frequency
// are tagged before they are forwarded.
type relay struct {
	path    string
	conn    *net.UnixConn
	emitter *frame.Emitter

	// freq is 0 when the scan hops, the hop is not known then
	freq   uint16
	tagged atomic.Uint64

	done   chan struct{}
	logger *slog.Logger
}

// startRelay opens a relay socket next to the frame channel at target.
func startRelay(target string, c scan.Config, logger *slog.Logger) (*relay, error) {
	path, err := frame.NewAddress(filepath.Dir(target))
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("error opening relay socket: %w", err)
	}

	emitter, err := frame.StartEmitting(target, frame.WithEmitterLogger(logger))
	if err != nil {
		_ = conn.Close()
		_ = os.Remove(path)
		return nil, err
	}

	r := relay{
		path:    path,
		conn:    conn,
		emitter: emitter,
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("relay", path)),
	}
	if freqs := c.Frequencies(); len(freqs) == 1 {
		r.freq = uint16(freqs[0])
	}

	go r.run()

	return &r, nil
}

func (r *relay) run() {
	defer close(r.done)

	buf := make([]byte, frame.MaxDatagramSize)
	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Error("error reading scan process frames", slog.String("error", err.Error()))
			}
			return
		}

		b := buf[:n]
		if r.freq != 0 && frame.TagCenterFreq(b, r.freq) {
			r.tagged.Add(1)
		}

		// undelivered frames are counted by the emitter
		_ = r.emitter.Forward(b)
	}
}

// close stops relaying and removes the relay socket.
func (r *relay) close() error {
	err := r.conn.Close()
	<-r.done

	stats := r.emitter.Stats()
	r.logger.Debug("relay closed",
		slog.Uint64("sent", stats.Sent),
		slog.Uint64("dropped", stats.Dropped),
		slog.Uint64("tagged", r.tagged.Load()),
	)

	if rmErr := os.Remove(r.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}

	return errors.Join(err, r.emitter.Close())
}
