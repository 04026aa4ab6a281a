package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxBatchSize is the number of detections stored within a single
	// database transaction.
	MaxBatchSize = 100

	// DetectionInterval is the minimum time between two recorded detections.
	DetectionInterval = 250 * time.Millisecond

	// FlushInterval bounds how long a detection waits in the batch.
	FlushInterval = time.Second

	recorderQueueSize = 256
)

// WithMaxBatchSize sets the maximum number of detections to store within a
// single database transaction.
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		r.maxBatchSize = size
	}
}

// WithDetectionInterval sets the minimum time between recorded detections
func WithDetectionInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.detectionInterval = d
	}
}

// WithFlushInterval sets how often a partial batch is stored
func WithFlushInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

type record struct {
	command   *CommandData
	detection *DetectionData
}

// Recorder writes the commands and detections of one session in the
// background. Record calls never block: when the queue is full the record
// is dropped.
type Recorder struct {
	store     Store
	sessionID int64

	records chan record
	wg      sync.WaitGroup

	mu            sync.Mutex
	lastDetection time.Time
	closed        bool

	dropped atomic.Uint64

	maxBatchSize      int
	detectionInterval time.Duration
	flushInterval     time.Duration
	logger            *slog.Logger
}

// NewRecorder starts recording into the session sessionID of store.
func NewRecorder(store Store, sessionID int64, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:             store,
		sessionID:         sessionID,
		records:           make(chan record, recorderQueueSize),
		maxBatchSize:      MaxBatchSize,
		detectionInterval: DetectionInterval,
		flushInterval:     FlushInterval,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	r.wg.Add(1)
	go r.run()

	return &r
}

// SessionID returns the session being recorded.
func (r *Recorder) SessionID() int64 {
	return r.sessionID
}

// RecordCommand queues a control command.
func (r *Recorder) RecordCommand(c CommandData) {
	c.SessionID = r.sessionID
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}

	r.enqueue(record{command: &c})
}

// RecordDetection queues a detection unless one was recorded less than the
// detection interval ago.
func (r *Recorder) RecordDetection(d DetectionData) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	r.mu.Lock()
	if !r.lastDetection.IsZero() && d.Timestamp.Sub(r.lastDetection) < r.detectionInterval {
		r.mu.Unlock()
		return
	}
	r.lastDetection = d.Timestamp
	r.mu.Unlock()

	d.SessionID = r.sessionID
	r.enqueue(record{detection: &d})
}

// Dropped returns the number of records lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(rec record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.records <- rec:
	default:
		r.dropped.Add(1)
	}
}

// Close stores everything queued and ends the session.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.records)
	r.mu.Unlock()

	r.wg.Wait()

	if n := r.dropped.Load(); n > 0 {
		r.logger.Warn("records dropped", slog.Uint64("count", n))
	}

	return r.store.EndSession(context.Background(), r.sessionID)
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]DetectionData, 0, r.maxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.StoreDetections(context.Background(), batch); err != nil {
			r.logger.Error("error storing detections",
				slog.Int("count", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-r.records:
			if !ok {
				flush()
				return
			}

			if rec.command != nil {
				if _, err := r.store.StoreCommand(context.Background(), rec.command); err != nil {
					r.logger.Error("error storing command",
						slog.String("command", rec.command.Command),
						slog.String("error", err.Error()),
					)
				}
				continue
			}

			batch = append(batch, *rec.detection)
			if len(batch) >= r.maxBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}
