package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DefaultBatchSize is the number of detections a reader fetches per query.
const DefaultBatchSize = 500

// ReaderOption configures a DetectionReader with specific filtering criteria.
type ReaderOption func(*DetectionReader)

// WithStartTime excludes detections taken before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *DetectionReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes detections taken after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *DetectionReader) {
		r.endTime = &t
	}
}

// WithFreqRange keeps detections whose center frequency (MHz) is within
// [minFreq, maxFreq].
func WithFreqRange(minFreq, maxFreq int64) ReaderOption {
	return func(r *DetectionReader) {
		r.minFreq = &minFreq
		r.maxFreq = &maxFreq
	}
}

// WithBatchSize sets how many rows are fetched per query.
func WithBatchSize(size int) ReaderOption {
	return func(r *DetectionReader) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// DetectionReader iterates over the detections of a session in insertion
// order. It is not safe for concurrent use.
type DetectionReader struct {
	db      *sql.DB
	session *SessionData

	startTime *time.Time
	endTime   *time.Time
	minFreq   *int64
	maxFreq   *int64
	batchSize int

	buf     []DetectionData
	current *DetectionData
	lastID  int64
	done    bool
	err     error
}

func newDetectionReader(db *sql.DB, session *SessionData, opts ...ReaderOption) *DetectionReader {
	r := &DetectionReader{
		db:        db,
		session:   session,
		batchSize: DefaultBatchSize,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Session returns the session the reader is reading from.
func (r *DetectionReader) Session() *SessionData {
	return r.session
}

// Next advances to the next detection. It returns false when all
// detections were read or an error occurred; check Error to tell them apart.
func (r *DetectionReader) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}

	if len(r.buf) == 0 {
		if r.done {
			return false
		}
		if r.err = r.fetch(ctx); r.err != nil || len(r.buf) == 0 {
			return false
		}
	}

	r.current = &r.buf[0]
	r.buf = r.buf[1:]
	return true
}

// Current returns the detection Next advanced to.
func (r *DetectionReader) Current() *DetectionData {
	return r.current
}

// Error returns the error that stopped the iteration, if any.
func (r *DetectionReader) Error() error {
	return r.err
}

// Close releases the buffered rows. The reader cannot be used afterwards.
func (r *DetectionReader) Close() error {
	r.buf = nil
	r.current = nil
	r.done = true
	return nil
}

func (r *DetectionReader) fetch(ctx context.Context) (err error) {
	query, args := r.buildQuery()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying detections: %w", err)
	}
	defer closeWithError(rows, &err)

	r.buf = make([]DetectionData, 0, r.batchSize)
	for rows.Next() {
		var d DetectionData
		if err = rows.Scan(&d.ID, &d.SessionID, &d.Timestamp, &d.CenterFreq, &d.ScanRate, &d.BluetoothPower, &d.PulseFreq); err != nil {
			return fmt.Errorf("scanning detection: %w", err)
		}
		r.buf = append(r.buf, d)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("reading detections: %w", err)
	}

	if len(r.buf) < r.batchSize {
		r.done = true
	}
	if len(r.buf) > 0 {
		r.lastID = r.buf[len(r.buf)-1].ID
	}

	return nil
}

func (r *DetectionReader) buildQuery() (string, []any) {
	var sb strings.Builder
	sb.WriteString(selectDetectionsSQL)

	args := []any{r.session.ID, r.lastID}

	if r.startTime != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, r.startTime.UTC())
	}
	if r.endTime != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, r.endTime.UTC())
	}
	if r.minFreq != nil {
		sb.WriteString(" AND center_freq >= ?")
		args = append(args, *r.minFreq)
	}
	if r.maxFreq != nil {
		sb.WriteString(" AND center_freq <= ?")
		args = append(args, *r.maxFreq)
	}

	sb.WriteString(" ORDER BY id LIMIT ?")
	args = append(args, r.batchSize)

	return sb.String(), args
}
