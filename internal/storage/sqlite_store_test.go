package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "session.db"))
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSqliteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	config := map[string]any{"frequencies": []int{2412}, "resolution": 7}

	id, err := s.CreateSession(ctx, "sim", "/tmp/frames.sock", config)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err = s.CreateSession(ctx, "process", "/tmp/other.sock", nil); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err = s.EndSession(ctx, id); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	sess, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if sess.Engine != "sim" || sess.FrameAddress != "/tmp/frames.sock" {
		t.Errorf("unexpected session %+v", sess)
	}
	if !sess.Config.Valid || sess.Config.String != `{"frequencies":[2412],"resolution":7}` {
		t.Errorf("unexpected config %+v", sess.Config)
	}
	if !sess.EndTime.Valid {
		t.Error("Expected the session to be ended")
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[1].Config.Valid || sessions[1].EndTime.Valid {
		t.Errorf("Expected no config and no end time, got %+v", sessions[1])
	}
}

func TestSqliteStore_Commands(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateSession(ctx, "sim", "/tmp/frames.sock", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i, c := range []CommandData{
		{SessionID: id, Timestamp: time.Now(), Seq: 1, Command: "PAUSE", State: NullString("stopped")},
		{SessionID: id, Timestamp: time.Now(), Seq: 2, Command: "CONFIGURE", Config: NullString("freqs=2437"), Error: NullString("invalid")},
	} {
		if _, err := s.StoreCommand(ctx, &c); err != nil {
			t.Fatalf("StoreCommand %d failed: %v", i, err)
		}
	}

	commands, err := s.Commands(ctx, id)
	if err != nil {
		t.Fatalf("Commands failed: %v", err)
	}
	if len(commands) != 2 {
		t.Fatalf("Expected 2 commands, got %d", len(commands))
	}
	if commands[0].Command != "PAUSE" || commands[0].State.String != "stopped" || commands[0].Error.Valid {
		t.Errorf("unexpected first command %+v", commands[0])
	}
	if commands[1].Seq != 2 || commands[1].Error.String != "invalid" {
		t.Errorf("unexpected second command %+v", commands[1])
	}
}

func TestSqliteStore_ReadDetections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateSession(ctx, "sim", "/tmp/frames.sock", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	start := time.Now().UTC().Truncate(time.Second)
	var detections []DetectionData
	for i := 0; i < 25; i++ {
		freq := int64(2412)
		if i%2 == 1 {
			freq = 5180
		}
		detections = append(detections, DetectionData{
			SessionID:      id,
			Timestamp:      start.Add(time.Duration(i) * time.Second),
			CenterFreq:     freq,
			ScanRate:       int64(100 + i),
			BluetoothPower: NullFloat(-60),
			PulseFreq:      NullFloat(math.NaN()),
		})
	}

	if err = s.StoreDetections(ctx, detections); err != nil {
		t.Fatalf("StoreDetections failed: %v", err)
	}

	tests := []struct {
		name string
		opts []ReaderOption
		want int
	}{
		{name: "all", opts: []ReaderOption{WithBatchSize(4)}, want: 25},
		{name: "frequency", opts: []ReaderOption{WithFreqRange(5000, 6000), WithBatchSize(5)}, want: 12},
		{name: "time", opts: []ReaderOption{WithStartTime(start.Add(10 * time.Second)), WithEndTime(start.Add(19 * time.Second))}, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := s.ReadDetections(ctx, id, tt.opts...)
			if err != nil {
				t.Fatalf("ReadDetections failed: %v", err)
			}
			defer r.Close()

			var n int
			var lastID int64
			for r.Next(ctx) {
				d := r.Current()
				if d.ID <= lastID {
					t.Fatalf("detections out of order: %d after %d", d.ID, lastID)
				}
				if d.PulseFreq.Valid || !d.BluetoothPower.Valid {
					t.Fatalf("unexpected readout %+v", d)
				}
				lastID = d.ID
				n++
			}
			if err := r.Error(); err != nil {
				t.Fatalf("reader failed: %v", err)
			}
			if n != tt.want {
				t.Errorf("Expected %d detections, got %d", tt.want, n)
			}
		})
	}

	if _, err := s.ReadDetections(ctx, id+100); err == nil {
		t.Error("Expected an error for an unknown session")
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateSession(ctx, "sim", "/tmp/frames.sock", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	r := NewRecorder(s, id, WithMaxBatchSize(3), WithDetectionInterval(100*time.Millisecond))

	r.RecordCommand(CommandData{Seq: 1, Command: "PAUSE"})

	start := time.Now()
	for i := 0; i < 10; i++ {
		// every other detection falls within the throttle interval
		r.RecordDetection(DetectionData{
			Timestamp:  start.Add(time.Duration(i) * 50 * time.Millisecond),
			CenterFreq: 2437,
			ScanRate:   200,
		})
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// records after close are dropped
	r.RecordCommand(CommandData{Seq: 2, Command: "PAUSE"})
	if r.Dropped() != 1 {
		t.Errorf("Expected 1 dropped record, got %d", r.Dropped())
	}

	commands, err := s.Commands(ctx, id)
	if err != nil {
		t.Fatalf("Commands failed: %v", err)
	}
	if len(commands) != 1 || commands[0].SessionID != id {
		t.Errorf("unexpected commands %+v", commands)
	}

	dr, err := s.ReadDetections(ctx, id)
	if err != nil {
		t.Fatalf("ReadDetections failed: %v", err)
	}
	defer dr.Close()

	var n int
	for dr.Next(ctx) {
		n++
	}
	if n != 5 {
		t.Errorf("Expected 5 detections, got %d", n)
	}

	sess, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !sess.EndTime.Valid {
		t.Error("Expected Close to end the session")
	}
}
