package storage

import (
	"database/sql"
	"time"
)

// SessionData is one run of the coordinator.
type SessionData struct {
	ID           int64
	StartTime    time.Time
	EndTime      sql.NullTime
	Engine       string
	FrameAddress string
	Config       sql.NullString
}

// CommandData is a control command sent to the worker and its outcome.
type CommandData struct {
	ID        int64
	SessionID int64
	Timestamp time.Time
	Seq       int64
	Command   string
	Config    sql.NullString
	State     sql.NullString
	Error     sql.NullString
}

// DetectionData is a measurement readout taken by the render loop.
type DetectionData struct {
	ID             int64
	SessionID      int64
	Timestamp      time.Time
	CenterFreq     int64
	ScanRate       int64
	BluetoothPower sql.NullFloat64
	PulseFreq      sql.NullFloat64
}
