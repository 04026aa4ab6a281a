package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands (session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_detections_session ON detections (session_id, timestamp);`

	insertSessionSQL = `
INSERT INTO sessions (
                      start_time,
                      engine,
                      frame_address,
                      config)
VALUES (?, ?, ?, ?)`

	endSessionSQL = `
UPDATE sessions
SET end_time = ?
WHERE
    id = ?`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    end_time,
    engine,
    frame_address,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    end_time,
    engine,
    frame_address,
    config
FROM sessions
ORDER BY start_time, id`

	insertCommandSQL = `
INSERT INTO commands (session_id,
                      timestamp,
                      seq,
                      command,
                      config,
                      state,
                      error)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectCommandsSQL = `
SELECT
    id,
    session_id,
    timestamp,
    seq,
    command,
    config,
    state,
    error
FROM commands
WHERE
    session_id = ?
ORDER BY id`

	insertDetectionSQL = `
INSERT INTO detections (
    session_id,
    timestamp,
    center_freq,
    scan_rate,
    bluetooth_power,
    pulse_freq
)
VALUES `

	selectDetectionsSQL = `
SELECT
    id,
    session_id,
    timestamp,
    center_freq,
    scan_rate,
    bluetooth_power,
    pulse_freq
FROM detections
WHERE
    session_id = ?
    AND id > ?`
)
