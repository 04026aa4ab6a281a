package storage

import (
	"context"
)

// Store provides an interface for recording coordinator sessions: the control
// commands sent to the scan worker and the measurements taken from the frame
// stream.
type Store interface {
	// CreateSession records the start of a session and returns its unique
	// identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - engine: Scan engine kind (e.g., "process", "sim")
	//   - frameAddress: Address of the frame channel
	//   - config: Optional initial scan configuration. Can be string, []byte, or JSON-serializable object
	CreateSession(ctx context.Context, engine, frameAddress string, config any) (sessionID int64, err error)

	// EndSession stamps the end time of a session.
	EndSession(ctx context.Context, sessionID int64) error

	// Session retrieves a session by its ID.
	Session(ctx context.Context, id int64) (*SessionData, error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) ([]*SessionData, error)

	// StoreCommand saves a control command and its outcome.
	StoreCommand(ctx context.Context, c *CommandData) (commandID int64, err error)

	// Commands returns the commands of a session in the order they were sent.
	Commands(ctx context.Context, sessionID int64) ([]*CommandData, error)

	// StoreDetections saves detection readouts in a single atomic transaction.
	StoreDetections(ctx context.Context, d []DetectionData) error

	// ReadDetections returns a reader over the detections of a session. The
	// reader must be closed after use.
	ReadDetections(ctx context.Context, sessionID int64, opts ...ReaderOption) (*DetectionReader, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}
