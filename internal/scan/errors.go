package scan

import "errors"

var (
	// ErrInvalidConfig is returned when a configuration is rejected, either
	// structurally or by the engine's supported range.
	ErrInvalidConfig = errors.New("invalid scan configuration")

	// ErrEngineStartFailed is returned when the engine refuses to start. The
	// worker stays Stopped.
	ErrEngineStartFailed = errors.New("scan engine start failed")

	// ErrEngineStopFailed is returned when the engine did not confirm a stop.
	// The worker records Stopped regardless.
	ErrEngineStopFailed = errors.New("scan engine stop failed")

	// ErrNotBound is returned for commands delivered before Bind or after Unbind.
	ErrNotBound = errors.New("scan worker is not bound")

	// ErrAlreadyBound is returned by a second Bind.
	ErrAlreadyBound = errors.New("scan worker is already bound")

	// ErrUnknownCommand is returned for a command kind the worker cannot apply.
	ErrUnknownCommand = errors.New("unknown command")
)
