package scan

// Engine is the native spectral scanner. The worker is its only caller and
// never calls it concurrently.
//
// Start begins emitting frames to the frame channel at address. Stop must
// not return before frame emission has ceased; calling Stop on a stopped
// engine is a no-op.
type Engine interface {
	Start(c Config, address string) error
	Stop() error
}

// RangeChecker is implemented by engines that can tell whether a
// configuration is within the range the hardware supports.
type RangeChecker interface {
	CheckRange(c Config) error
}
