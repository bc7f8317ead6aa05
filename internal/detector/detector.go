package detector

// Detector is a strategy that determines whether the capture process is
// running. Implementations may check the PID file, a PID number, or run a
// probe command. Implementations must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the capture process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
