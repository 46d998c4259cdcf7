// Package detector answers "is this server process running" without
// touching supervisor state.
package detector

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Locator is a Detector that can also report the PID it found.
type Locator interface {
	Detector
	// Locate returns the PID of a matching process, or 0 when none runs.
	Locate() (int, error)
}
