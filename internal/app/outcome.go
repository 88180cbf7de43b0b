package app

import (
	"radioftp/internal/engine"
)

// Result is how a receive loop ended
type Result int

const (
	// ResultCompleted means a transfer was applied.
	ResultCompleted Result = iota
	// ResultAborted means the loop was stopped before an apply.
	ResultAborted
	// ResultFatal means the radio could not be used.
	ResultFatal
)

func (r Result) String() string {
	switch r {
	case ResultCompleted:
		return "COMPLETED"
	case ResultAborted:
		return "ABORTED"
	case ResultFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Outcome is returned by ReceiverApp.Run in place of exiting the process.
type Outcome struct {
	Result     Result
	Completion engine.Completion
	// Artifact is the applied file on disk, when the store keeps one.
	Artifact   string
	SHA256     string
	ArchiveURI string
	Err        error
}

// ExitCode maps the outcome to a process status.
func (o Outcome) ExitCode() int {
	if o.Result == ResultCompleted {
		return 0
	}
	return 1
}
