package deploy

import "github.com/BadgerOps/deployer/internal/transport"

// Output receives user-facing messages.
type Output interface {
	Notice(msg string)
	Error(msg string)
	Write(msg string)
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Ask(question string) bool
}

// Frontend is everything the engine needs from the user interface.
type Frontend interface {
	Output
	Confirmer
	// Progress starts a progress display for one transfer or phase.
	Progress(label string) transport.ProgressSink
}

// History stores the outcome of each run.
type History interface {
	RecordRun(r *Report) error
}
