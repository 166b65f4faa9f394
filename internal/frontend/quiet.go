package frontend

import (
	"fmt"
	"io"

	"github.com/BadgerOps/deployer/internal/transport"
)

// Quiet prints nothing but errors and approves every question.
type Quiet struct {
	errOut io.Writer
}

// NewQuiet creates a frontend that only writes errors to errOut.
func NewQuiet(errOut io.Writer) *Quiet {
	return &Quiet{errOut: errOut}
}

func (q *Quiet) Notice(string) {}

func (q *Quiet) Write(string) {}

func (q *Quiet) Error(msg string) {
	fmt.Fprintln(q.errOut, "Error: "+msg)
}

func (q *Quiet) Ask(string) bool { return true }

func (q *Quiet) Progress(string) transport.ProgressSink { return transport.NopProgress{} }
