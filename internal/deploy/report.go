package deploy

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is the final state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusUpToDate  Status = "up-to-date"
	StatusDryRun    Status = "dry-run"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Report summarizes one run.
type Report struct {
	Target    string
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Error     string

	Uploaded    []string
	Removed     []string
	Renamed     []string
	KeptSkipped []string
	Unsafe      []string

	BytesUploaded int64
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Summary renders a one-line description of the run.
func (r *Report) Summary() string {
	switch r.Status {
	case StatusUpToDate:
		return "Remote is up to date"
	case StatusAborted:
		return "Deployer aborted"
	case StatusDryRun:
		return fmt.Sprintf("Dry run: %d to upload (%s), %d to remove",
			len(r.Uploaded), humanize.Bytes(uint64(r.BytesUploaded)), len(r.Removed))
	}
	s := fmt.Sprintf("%d uploaded (%s), %d removed, %d renamed",
		len(r.Uploaded), humanize.Bytes(uint64(r.BytesUploaded)), len(r.Removed), len(r.Renamed))
	if len(r.KeptSkipped) > 0 {
		s += fmt.Sprintf(", %d kept", len(r.KeptSkipped))
	}
	return fmt.Sprintf("%s in %s", s, r.Duration().Round(time.Millisecond))
}
