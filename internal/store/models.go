package store

import "time"

// DeployRun records one deployer execution against a target
type DeployRun struct {
	ID            int64
	RunID         string // uuid shown to users
	Target        string // protocol://user@host/path
	StartTime     time.Time
	EndTime       time.Time
	Status        string // "completed", "up-to-date", "dry-run", "aborted", "failed"
	FilesUploaded int
	FilesRemoved  int
	FilesRenamed  int
	FilesKept     int
	BytesUploaded int64
	ErrorMessage  string
}

// Duration returns the wall time of the run
func (r DeployRun) Duration() time.Duration {
	if r.EndTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// File actions recorded per run
const (
	ActionUpload = "upload"
	ActionRemove = "remove"
	ActionKeep   = "keep"
	ActionUnsafe = "unsafe"
)

// RunFile is one path touched (or deliberately skipped) by a run
type RunFile struct {
	ID          int64
	DeployRunID int64
	Path        string
	Action      string
}
