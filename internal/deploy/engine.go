// Package deploy computes what changed between the local tree and the
// remote manifest and applies those changes through a transport.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BadgerOps/deployer/internal/changelog"
	"github.com/BadgerOps/deployer/internal/filter"
	"github.com/BadgerOps/deployer/internal/inventory"
	"github.com/BadgerOps/deployer/internal/manifest"
	"github.com/BadgerOps/deployer/internal/transport"
)

// ErrAborted is returned when the user declines to apply the changes.
var ErrAborted = errors.New("deployment aborted by user")

// Phase labels shown while applying changes.
const (
	PhaseObjects  = "Getting object list"
	PhaseUpload   = "Uploading"
	PhaseRemove   = "Removing redundant files"
	PhaseRename   = "Renaming successfully uploaded files"
	PhaseManifest = "Updating object list"
	PhaseLog      = "Logging changes"
)

// Options control a single run. They are fixed for the life of an Engine.
type Options struct {
	DryRun       bool
	Confirm      bool
	LogEnabled   bool
	ManifestPath string
	LogPath      string
	Rules        *filter.Rules
	// Target names the remote in history records.
	Target string
}

func (o Options) withDefaults() Options {
	if o.ManifestPath == "" {
		o.ManifestPath = manifest.DefaultPath
	}
	if o.LogPath == "" {
		o.LogPath = changelog.DefaultPath
	}
	o.Rules = o.Rules.Ignoring(o.ManifestPath, o.LogPath)
	return o
}

// Plan is the diff computed at the start of a run.
type Plan struct {
	Local   manifest.Manifest
	Remote  manifest.Manifest
	Changes ChangeSet
}

// Engine drives one deployment over a connected transport.
type Engine struct {
	transport transport.Transport
	inventory *inventory.Inventory
	ui        Frontend
	history   History
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an engine. history may be nil.
func NewEngine(t transport.Transport, inv *inventory.Inventory, ui Frontend, history History, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		transport: t,
		inventory: inv,
		ui:        ui,
		history:   history,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// Plan scans the local tree, downloads the remote manifest and diffs them.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	local, err := LocalManifest(ctx, e.inventory, e.opts.Rules)
	if err != nil {
		return nil, err
	}
	remote, err := manifest.Load(ctx, e.transport, e.opts.ManifestPath, e.ui.Progress(PhaseObjects))
	if err != nil {
		return nil, err
	}
	changes := Diff(local, remote, e.opts.Rules)
	for _, p := range changes.Unsafe {
		e.logger.Warn("ignoring manifest entry outside the remote root", "path", p)
	}
	e.logger.Info("deployment planned", "source", e.inventory.Root(),
		"local_files", len(local), "remote_files", len(remote),
		"updated", len(changes.Updated), "redundant", len(changes.Redundant))
	return &Plan{Local: local, Remote: remote, Changes: changes}, nil
}

// Run plans the deployment, shows it, asks for confirmation and applies it.
// The returned report is always non-nil.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{Target: e.opts.Target, StartTime: e.now()}

	plan, err := e.Plan(ctx)
	if err != nil {
		return e.finish(report, StatusFailed, err)
	}
	report.Unsafe = plan.Changes.Unsafe
	e.show(plan.Changes)

	if plan.Changes.Empty() {
		e.ui.Notice("Nothing to do.")
		return e.finish(report, StatusUpToDate, nil)
	}

	if e.opts.DryRun {
		report.Uploaded = plan.Changes.UpdatedPaths()
		report.Removed = plan.Changes.Redundant
		report.BytesUploaded = e.plannedBytes(report.Uploaded)
		return e.finish(report, StatusDryRun, nil)
	}

	if e.opts.Confirm && !e.ui.Ask("Do you want to apply these changes?") {
		return e.finish(report, StatusAborted, ErrAborted)
	}

	err = e.Apply(ctx, plan, report)
	if err != nil {
		return e.finish(report, StatusFailed, err)
	}
	return e.finish(report, StatusCompleted, nil)
}

func (e *Engine) show(cs ChangeSet) {
	if len(cs.Updated) > 0 {
		e.ui.Notice("Files to be uploaded:")
		e.ui.Write(strings.Join(cs.UpdatedPaths(), "\n"))
	} else {
		e.ui.Notice("No files to be uploaded.")
	}
	if len(cs.Redundant) > 0 {
		e.ui.Notice("Files to be deleted:")
		e.ui.Write(strings.Join(cs.Redundant, "\n"))
	}
}

func (e *Engine) plannedBytes(paths []string) int64 {
	var total int64
	for _, p := range paths {
		if rec, ok := e.inventory.Lookup(p); ok {
			total += rec.Size
		}
	}
	return total
}

func (e *Engine) finish(report *Report, status Status, err error) (*Report, error) {
	report.Status = status
	report.EndTime = e.now()
	if err != nil {
		report.Error = err.Error()
	}
	if e.history != nil {
		if herr := e.history.RecordRun(report); herr != nil {
			e.logger.Warn("failed to record run history", "error", herr)
		}
	}
	e.logger.Info("deployment finished", "status", status, "duration", report.Duration())
	return report, err
}

// Apply uploads, deletes and renames as planned, then rewrites the manifest
// and appends to the change log. Nothing is rolled back on failure; the next
// run recomputes the diff from whatever made it through.
func (e *Engine) Apply(ctx context.Context, plan *Plan, report *Report) error {
	updated := plan.Changes.UpdatedPaths()

	if len(updated) > 0 {
		e.ui.Notice(PhaseUpload + " new files...")
		for _, p := range updated {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := e.upload(ctx, p)
			if err != nil {
				return err
			}
			report.Uploaded = append(report.Uploaded, p)
			report.BytesUploaded += n
		}
	}

	if len(plan.Changes.Redundant) > 0 {
		e.ui.Notice(PhaseRemove + "...")
		for _, p := range plan.Changes.Redundant {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.ui.Write(fmt.Sprintf("Removing %s...", p))
			err := e.transport.Remove(ctx, p)
			switch transport.Classify(err) {
			case transport.OutcomeNotFound:
				e.logger.Debug("redundant file already gone", "path", p)
			case transport.OutcomeFailure:
				return fmt.Errorf("removing %s: %w", p, err)
			}
			report.Removed = append(report.Removed, p)
		}
	}

	if err := e.renameAll(ctx, updated, report); err != nil {
		return err
	}

	if err := manifest.Store(ctx, e.transport, e.opts.ManifestPath, plan.Local, e.ui.Progress(PhaseManifest)); err != nil {
		return err
	}

	entry := changelog.Entry{Time: e.now(), Updated: updated, Removed: plan.Changes.Redundant}
	if e.opts.LogEnabled && !entry.Empty() {
		e.ui.Notice(PhaseLog + "...")
		if err := changelog.Append(ctx, e.transport, e.opts.LogPath, entry, nil); err != nil {
			return err
		}
	}
	return nil
}

// upload sends one local file to its temporary name and copies its
// permission bits.
func (e *Engine) upload(ctx context.Context, p string) (int64, error) {
	rec, ok := e.inventory.Lookup(p)
	if !ok {
		return 0, fmt.Errorf("uploading %s: not in local inventory", p)
	}
	f, err := e.inventory.Open(p)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	tmp := transport.SafeName(p)
	if err := e.transport.Upload(ctx, f, rec.Size, tmp, e.ui.Progress(p)); err != nil {
		return 0, fmt.Errorf("uploading %s: %w", p, err)
	}
	if err := e.transport.SetPermissions(ctx, tmp, rec.Mode.Perm()); err != nil {
		return 0, fmt.Errorf("setting permissions on %s: %w", tmp, err)
	}
	e.logger.Debug("uploaded", "path", p, "bytes", rec.Size)
	return rec.Size, nil
}

// renameAll moves every uploaded file over its final name. A kept path whose
// final name already exists is left alone, with its temporary upload in
// place beside it.
func (e *Engine) renameAll(ctx context.Context, updated []string, report *Report) error {
	if len(updated) == 0 {
		return nil
	}
	sink := transport.OrNop(e.ui.Progress(PhaseRename))
	for i, p := range updated {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.opts.Rules.IsKept(p) {
			exists, err := e.transport.Exists(ctx, p)
			if err != nil {
				return fmt.Errorf("checking kept file %s: %w", p, err)
			}
			if exists {
				e.logger.Info("keeping existing remote file", "path", p, "orphan", transport.SafeName(p))
				report.KeptSkipped = append(report.KeptSkipped, p)
				sink.SetValue(transport.Percent(int64(i+1), int64(len(updated))))
				continue
			}
		}
		if err := e.transport.Rename(ctx, transport.SafeName(p), p); err != nil {
			return fmt.Errorf("renaming %s: %w", p, err)
		}
		report.Renamed = append(report.Renamed, p)
		sink.SetValue(transport.Percent(int64(i+1), int64(len(updated))))
	}
	sink.Finish()
	return nil
}
