// Package local implements transport.Transport on a filesystem directory,
// for targets mounted into the local machine.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/BadgerOps/deployer/internal/safety"
	"github.com/BadgerOps/deployer/internal/transport"
)

// Transport writes into Root on an afero filesystem.
type Transport struct {
	fs        afero.Fs
	root      string
	logger    *slog.Logger
	connected bool
}

var _ transport.Transport = (*Transport)(nil)

// New returns a transport rooted at root. A nil fs means the host
// filesystem.
func New(fsys afero.Fs, root string, logger *slog.Logger) *Transport {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		fs:     fsys,
		root:   filepath.Clean(root),
		logger: logger.With("transport", "file", "root", root),
	}
}

// Connect creates the root directory if needed.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.fs.MkdirAll(t.root, 0o755); err != nil {
		return &transport.Error{Op: "connect", Path: t.root, Kind: transport.KindConnection, Err: err}
	}
	t.connected = true
	t.logger.Debug("opened local target")
	return nil
}

// Reconnect reopens the target.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.connected = false
	return t.Connect(ctx)
}

// Close marks the transport closed.
func (t *Transport) Close() error {
	t.connected = false
	return nil
}

func (t *Transport) resolve(ctx context.Context, op, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !t.connected {
		return "", &transport.Error{Op: op, Path: p, Kind: transport.KindDisconnect, Err: errors.New("not connected")}
	}
	if p == "" || p == "." || p == "/" {
		return t.root, nil
	}
	full, err := safety.SafeJoinUnder(t.root, p)
	if err != nil {
		return "", &transport.Error{Op: op, Path: p, Kind: transport.KindPermission, Err: err}
	}
	return full, nil
}

func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	kind := transport.KindFailure
	switch {
	case errors.Is(err, os.ErrNotExist):
		kind = transport.KindNotFound
	case errors.Is(err, os.ErrPermission):
		kind = transport.KindPermission
	}
	return &transport.Error{Op: op, Path: p, Kind: kind, Err: err}
}

// ChangeDir checks that dir exists, creating it when create is set.
func (t *Transport) ChangeDir(ctx context.Context, dir string, create bool) error {
	full, err := t.resolve(ctx, "cwd", dir)
	if err != nil {
		return err
	}
	fi, err := t.fs.Stat(full)
	if err == nil {
		if !fi.IsDir() {
			return &transport.Error{Op: "cwd", Path: dir, Kind: transport.KindFailure, Err: fmt.Errorf("not a directory")}
		}
		return nil
	}
	err = classify("cwd", dir, err)
	if !create || transport.Classify(err) != transport.OutcomeNotFound {
		return err
	}
	return t.MakeDir(ctx, dir)
}

// MakeDir creates dir and any missing parents.
func (t *Transport) MakeDir(ctx context.Context, dir string) error {
	full, err := t.resolve(ctx, "mkdir", dir)
	if err != nil {
		return err
	}
	return classify("mkdir", dir, t.fs.MkdirAll(full, 0o755))
}

// Exists reports whether a regular file exists at p.
func (t *Transport) Exists(ctx context.Context, p string) (bool, error) {
	full, err := t.resolve(ctx, "stat", p)
	if err != nil {
		return false, err
	}
	fi, err := t.fs.Stat(full)
	switch {
	case err == nil:
		return !fi.IsDir(), nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, classify("stat", p, err)
	}
}

// Rename moves from to to, replacing to.
func (t *Transport) Rename(ctx context.Context, from, to string) error {
	src, err := t.resolve(ctx, "rename", from)
	if err != nil {
		return err
	}
	dst, err := t.resolve(ctx, "rename", to)
	if err != nil {
		return err
	}
	return classify("rename", from+" -> "+to, t.fs.Rename(src, dst))
}

// Remove deletes the file at p.
func (t *Transport) Remove(ctx context.Context, p string) error {
	full, err := t.resolve(ctx, "delete", p)
	if err != nil {
		return err
	}
	if _, err := t.fs.Stat(full); err != nil {
		return classify("delete", p, err)
	}
	return classify("delete", p, t.fs.Remove(full))
}

// Download copies p into w.
func (t *Transport) Download(ctx context.Context, p string, w io.Writer, progress transport.ProgressSink) error {
	full, err := t.resolve(ctx, "download", p)
	if err != nil {
		return err
	}
	f, err := t.fs.Open(full)
	if err != nil {
		return classify("download", p, err)
	}
	defer f.Close()

	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	if _, err := io.Copy(transport.NewProgressWriter(w, size, progress), f); err != nil {
		return classify("download", p, err)
	}
	transport.OrNop(progress).Finish()
	return nil
}

// Upload writes src to p, creating parent directories.
func (t *Transport) Upload(ctx context.Context, src io.ReadSeeker, size int64, p string, progress transport.ProgressSink) error {
	full, err := t.resolve(ctx, "upload", p)
	if err != nil {
		return err
	}
	if err := t.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return classify("mkdir", p, err)
	}
	f, err := t.fs.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return classify("upload", p, err)
	}
	if _, err := io.Copy(f, transport.NewProgressReader(src, size, progress)); err != nil {
		f.Close()
		return classify("upload", p, err)
	}
	if err := f.Close(); err != nil {
		return classify("upload", p, err)
	}
	transport.OrNop(progress).Finish()
	return nil
}

// SetPermissions applies the permission bits of mode to p.
func (t *Transport) SetPermissions(ctx context.Context, p string, mode fs.FileMode) error {
	full, err := t.resolve(ctx, "chmod", p)
	if err != nil {
		return err
	}
	return classify("chmod", p, t.fs.Chmod(full, mode.Perm()))
}
