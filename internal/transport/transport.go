package transport

import (
	"context"
	"io"
	"io/fs"
	"path"
)

// SafeSuffix is appended to the file name of an upload that must not be
// visible at its final path until it has been fully written.
const SafeSuffix = ".new"

// ProgressSink receives percentage updates for a single transfer or phase.
type ProgressSink interface {
	SetValue(percent int)
	Finish()
}

// Transport is a stateful session to a remote file store rooted at a
// configured directory. All paths are relative to that root and
// slash-separated. Every operation leaves the session positioned at the root.
type Transport interface {
	// Connect opens and authenticates the session.
	Connect(ctx context.Context) error

	// Reconnect drops the current session, if any, and connects again.
	Reconnect(ctx context.Context) error

	// Close ends the session. It is safe to call on a closed transport.
	Close() error

	// ChangeDir enters dir. When create is set and the server reports that
	// dir does not exist, it is created first. Permission errors are never
	// treated as absence.
	ChangeDir(ctx context.Context, dir string, create bool) error

	// MakeDir creates dir one segment at a time, tolerating segments that
	// already exist.
	MakeDir(ctx context.Context, dir string) error

	// Exists reports whether a file exists at p.
	Exists(ctx context.Context, p string) (bool, error)

	// Rename moves from to to, replacing to if it exists.
	Rename(ctx context.Context, from, to string) error

	// Remove deletes the file at p. It fails with ErrNotFound if p is absent.
	Remove(ctx context.Context, p string) error

	// Download streams the file at p into w. It fails with ErrNotFound if
	// p is absent. progress may be nil.
	Download(ctx context.Context, p string, w io.Writer, progress ProgressSink) error

	// Upload writes src to p in binary mode, creating parent directories as
	// needed. size is the declared length of src, or -1 when unknown.
	// progress may be nil.
	Upload(ctx context.Context, src io.ReadSeeker, size int64, p string, progress ProgressSink) error

	// SetPermissions applies the permission bits of mode to p.
	SetPermissions(ctx context.Context, p string, mode fs.FileMode) error
}

// SafeName returns the temporary name used for a safe upload of p. The
// suffix is appended to the file name component only.
func SafeName(p string) string {
	dir, file := path.Split(p)
	return dir + file + SafeSuffix
}

// Join resolves the relative path p under root, returning an absolute
// slash-separated path.
func Join(root, p string) string {
	if root == "" {
		root = "/"
	}
	return path.Join(root, path.Clean("/"+p))
}

// SafeUpload uploads src to SafeName(p) and renames it over p, so p is only
// ever absent or complete.
func SafeUpload(ctx context.Context, t Transport, src io.ReadSeeker, size int64, p string, progress ProgressSink) error {
	tmp := SafeName(p)
	if err := t.Upload(ctx, src, size, tmp, progress); err != nil {
		return err
	}
	return t.Rename(ctx, tmp, p)
}
