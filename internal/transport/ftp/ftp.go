// Package ftp implements transport.Transport over a single FTP control
// session.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/BadgerOps/deployer/internal/transport"
)

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateReady
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

var errNotConnected = errors.New("not connected")

// Transport is an FTP session rooted at Config.Root.
type Transport struct {
	cfg    Config
	root   string
	logger *slog.Logger
	dial   dialFunc

	conn  conn
	state state
	cwd   string
}

var _ transport.Transport = (*Transport)(nil)

// New creates an FTP transport. No connection is made until Connect.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	root := "/" + strings.Trim(cfg.Root, "/")
	return &Transport{
		cfg:    cfg,
		root:   root,
		logger: logger.With("transport", "ftp", "host", cfg.Host),
		dial:   dialServer,
	}
}

// Connect dials, authenticates and enters the root directory, creating it
// if it does not exist.
func (t *Transport) Connect(ctx context.Context) error {
	if t.state == stateReady {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.state = stateConnecting
	t.logger.Debug("connecting", "port", t.cfg.port(), "user", t.cfg.Username)
	c, err := t.dial(ctx, t.cfg)
	if err != nil {
		t.state = stateDisconnected
		return &transport.Error{Op: "connect", Path: t.cfg.Host, Kind: transport.KindConnection, Err: err}
	}
	t.conn = c
	t.cwd = ""
	t.state = stateReady

	if err := t.enterRoot(ctx); err != nil {
		t.abort()
		return &transport.Error{Op: "connect", Path: t.root, Kind: transport.KindConnection, Err: err}
	}
	t.logger.Info("connected", "root", t.root)
	return nil
}

func (t *Transport) enterRoot(ctx context.Context) error {
	err := t.cd(t.root)
	if err == nil {
		return nil
	}
	if transport.Classify(classify("cwd", t.root, err)) != transport.OutcomeNotFound {
		return err
	}
	if err := t.mkdirAll(ctx, t.root); err != nil {
		return err
	}
	return t.cd(t.root)
}

// Reconnect drops the session without waiting on the server and connects
// again.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.logger.Info("reconnecting")
	t.abort()
	return t.Connect(ctx)
}

// Close sends QUIT and closes the session.
func (t *Transport) Close() error {
	if t.conn == nil {
		t.state = stateDisconnected
		return nil
	}
	err := t.conn.Quit()
	t.conn = nil
	t.state = stateDisconnected
	if err != nil && !transport.IsDisconnect(err) {
		return fmt.Errorf("closing ftp session: %w", err)
	}
	return nil
}

func (t *Transport) abort() {
	if t.conn != nil {
		_ = t.conn.Abort()
	}
	t.conn = nil
	t.state = stateDisconnected
}

// ready fails fast when the session is not usable, and arranges for the
// control connection to be torn down if ctx is cancelled mid-operation.
func (t *Transport) ready(ctx context.Context, op, p string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.state != stateReady || t.conn == nil {
		return nil, &transport.Error{Op: op, Path: p, Kind: transport.KindDisconnect, Err: errNotConnected}
	}
	c := t.conn
	stop := context.AfterFunc(ctx, func() { _ = c.Abort() })
	return func() { stop() }, nil
}

// fail records a lost session so the next Connect starts fresh.
func (t *Transport) fail(op, p string, err error) error {
	err = classify(op, p, err)
	if transport.KindOf(err) == transport.KindDisconnect {
		t.abort()
	}
	return err
}

func (t *Transport) abs(p string) string {
	return transport.Join(t.root, p)
}

func (t *Transport) cd(dir string) error {
	if t.cwd == dir {
		return nil
	}
	if err := t.conn.ChangeDir(dir); err != nil {
		t.cwd = ""
		return err
	}
	t.cwd = dir
	return nil
}

func (t *Transport) cdRoot() error {
	return t.cd(t.root)
}

// ChangeDir enters dir relative to the root. With create set, a directory
// reported missing is created first.
func (t *Transport) ChangeDir(ctx context.Context, dir string, create bool) error {
	done, err := t.ready(ctx, "cwd", dir)
	if err != nil {
		return err
	}
	defer done()

	full := t.abs(dir)
	err = t.cd(full)
	if err == nil {
		return nil
	}
	err = classify("cwd", dir, err)
	if !create || transport.Classify(err) != transport.OutcomeNotFound {
		return t.fail("cwd", dir, err)
	}

	t.logger.Debug("creating missing directory", "dir", dir)
	if err := t.mkdirAll(ctx, full); err != nil {
		return t.fail("mkdir", dir, err)
	}
	if err := t.cd(full); err != nil {
		return t.fail("cwd", dir, err)
	}
	return nil
}

// MakeDir creates dir relative to the root, one segment at a time.
func (t *Transport) MakeDir(ctx context.Context, dir string) error {
	done, err := t.ready(ctx, "mkdir", dir)
	if err != nil {
		return err
	}
	defer done()

	if err := t.mkdirAll(ctx, t.abs(dir)); err != nil {
		return t.fail("mkdir", dir, err)
	}
	if err := t.cdRoot(); err != nil {
		return t.fail("cwd", "", err)
	}
	return nil
}

// mkdirAll walks full from "/" and creates each segment that cannot be
// entered. Once one segment is created, the rest are known to be missing.
func (t *Transport) mkdirAll(ctx context.Context, full string) error {
	if err := t.cd("/"); err != nil {
		return err
	}
	existing := true
	current := "/"
	for _, seg := range strings.Split(strings.Trim(full, "/"), "/") {
		if seg == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		current = path.Join(current, seg)
		if existing {
			if err := t.cd(current); err == nil {
				continue
			} else if transport.Classify(classify("cwd", current, err)) != transport.OutcomeNotFound {
				return err
			}
			existing = false
		}
		if err := t.conn.MakeDir(current); err != nil {
			return err
		}
		if err := t.cd(current); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a file exists at p. SIZE is tried first, falling
// back to a listing of the parent directory.
func (t *Transport) Exists(ctx context.Context, p string) (bool, error) {
	done, err := t.ready(ctx, "stat", p)
	if err != nil {
		return false, err
	}
	defer done()

	_, err = t.conn.FileSize(t.abs(p))
	switch {
	case err == nil:
		return true, nil
	case replyCode(err) == 0:
		return false, t.fail("stat", p, err)
	case !unsupported(err) && transport.Classify(classify("stat", p, err)) == transport.OutcomeNotFound:
		return false, nil
	}

	dir, name := path.Split(t.abs(p))
	names, err := t.conn.NameList(dir)
	if err != nil {
		if transport.Classify(classify("list", dir, err)) == transport.OutcomeNotFound {
			return false, nil
		}
		return false, t.fail("list", dir, err)
	}
	for _, n := range names {
		if path.Base(n) == name {
			return true, nil
		}
	}
	return false, nil
}

// Rename moves from to to.
func (t *Transport) Rename(ctx context.Context, from, to string) error {
	done, err := t.ready(ctx, "rename", from)
	if err != nil {
		return err
	}
	defer done()

	if err := t.conn.Rename(t.abs(from), t.abs(to)); err != nil {
		return t.fail("rename", from+" -> "+to, err)
	}
	return nil
}

// Remove deletes p.
func (t *Transport) Remove(ctx context.Context, p string) error {
	done, err := t.ready(ctx, "delete", p)
	if err != nil {
		return err
	}
	defer done()

	if err := t.conn.Delete(t.abs(p)); err != nil {
		return t.fail("delete", p, err)
	}
	return nil
}

// Download streams p into w.
func (t *Transport) Download(ctx context.Context, p string, w io.Writer, progress transport.ProgressSink) error {
	done, err := t.ready(ctx, "download", p)
	if err != nil {
		return err
	}
	defer done()

	full := t.abs(p)
	size := int64(-1)
	if progress != nil {
		if n, err := t.conn.FileSize(full); err == nil {
			size = n
		}
	}

	r, err := t.conn.Retr(full)
	if err != nil {
		return t.fail("download", p, err)
	}
	_, copyErr := io.Copy(transport.NewProgressWriter(w, size, progress), r)
	closeErr := r.Close()
	if copyErr != nil {
		return t.fail("download", p, copyErr)
	}
	if closeErr != nil {
		return t.fail("download", p, closeErr)
	}
	transport.OrNop(progress).Finish()
	return nil
}

// Upload stores src at p. A dropped connection is retried once after a
// reconnect, restarting the transfer from the beginning.
func (t *Transport) Upload(ctx context.Context, src io.ReadSeeker, size int64, p string, progress transport.ProgressSink) error {
	err := transport.RetryOnce(ctx, t.logger, "upload", p, t.Reconnect, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := transport.Rewind(src); err != nil {
				return err
			}
		}
		return t.upload(ctx, src, size, p, progress)
	})
	if err != nil {
		return err
	}
	transport.OrNop(progress).Finish()
	return nil
}

func (t *Transport) upload(ctx context.Context, src io.Reader, size int64, p string, progress transport.ProgressSink) error {
	dir, name := path.Split(p)
	if dir = strings.Trim(dir, "/"); dir != "" {
		if err := t.ChangeDir(ctx, dir, true); err != nil {
			return err
		}
	}

	done, err := t.ready(ctx, "upload", p)
	if err != nil {
		return err
	}
	defer done()

	if dir == "" {
		if err := t.cdRoot(); err != nil {
			return t.fail("cwd", "", err)
		}
	}
	if err := t.conn.Stor(name, transport.NewProgressReader(src, size, progress)); err != nil {
		return t.fail("upload", p, err)
	}
	if err := t.cdRoot(); err != nil {
		return t.fail("cwd", "", err)
	}
	return nil
}

// SetPermissions issues SITE CHMOD. Servers without SITE CHMOD are logged
// and otherwise ignored.
func (t *Transport) SetPermissions(ctx context.Context, p string, mode fs.FileMode) error {
	done, err := t.ready(ctx, "chmod", p)
	if err != nil {
		return err
	}
	defer done()

	err = t.conn.Site(fmt.Sprintf("CHMOD %o %s", mode.Perm(), t.abs(p)))
	if err == nil {
		return nil
	}
	if unsupported(err) {
		t.logger.Warn("server does not support SITE CHMOD", "path", p, "error", err)
		return nil
	}
	return t.fail("chmod", p, err)
}
