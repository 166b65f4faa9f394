// Package sftp implements transport.Transport over an SSH file transfer
// session.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/BadgerOps/deployer/internal/transport"
)

const posixRenameExt = "posix-rename@openssh.com"

// Config holds the connection settings for an SFTP server.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Root     string
	Timeout  time.Duration
	// KnownHosts is an OpenSSH known_hosts file used to verify the server.
	// Host keys are not verified when it is empty.
	KnownHosts string
}

func (c Config) port() int {
	if c.Port == 0 {
		return 22
	}
	return c.Port
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// session is one authenticated SFTP client and whatever carries it.
type session struct {
	client *sftp.Client
	close  func() error
}

type dialFunc func(ctx context.Context, cfg Config, logger *slog.Logger) (*session, error)

// Transport is an SFTP session rooted at Config.Root.
type Transport struct {
	cfg    Config
	root   string
	logger *slog.Logger
	dial   dialFunc
	// posixRename reports whether the server can overwrite on rename.
	posixRename func(*sftp.Client) bool

	sess *session
}

var _ transport.Transport = (*Transport)(nil)

// New creates an SFTP transport. No connection is made until Connect.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		root:   "/" + strings.Trim(cfg.Root, "/"),
		logger: logger.With("transport", "sftp", "host", cfg.Host),
		dial:   dialSSH,
		posixRename: func(c *sftp.Client) bool {
			_, ok := c.HasExtension(posixRenameExt)
			return ok
		},
	}
}

func dialSSH(ctx context.Context, cfg Config, logger *slog.Logger) (*session, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts %s: %w", cfg.KnownHosts, err)
		}
		hostKey = cb
	} else {
		logger.Warn("host key verification disabled, set known_hosts to enable it")
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.port()))
	dialer := &net.Dialer{Timeout: cfg.timeout()}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	sshCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         cfg.timeout(),
	}
	conn, chans, reqs, err := ssh.NewClientConn(nc, addr, sshCfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(conn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("starting sftp subsystem: %w", err)
	}
	return &session{
		client: client,
		close: func() error {
			err := client.Close()
			if cerr := sshClient.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}

// Connect dials, authenticates and ensures the root directory exists.
func (t *Transport) Connect(ctx context.Context) error {
	if t.sess != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.logger.Debug("connecting", "port", t.cfg.port(), "user", t.cfg.Username)
	sess, err := t.dial(ctx, t.cfg, t.logger)
	if err != nil {
		return &transport.Error{Op: "connect", Path: t.cfg.Host, Kind: transport.KindConnection, Err: err}
	}
	t.sess = sess

	if err := sess.client.MkdirAll(t.root); err != nil {
		t.drop()
		return &transport.Error{Op: "connect", Path: t.root, Kind: transport.KindConnection, Err: err}
	}
	t.logger.Info("connected", "root", t.root)
	return nil
}

// Reconnect closes the current session and connects again.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.logger.Info("reconnecting")
	t.drop()
	return t.Connect(ctx)
}

// Close ends the session.
func (t *Transport) Close() error {
	if t.sess == nil {
		return nil
	}
	err := t.sess.close()
	t.sess = nil
	if err != nil && !transport.IsDisconnect(err) {
		return fmt.Errorf("closing sftp session: %w", err)
	}
	return nil
}

func (t *Transport) drop() {
	if t.sess != nil {
		_ = t.sess.close()
	}
	t.sess = nil
}

func (t *Transport) client(ctx context.Context, op, p string) (*sftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.sess == nil {
		return nil, &transport.Error{Op: op, Path: p, Kind: transport.KindDisconnect, Err: errors.New("not connected")}
	}
	return t.sess.client, nil
}

func (t *Transport) fail(op, p string, err error) error {
	err = classify(op, p, err)
	if transport.KindOf(err) == transport.KindDisconnect {
		t.drop()
	}
	return err
}

func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}
	kind := transport.KindFailure
	switch {
	case errors.Is(err, os.ErrNotExist):
		kind = transport.KindNotFound
	case errors.Is(err, os.ErrPermission):
		kind = transport.KindPermission
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), transport.IsDisconnect(err):
		kind = transport.KindDisconnect
	}
	return &transport.Error{Op: op, Path: p, Kind: kind, Err: err}
}

func (t *Transport) abs(p string) string {
	return transport.Join(t.root, p)
}

// ChangeDir verifies that dir is a directory, creating it when create is
// set and it does not exist. SFTP has no working directory, so every
// operation already starts from the root.
func (t *Transport) ChangeDir(ctx context.Context, dir string, create bool) error {
	c, err := t.client(ctx, "cwd", dir)
	if err != nil {
		return err
	}
	fi, err := c.Stat(t.abs(dir))
	if err == nil {
		if !fi.IsDir() {
			return &transport.Error{Op: "cwd", Path: dir, Kind: transport.KindFailure, Err: fmt.Errorf("not a directory")}
		}
		return nil
	}
	err = classify("cwd", dir, err)
	if !create || transport.Classify(err) != transport.OutcomeNotFound {
		return t.fail("cwd", dir, err)
	}
	return t.MakeDir(ctx, dir)
}

// MakeDir creates dir and any missing parents.
func (t *Transport) MakeDir(ctx context.Context, dir string) error {
	c, err := t.client(ctx, "mkdir", dir)
	if err != nil {
		return err
	}
	if err := c.MkdirAll(t.abs(dir)); err != nil {
		return t.fail("mkdir", dir, err)
	}
	return nil
}

// Exists reports whether a file exists at p.
func (t *Transport) Exists(ctx context.Context, p string) (bool, error) {
	c, err := t.client(ctx, "stat", p)
	if err != nil {
		return false, err
	}
	_, err = c.Stat(t.abs(p))
	switch transport.Classify(classify("stat", p, err)) {
	case transport.OutcomeOK:
		return true, nil
	case transport.OutcomeNotFound:
		return false, nil
	default:
		return false, t.fail("stat", p, err)
	}
}

// Rename moves from to to, replacing to. Servers without the POSIX rename
// extension refuse to overwrite; for those an existing target is removed
// first and is briefly absent.
func (t *Transport) Rename(ctx context.Context, from, to string) error {
	c, err := t.client(ctx, "rename", from)
	if err != nil {
		return err
	}
	src, dst := t.abs(from), t.abs(to)
	if t.posixRename(c) {
		if err := c.PosixRename(src, dst); err != nil {
			return t.fail("rename", from+" -> "+to, err)
		}
		return nil
	}
	err = c.Rename(src, dst)
	if err == nil {
		return nil
	}
	if _, serr := c.Stat(dst); serr != nil {
		return t.fail("rename", from+" -> "+to, err)
	}
	t.logger.Warn("server lacks posix-rename, replacing target non-atomically", "path", to)
	if err := c.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return t.fail("rename", from+" -> "+to, err)
	}
	if err := c.Rename(src, dst); err != nil {
		return t.fail("rename", from+" -> "+to, err)
	}
	return nil
}

// Remove deletes p.
func (t *Transport) Remove(ctx context.Context, p string) error {
	c, err := t.client(ctx, "delete", p)
	if err != nil {
		return err
	}
	if err := c.Remove(t.abs(p)); err != nil {
		return t.fail("delete", p, err)
	}
	return nil
}

// Download streams p into w.
func (t *Transport) Download(ctx context.Context, p string, w io.Writer, progress transport.ProgressSink) error {
	c, err := t.client(ctx, "download", p)
	if err != nil {
		return err
	}
	f, err := c.Open(t.abs(p))
	if err != nil {
		return t.fail("download", p, err)
	}
	defer f.Close()

	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	if _, err := io.Copy(transport.NewProgressWriter(w, size, progress), f); err != nil {
		return t.fail("download", p, err)
	}
	transport.OrNop(progress).Finish()
	return nil
}

// Upload writes src to p, creating parent directories. A lost session is
// retried once after a reconnect.
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
	c, err := t.client(ctx, "upload", p)
	if err != nil {
		return err
	}
	full := t.abs(p)
	if dir := path.Dir(full); dir != t.root {
		if err := c.MkdirAll(dir); err != nil {
			return t.fail("mkdir", path.Dir(p), err)
		}
	}

	f, err := c.Create(full)
	if err != nil {
		return t.fail("upload", p, err)
	}
	if _, err := io.Copy(f, transport.NewProgressReader(src, size, progress)); err != nil {
		f.Close()
		return t.fail("upload", p, err)
	}
	if err := f.Close(); err != nil {
		return t.fail("upload", p, err)
	}
	return nil
}

// SetPermissions applies the permission bits of mode to p.
func (t *Transport) SetPermissions(ctx context.Context, p string, mode fs.FileMode) error {
	c, err := t.client(ctx, "chmod", p)
	if err != nil {
		return err
	}
	if err := c.Chmod(t.abs(p), mode.Perm()); err != nil {
		return t.fail("chmod", p, err)
	}
	return nil
}
