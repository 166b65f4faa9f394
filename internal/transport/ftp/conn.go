package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// conn is the subset of an FTP control session the transport drives.
type conn interface {
	ChangeDir(path string) error
	MakeDir(path string) error
	Rename(from, to string) error
	Delete(path string) error
	FileSize(path string) (int64, error)
	NameList(path string) ([]string, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Site(args string) error
	Quit() error
	// Abort tears the control connection down without a QUIT exchange.
	Abort() error
}

// dialFunc opens and authenticates a session.
type dialFunc func(ctx context.Context, cfg Config) (conn, error)

// serverConn adapts *ftp.ServerConn to conn.
type serverConn struct {
	*ftp.ServerConn
	control *siteConn
}

func (s *serverConn) Retr(path string) (io.ReadCloser, error) {
	return s.ServerConn.Retr(path)
}

// Site sends "SITE <args>" on the control connection. The client library has
// no raw command API, so the command is substituted for a NOOP on the wire;
// both expect a 200 reply.
func (s *serverConn) Site(args string) error {
	s.control.replaceNext("SITE " + args + "\r\n")
	defer s.control.replaceNext("")
	return s.NoOp()
}

func (s *serverConn) Abort() error {
	return s.control.Close()
}

var noopLine = []byte("NOOP\r\n")

// siteConn is the control connection. A pending line replaces the next NOOP
// command written to it.
type siteConn struct {
	net.Conn

	mu      sync.Mutex
	pending []byte
}

func (c *siteConn) replaceNext(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line == "" {
		c.pending = nil
		return
	}
	c.pending = []byte(line)
}

func (c *siteConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	pending := c.pending
	if pending != nil && bytes.Equal(p, noopLine) {
		c.pending = nil
	} else {
		pending = nil
	}
	c.mu.Unlock()

	if pending == nil {
		return c.Conn.Write(p)
	}
	if _, err := c.Conn.Write(pending); err != nil {
		return 0, err
	}
	return len(p), nil
}

// dialServer connects to cfg.Host, logs in and switches to binary mode.
func dialServer(ctx context.Context, cfg Config) (conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.port()))
	dialer := &net.Dialer{Timeout: cfg.timeout()}

	var control *siteConn
	dial := func(network, address string) (net.Conn, error) {
		nc, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if control != nil {
			// Data connection.
			return nc, nil
		}
		control = &siteConn{Conn: nc}
		return control, nil
	}

	sc, err := ftp.Dial(addr,
		ftp.DialWithDialFunc(dial),
		ftp.DialWithTimeout(cfg.timeout()),
		ftp.DialWithShutTimeout(cfg.timeout()),
		ftp.DialWithDisabledEPSV(cfg.DisableEPSV),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	if err := sc.Login(cfg.Username, cfg.Password); err != nil {
		_ = sc.Quit()
		return nil, fmt.Errorf("login as %q: %w", cfg.Username, err)
	}
	if err := sc.Type(ftp.TransferTypeBinary); err != nil {
		_ = sc.Quit()
		return nil, fmt.Errorf("switching to binary mode: %w", err)
	}

	return &serverConn{ServerConn: sc, control: control}, nil
}

// Config holds the connection settings for an FTP server.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Root        string
	Timeout     time.Duration
	DisableEPSV bool
}

func (c Config) port() int {
	if c.Port == 0 {
		return 21
	}
	return c.Port
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}
