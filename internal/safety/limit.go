package safety

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// ErrTooLarge indicates a remote file exceeded the configured size limit.
var ErrTooLarge = errors.New("remote file too large")

// LimitWriter passes writes through to w until more than limit bytes have
// been written, then fails with ErrTooLarge.
type LimitWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

// NewLimitWriter wraps w. A limit of zero or less disables the check.
func NewLimitWriter(w io.Writer, limit int64) *LimitWriter {
	return &LimitWriter{w: w, limit: limit}
}

func (l *LimitWriter) Write(p []byte) (int, error) {
	if l.limit > 0 && l.written+int64(len(p)) > l.limit {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.limit)
	}
	n, err := l.w.Write(p)
	l.written += int64(n)
	return n, err
}

// SplitHostPort parses "host" or "host:port", applying defaultPort when no
// port is given. URLs and user info are rejected.
func SplitHostPort(addr string, defaultPort int) (string, int, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0, fmt.Errorf("host is required")
	}
	if strings.Contains(addr, "://") {
		return "", 0, fmt.Errorf("host must not be a URL: %q", addr)
	}
	if strings.Contains(addr, "@") {
		return "", 0, fmt.Errorf("user info is not allowed in host: %q", addr)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port present.
		return strings.Trim(addr, "[]"), defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	if host == "" {
		return "", 0, fmt.Errorf("host is required")
	}
	return host, port, nil
}
