package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a transport failure.
type Kind int

const (
	// KindFailure is any failure that is not one of the more specific kinds.
	KindFailure Kind = iota
	// KindNotFound means the remote path does not exist.
	KindNotFound
	// KindPermission means the server refused the operation.
	KindPermission
	// KindConnection means a session could not be established or authenticated.
	KindConnection
	// KindDisconnect means an established session was lost.
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPermission:
		return "permission denied"
	case KindConnection:
		return "connection failure"
	case KindDisconnect:
		return "disconnected"
	default:
		return "failure"
	}
}

// Sentinel errors matched by Error.Is.
var (
	ErrNotFound     = errors.New("remote path not found")
	ErrPermission   = errors.New("remote permission denied")
	ErrConnection   = errors.New("connection failed")
	ErrDisconnected = errors.New("connection lost")
)

// Error describes a failed transport operation.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrPermission:
		return e.Kind == KindPermission
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrDisconnected:
		return e.Kind == KindDisconnect
	}
	return false
}

// Outcome is the result variant of a transport call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not found"
	default:
		return "failure"
	}
}

// Classify maps the error returned by a transport call to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailure
	}
}

// KindOf returns the kind of err, inspecting wrapped transport errors and
// falling back to network error heuristics.
func KindOf(err error) Kind {
	if err == nil {
		return KindFailure
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if IsDisconnect(err) {
		return KindDisconnect
	}
	return KindFailure
}

// IsDisconnect reports whether err means the session is gone. Timeouts,
// resets, broken pipes and unexpected EOFs are all treated the same.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnected) {
		return true
	}
	var te *Error
	if errors.As(err, &te) && te.Kind != KindDisconnect {
		// Classified by the transport as something else.
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
