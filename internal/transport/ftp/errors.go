package ftp

import (
	"errors"
	"net/textproto"
	"strings"

	"github.com/jlaffaye/ftp"

	"github.com/BadgerOps/deployer/internal/transport"
)

// replyCode returns the FTP reply code carried by err, or 0.
func replyCode(err error) int {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}

func replyMessage(err error) string {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Msg
	}
	return ""
}

// isPermissionReply reports whether a 550 reply is a refusal rather than a
// missing file. Servers use 550 for both.
func isPermissionReply(err error) bool {
	msg := strings.ToLower(replyMessage(err))
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "denied") ||
		strings.Contains(msg, "not allowed")
}

// unsupported reports whether the server rejected a command it does not
// implement.
func unsupported(err error) bool {
	switch replyCode(err) {
	case ftp.StatusCommandNotImplemented, ftp.StatusBadCommand, ftp.StatusNotImplemented, ftp.StatusNotImplementedParameter, ftp.StatusBadArguments:
		return true
	}
	return false
}

// classify wraps an FTP error in a transport.Error of the matching kind.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}

	kind := transport.KindFailure
	switch code := replyCode(err); {
	case code == ftp.StatusFileUnavailable:
		kind = transport.KindNotFound
		if isPermissionReply(err) {
			kind = transport.KindPermission
		}
	case code == ftp.StatusNotAvailable, code == ftp.StatusTransfertAborted, code == ftp.StatusCanNotOpenDataConnection:
		kind = transport.KindDisconnect
	case code == ftp.StatusNotLoggedIn, code == ftp.StatusFileActionIgnored && isPermissionReply(err):
		kind = transport.KindPermission
	case code == 0 && transport.IsDisconnect(err):
		kind = transport.KindDisconnect
	}
	return &transport.Error{Op: op, Path: path, Kind: kind, Err: err}
}
