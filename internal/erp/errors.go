package erp

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes. Every error returned by this package wraps exactly one of them.
var (
	// ErrAuth is returned when credentials are missing, rejected, or the
	// session could not be re-established.
	ErrAuth = errors.New("erp authentication failed")

	// ErrUpstream covers transport failures, timeouts, non-2xx responses,
	// malformed JSON-RPC envelopes and remote exceptions.
	ErrUpstream = errors.New("erp upstream failure")

	// ErrInvalidRequest is returned before any network I/O when a call is
	// malformed (unknown aggregate function, empty model name, ...).
	ErrInvalidRequest = errors.New("erp invalid request")
)

// Error is the normalized failure of one RPC. Message is always a single
// human-readable line; Remote is set when the ERP itself raised.
type Error struct {
	Op      string
	Message string
	Remote  *RemoteError
	kind    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("erp %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.kind }

// RemoteError is the exception payload of a JSON-RPC error envelope.
type RemoteError struct {
	Code    int
	Message string
	Name    string
}

func (e *RemoteError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Name)
	}
	return e.Message
}

// sessionRejected reports whether the remote refused the uid/secret pair,
// which is the signal to drop the cached session and authenticate again.
func (e *RemoteError) sessionRejected() bool {
	for _, s := range []string{e.Name, e.Message} {
		l := strings.ToLower(s)
		if strings.Contains(l, "accessdenied") || strings.Contains(l, "access denied") ||
			strings.Contains(l, "sessionexpired") || strings.Contains(l, "session expired") {
			return true
		}
	}
	return false
}

func upstreamErr(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), kind: ErrUpstream}
}

func authErr(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), kind: ErrAuth}
}

func invalidErr(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), kind: ErrInvalidRequest}
}

func remoteErr(op string, re *RemoteError) *Error {
	kind := ErrUpstream
	if re.sessionRejected() {
		kind = ErrAuth
	}
	return &Error{Op: op, Message: "remote error: " + re.Error(), Remote: re, kind: kind}
}
