package httpapi

import (
	"errors"
	"fmt"

	"resty.dev/v3"

	"github.com/xpan-cli/xpan/internal/retry"
	"github.com/xpan-cli/xpan/internal/xpanerr"
)

var (
	protocolErrMissingFSID = errors.New("create succeeded but response carried no fs_id")
	protocolErrNoEntries   = errors.New("no metadata entries returned")
	protocolErrNoDlink     = errors.New("no dlink in metadata response")
)

// httpErr turns a transport-level error or a non-2xx resty response
// into the xpanerr kind the retry package classifies on. A nil err and
// a success-state response pass through as nil. Transport errors
// (connection reset, timeout, DNS failure) never carry a status code
// to classify on, so they're always Transient.
func httpErr(r *resty.Response, err error, op string) error {
	if err != nil {
		return &xpanerr.TransientError{Op: op, Err: err}
	}
	if r.IsError() {
		return classifyHTTPStatus(op, r.StatusCode())
	}
	return nil
}

// classifyHTTPStatus turns a raw status code into the xpanerr kind the
// retry package already knows how to classify, rather than making
// every call site re-derive Transient vs AuthExpired vs Fatal.
func classifyHTTPStatus(op string, status int) error {
	switch retry.ClassifyHTTPStatus(status) {
	case retry.AuthExpired:
		return &xpanerr.AuthError{Op: op, Err: fmt.Errorf("http %d", status)}
	case retry.Transient:
		return &xpanerr.TransientError{Op: op, Err: fmt.Errorf("http %d", status)}
	default:
		return fmt.Errorf("xpan: %s: http %d", op, status)
	}
}

// classifyAPIErr wraps a provider errno failure as Transient or
// AuthExpired when the errno says so, otherwise returns it unchanged
// as a fatal error.
func classifyAPIErr(err error, errno int) error {
	switch retry.ClassifyErrno(errno) {
	case retry.AuthExpired:
		return &xpanerr.AuthError{Err: err}
	case retry.Transient:
		return &xpanerr.TransientError{Err: err}
	default:
		return err
	}
}
