// Package xpanerr defines the error kinds the transfer engine raises.
// Each is a concrete type so the Retry Harness and callers can
// classify with errors.As instead of string matching, and each carries
// enough context to log usefully without unwinding across component
// boundaries.
package xpanerr

import (
	"context"
	"fmt"
)

// AuthError is a missing/invalid/expired token that refresh could not
// repair. Fatal to the operation; surfaces to the user.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xpan: auth error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("xpan: auth error during %s", e.Op)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError is retryable at the Retry Harness level. It never
// surfaces to the caller if retries succeed.
type TransientError struct {
	Op      string
	Attempt int
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("xpan: transient error during %s (attempt %d): %v", e.Op, e.Attempt, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed but semantically invalid server
// response, e.g. create succeeded but returned no fsid. Fatal; the
// caller is expected to preserve any session state for inspection.
type ProtocolError struct {
	Op        string
	Detail    string
	Preserved bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("xpan: protocol error during %s: %s", e.Op, e.Detail)
}

// LocalIOError is a local disk failure: full disk, permission denied,
// file vanished mid-operation. Fatal to the current file; a sync batch
// continues with the remaining files.
type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("xpan: local io error for %q: %v", e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// ConflictError is an overwrite policy of FailIfExists hitting an
// existing remote file. Non-fatal to a sync batch; reported as
// skipped.
type ConflictError struct {
	RemotePath string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("xpan: %q already exists remotely (overwrite policy is fail_if_exists)", e.RemotePath)
}

// IntegrityError is a post-download length mismatch, or (when enabled)
// an md5 mismatch. The single-request path deletes its temp file on a
// length mismatch; the segmented path leaves both the temp file and the
// Download Session in place.
type IntegrityError struct {
	Path     string
	Expected int64
	Actual   int64
	Detail   string
}

func (e *IntegrityError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("xpan: integrity check failed for %q: %s", e.Path, e.Detail)
	}
	return fmt.Sprintf("xpan: integrity check failed for %q: expected %d bytes, got %d", e.Path, e.Expected, e.Actual)
}

// FileMutatedError is raised when a file's size or mtime changes
// between chunks during an upload. The session is discarded.
type FileMutatedError struct {
	Path string
}

func (e *FileMutatedError) Error() string {
	return fmt.Sprintf("xpan: %q changed on disk mid-upload, aborting", e.Path)
}

// LinkExpiredError is a 403 on a ranged GET against a signed dlink.
// The Downloader treats it as a signal to refresh that worker's link
// and retry the same segment, not as a transfer failure.
type LinkExpiredError struct {
	URL string
}

func (e *LinkExpiredError) Error() string {
	return fmt.Sprintf("xpan: dlink expired or forbidden: %s", e.URL)
}

// SessionExpiredError is a 400 on upload_slice: the provider has
// forgotten the upload_id. The Uploader treats it as a signal to
// re-precreate and keep uploading the remaining chunks under a fresh
// upload_id, bounded by Options.MaxSessionRefreshes, rather than
// failing the transfer outright.
type SessionExpiredError struct {
	UploadID string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("xpan: upload session expired: %s", e.UploadID)
}

// Cancelled is returned by any component when it observes the
// process-wide cancellation signal at a suspension point.
type Cancelled struct {
	Op string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("xpan: %s cancelled", e.Op)
}

// Unwrap lets errors.Is(err, context.Canceled) recognize a Cancelled
// the same way it would the raw context error, so callers (notably the
// CLI's exit-code selection in spec.md section 7) don't need to know
// about this type specifically.
func (e *Cancelled) Unwrap() error { return context.Canceled }
