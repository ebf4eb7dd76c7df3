// Package xpanapi declares the interfaces the transfer engine consumes
// and nothing else: the provider API surface, the token provider, and
// the progress sink. Argument parsing, OAuth/device-code login, token
// persistence, and namespace operations (mkdir/cp/mv/rm/ls/search/
// meta-as-a-command/whoami/quota) live outside this module entirely;
// callers inject concrete implementations that may cover far more than
// what's declared here.
package xpanapi

import (
	"context"
	"io"

	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// OverwriteMode is the wire-level overwrite instruction sent on
// precreate/create/rapidupload calls.
type OverwriteMode = xpantypes.OverwritePolicy

// RapidUploadResult is returned by a successful rapid-upload probe.
// Eligible is false when the provider has no matching content and the
// caller must fall back to chunked upload; it is not an error.
type RapidUploadResult struct {
	Eligible bool
	File     xpantypes.RemoteFile
}

// PrecreateResult carries the upload_id a provider assigns and the
// zero-based chunk indices it still wants bytes for. A provider that
// already has every chunk (a mid-flight resume landing on a complete
// session) returns an empty NeededIndices.
type PrecreateResult struct {
	UploadID      string
	NeededIndices []int
}

// ListPage is one page of a recursive remote directory listing.
// NextPageToken is empty when there are no further pages.
type ListPage struct {
	Entries       []xpantypes.RemoteFile
	NextPageToken string
}

// APIClient is the provider HTTP surface the transfer engine drives.
// Every method may return a *xpanerr.TransientError, *xpanerr.AuthError,
// or *xpanerr.ProtocolError; callers are expected to run these through
// the retry package rather than retrying ad hoc.
type APIClient interface {
	// RapidUpload probes for a server-side copy of the content
	// identified by the digests, without sending any file bytes.
	RapidUpload(ctx context.Context, size int64, md5, sliceMD5 string, crc32 uint32, remotePath string, mode OverwriteMode) (RapidUploadResult, error)

	// Precreate registers the ordered block digest list for a new or
	// resumed upload and learns which chunk indices still need bytes.
	Precreate(ctx context.Context, remotePath string, size int64, blockMD5s []string, mode OverwriteMode) (PrecreateResult, error)

	// UploadSlice sends chunk index under uploadID and returns the
	// provider's recomputed MD5 for that chunk, which callers compare
	// against the value already in their block digest list.
	UploadSlice(ctx context.Context, uploadID, remotePath string, index int, r io.Reader, size int64) (sliceMD5 string, err error)

	// Create commits an upload: every chunk must already have landed
	// via UploadSlice. Returns the resulting RemoteFile.
	Create(ctx context.Context, uploadID, remotePath string, size int64, blockMD5s []string, mode OverwriteMode) (xpantypes.RemoteFile, error)

	// Meta fetches metadata for a single remote path.
	Meta(ctx context.Context, remotePath string) (xpantypes.RemoteFile, error)

	// List returns one page of a recursive directory listing.
	// Pagination continues until NextPageToken is empty.
	List(ctx context.Context, remoteDir string, recursive bool, pageToken string) (ListPage, error)

	// Dlink returns a short-lived signed URL for the file identified
	// by fsid, suitable for a single ranged GET series.
	Dlink(ctx context.Context, fsid uint64) (string, error)

	// GetRange performs a ranged GET against url and streams the body
	// to w. start is inclusive, end is exclusive; end <= 0 means "to
	// EOF". Returns the number of bytes written.
	GetRange(ctx context.Context, url string, start, end int64, w io.Writer) (int64, error)
}

// TokenProvider supplies the bearer token the engine attaches to every
// request. Implementations must be safe for concurrent use; Refresh is
// called by the retry package at most once per AuthExpired error.
type TokenProvider interface {
	CurrentToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// ProgressSink receives byte counts as transfers progress. Both
// methods must be non-blocking and safe for concurrent use; a nil
// ProgressSink is valid and callers must tolerate it.
type ProgressSink interface {
	SetTotal(bytes int64)
	Add(bytes int64)
}

// NopProgressSink discards everything; the zero value is ready to use.
type NopProgressSink struct{}

func (NopProgressSink) SetTotal(int64) {}
func (NopProgressSink) Add(int64)      {}

var _ ProgressSink = NopProgressSink{}
