package uploader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// fakeAPI is an in-memory stand-in for xpanapi.APIClient that records
// every call it receives, so tests can assert on the sequence of
// network calls an Upload made without a real HTTP server.
type fakeAPI struct {
	mu sync.Mutex

	RapidEligible bool
	RapidFile     xpantypes.RemoteFile

	NeededIndices   []int
	UploadIDPrefix  string
	precreateCalls  int
	uploadSliceCall int
	createCalls     int

	FailSliceOnce        map[int]bool
	ExpireSessionOnSlice map[int]bool

	CreateFSID uint64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{UploadIDPrefix: "up"}
}

func (f *fakeAPI) RapidUpload(ctx context.Context, size int64, md5hex, sliceMD5 string, crc32 uint32, remotePath string, mode xpanapi.OverwriteMode) (xpanapi.RapidUploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RapidEligible {
		return xpanapi.RapidUploadResult{Eligible: true, File: f.RapidFile}, nil
	}
	return xpanapi.RapidUploadResult{Eligible: false}, nil
}

func (f *fakeAPI) Precreate(ctx context.Context, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpanapi.PrecreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.precreateCalls++

	needed := f.NeededIndices
	if needed == nil {
		needed = make([]int, len(blockMD5s))
		for i := range blockMD5s {
			needed[i] = i
		}
	}
	return xpanapi.PrecreateResult{
		UploadID:      fmt.Sprintf("%s-%d", f.UploadIDPrefix, f.precreateCalls),
		NeededIndices: needed,
	}, nil
}

func (f *fakeAPI) UploadSlice(ctx context.Context, uploadID, remotePath string, index int, r io.Reader, size int64) (string, error) {
	f.mu.Lock()
	fail := f.FailSliceOnce[index]
	if fail {
		f.FailSliceOnce[index] = false
	}
	expire := f.ExpireSessionOnSlice[index]
	if expire {
		f.ExpireSessionOnSlice[index] = false
	}
	f.uploadSliceCall++
	f.mu.Unlock()

	if fail {
		return "", fmt.Errorf("simulated non-retryable failure on slice %d", index)
	}
	if expire {
		return "", &xpanerr.SessionExpiredError{UploadID: uploadID}
	}

	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f *fakeAPI) Create(ctx context.Context, uploadID, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpantypes.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return xpantypes.RemoteFile{FSID: f.CreateFSID, Path: remotePath, Size: size}, nil
}

func (f *fakeAPI) Meta(ctx context.Context, remotePath string) (xpantypes.RemoteFile, error) {
	return xpantypes.RemoteFile{}, fmt.Errorf("not implemented")
}

func (f *fakeAPI) List(ctx context.Context, remoteDir string, recursive bool, pageToken string) (xpanapi.ListPage, error) {
	return xpanapi.ListPage{}, fmt.Errorf("not implemented")
}

func (f *fakeAPI) Dlink(ctx context.Context, fsid uint64) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeAPI) GetRange(ctx context.Context, url string, start, end int64, w io.Writer) (int64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (f *fakeAPI) calls() (precreate, uploadSlice, create int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.precreateCalls, f.uploadSliceCall, f.createCalls
}

var _ xpanapi.APIClient = (*fakeAPI)(nil)

// conflictingAPI simulates a provider rejecting precreate because the
// remote path already exists under overwrite policy FailIfExists.
type conflictingAPI struct {
	*fakeAPI
}

func (c *conflictingAPI) Precreate(ctx context.Context, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpanapi.PrecreateResult, error) {
	return xpanapi.PrecreateResult{}, fmt.Errorf("xpan: precreate failed: errno=-8 path exists")
}

var _ xpanapi.APIClient = (*conflictingAPI)(nil)

// alwaysExpiringAPI simulates a provider that never keeps an upload_id
// alive long enough to take a single slice, exhausting
// MaxSessionRefreshes deterministically.
type alwaysExpiringAPI struct {
	*fakeAPI
}

func (a *alwaysExpiringAPI) UploadSlice(ctx context.Context, uploadID, remotePath string, index int, r io.Reader, size int64) (string, error) {
	return "", &xpanerr.SessionExpiredError{UploadID: uploadID}
}

var _ xpanapi.APIClient = (*alwaysExpiringAPI)(nil)
