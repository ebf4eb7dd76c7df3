package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// fakeAPI serves Meta/Dlink/GetRange against an in-memory payload, so
// tests can exercise segmentation, resume, and link-refresh behavior
// without a real HTTP server.
type fakeAPI struct {
	payload []byte
	meta    xpantypes.RemoteFile

	dlinkCalls   atomic.Int32
	getRangeCall atomic.Int32

	mu           sync.Mutex
	forbidOnce   map[string]bool // url -> true until consumed
	linkCounter  int
}

func newFakeAPI(payload []byte, fsid uint64) *fakeAPI {
	return &fakeAPI{
		payload:    payload,
		meta:       xpantypes.RemoteFile{FSID: fsid, Path: "/remote/f.bin", Size: int64(len(payload))},
		forbidOnce: make(map[string]bool),
	}
}

func (f *fakeAPI) RapidUpload(ctx context.Context, size int64, md5, sliceMD5 string, crc32 uint32, remotePath string, mode xpanapi.OverwriteMode) (xpanapi.RapidUploadResult, error) {
	return xpanapi.RapidUploadResult{}, fmt.Errorf("not implemented")
}

func (f *fakeAPI) Precreate(ctx context.Context, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpanapi.PrecreateResult, error) {
	return xpanapi.PrecreateResult{}, fmt.Errorf("not implemented")
}

func (f *fakeAPI) UploadSlice(ctx context.Context, uploadID, remotePath string, index int, r io.Reader, size int64) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeAPI) Create(ctx context.Context, uploadID, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpantypes.RemoteFile, error) {
	return xpantypes.RemoteFile{}, fmt.Errorf("not implemented")
}

func (f *fakeAPI) Meta(ctx context.Context, remotePath string) (xpantypes.RemoteFile, error) {
	return f.meta, nil
}

func (f *fakeAPI) List(ctx context.Context, remoteDir string, recursive bool, pageToken string) (xpanapi.ListPage, error) {
	return xpanapi.ListPage{}, fmt.Errorf("not implemented")
}

func (f *fakeAPI) Dlink(ctx context.Context, fsid uint64) (string, error) {
	f.mu.Lock()
	f.linkCounter++
	url := fmt.Sprintf("https://dlink.example/%d/%d", fsid, f.linkCounter)
	f.mu.Unlock()
	f.dlinkCalls.Add(1)
	return url, nil
}

// forbidNextRequestTo marks the given link URL so the next GetRange
// against it returns a 403-equivalent LinkExpiredError, simulating an
// expired signed link.
func (f *fakeAPI) forbidNextRequestTo(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forbidOnce[url] = true
}

func (f *fakeAPI) GetRange(ctx context.Context, url string, start, end int64, w io.Writer) (int64, error) {
	f.getRangeCall.Add(1)

	f.mu.Lock()
	forbidden := f.forbidOnce[url]
	if forbidden {
		delete(f.forbidOnce, url)
	}
	f.mu.Unlock()

	if forbidden {
		return 0, &xpanerr.LinkExpiredError{URL: url}
	}

	if end <= 0 {
		end = int64(len(f.payload))
	}
	if start < 0 || end > int64(len(f.payload)) || start > end {
		return 0, fmt.Errorf("out of range: [%d,%d)", start, end)
	}
	n, err := w.Write(f.payload[start:end])
	return int64(n), err
}

var _ xpanapi.APIClient = (*fakeAPI)(nil)
