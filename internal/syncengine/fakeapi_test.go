package syncengine

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// memFile is one file in the in-memory remote filesystem fakeRemote
// serves. Content and metadata are kept together so uploads, listings,
// and downloads all see a single consistent view.
type memFile struct {
	content []byte
	fsid    uint64
}

// fakeRemote is a full in-memory stand-in for xpanapi.APIClient backing
// both the Uploader and the Downloader, so syncengine tests can run a
// real Compare/SyncUp/SyncDown against a provider-shaped surface
// without a network. Uploads commit content on Create; rapid-upload is
// never eligible (this fake never pretends to recognize content it
// hasn't already been given in full).
type fakeRemote struct {
	mu       sync.Mutex
	files    map[string]*memFile // path -> file
	nextFSID uint64

	pending map[string]map[int][]byte // uploadID -> index -> chunk
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:    make(map[string]*memFile),
		pending:  make(map[string]map[int][]byte),
		nextFSID: 1,
	}
}

// put seeds the remote filesystem directly, bypassing the upload
// protocol, for tests that only need an existing remote file.
func (r *fakeRemote) put(path string, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = &memFile{content: append([]byte(nil), content...), fsid: r.nextFSID}
	r.nextFSID++
}

func (r *fakeRemote) RapidUpload(ctx context.Context, size int64, md5hex, sliceMD5 string, crc32 uint32, remotePath string, mode xpanapi.OverwriteMode) (xpanapi.RapidUploadResult, error) {
	return xpanapi.RapidUploadResult{Eligible: false}, nil
}

func (r *fakeRemote) Precreate(ctx context.Context, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpanapi.PrecreateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mode == xpantypes.FailIfExists {
		if _, exists := r.files[remotePath]; exists {
			return xpanapi.PrecreateResult{}, fmt.Errorf("xpan: precreate failed: errno=-8 path exists")
		}
	}

	uploadID := fmt.Sprintf("up-%s-%d", remotePath, len(r.pending))
	r.pending[uploadID] = make(map[int][]byte)

	needed := make([]int, len(blockMD5s))
	for i := range blockMD5s {
		needed[i] = i
	}
	return xpanapi.PrecreateResult{UploadID: uploadID, NeededIndices: needed}, nil
}

func (r *fakeRemote) UploadSlice(ctx context.Context, uploadID, remotePath string, index int, rd io.Reader, size int64) (string, error) {
	buf, err := io.ReadAll(rd)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.pending[uploadID] == nil {
		r.pending[uploadID] = make(map[int][]byte)
	}
	r.pending[uploadID][index] = buf
	r.mu.Unlock()

	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:]), nil
}

func (r *fakeRemote) Create(ctx context.Context, uploadID, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpantypes.RemoteFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunks := r.pending[uploadID]
	var buf bytes.Buffer
	for i := range blockMD5s {
		buf.Write(chunks[i])
	}
	delete(r.pending, uploadID)

	existing, ok := r.files[remotePath]
	fsid := r.nextFSID
	if ok {
		fsid = existing.fsid
	} else {
		r.nextFSID++
	}

	content := buf.Bytes()
	r.files[remotePath] = &memFile{content: content, fsid: fsid}

	return xpantypes.RemoteFile{FSID: fsid, Path: remotePath, Size: int64(len(content)), MD5: md5Hex(content)}, nil
}

func (r *fakeRemote) Meta(ctx context.Context, remotePath string) (xpantypes.RemoteFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[remotePath]
	if !ok {
		return xpantypes.RemoteFile{}, fmt.Errorf("xpan: not found: %s", remotePath)
	}
	return xpantypes.RemoteFile{FSID: f.fsid, Path: remotePath, Size: int64(len(f.content)), MD5: md5Hex(f.content)}, nil
}

// List ignores pagination (tests never seed enough files to need a
// second page) and returns every file under remoteDir in one shot.
func (r *fakeRemote) List(ctx context.Context, remoteDir string, recursive bool, pageToken string) (xpanapi.ListPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := strings.TrimSuffix(remoteDir, "/") + "/"
	var entries []xpantypes.RemoteFile
	for path, f := range r.files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		entries = append(entries, xpantypes.RemoteFile{FSID: f.fsid, Path: path, Size: int64(len(f.content)), MD5: md5Hex(f.content)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return xpanapi.ListPage{Entries: entries}, nil
}

func (r *fakeRemote) Dlink(ctx context.Context, fsid uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, f := range r.files {
		if f.fsid == fsid {
			return "https://dlink.example" + path, nil
		}
	}
	return "", fmt.Errorf("xpan: unknown fsid %d", fsid)
}

func (r *fakeRemote) GetRange(ctx context.Context, url string, start, end int64, w io.Writer) (int64, error) {
	path := strings.TrimPrefix(url, "https://dlink.example")

	r.mu.Lock()
	f, ok := r.files[path]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("xpan: unknown dlink %s", url)
	}

	if end <= 0 || end > int64(len(f.content)) {
		end = int64(len(f.content))
	}
	if start < 0 || start > end {
		return 0, fmt.Errorf("out of range: [%d,%d)", start, end)
	}
	n, err := w.Write(f.content[start:end])
	return int64(n), err
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// relRemote joins dir and a slash-separated relative path the way
// walkRemote expects paths to already look on the wire.
func relRemote(dir, rel string) string {
	return filepath.ToSlash(filepath.Join(dir, rel))
}

var _ xpanapi.APIClient = (*fakeRemote)(nil)
