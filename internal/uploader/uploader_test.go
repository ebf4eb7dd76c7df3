package uploader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpan-cli/xpan/internal/resume"
	"github.com/xpan-cli/xpan/internal/retry"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestSessions(t *testing.T) *resume.Store {
	t.Helper()
	s, err := resume.NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestUpload_RapidUploadHit_NoBytesOnWire(t *testing.T) {
	api := newFakeAPI()
	api.RapidEligible = true
	api.RapidFile = xpantypes.RemoteFile{FSID: 42, Path: "/remote/f.bin", Size: 1 << 20}

	path := writeTempFile(t, 1<<20)
	u := New(api, nil, newTestSessions(t), nil, nil, retry.Policy{})

	opts := DefaultOptions()
	rf, err := u.Upload(context.Background(), path, "/remote/f.bin", opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rf.FSID)

	precreate, slices, create := api.calls()
	assert.Equal(t, 0, precreate)
	assert.Equal(t, 0, slices)
	assert.Equal(t, 0, create)
}

func TestUpload_BelowThreshold_SkipsRapidProbe(t *testing.T) {
	api := newFakeAPI()
	api.RapidEligible = true // would hit if probed; threshold should skip it

	path := writeTempFile(t, 100)
	u := New(api, nil, newTestSessions(t), nil, nil, retry.Policy{})

	opts := DefaultOptions()
	opts.RapidUploadThreshold = 256 << 10

	rf, err := u.Upload(context.Background(), path, "/remote/small.bin", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(100), rf.Size)

	precreate, _, create := api.calls()
	assert.Equal(t, 1, precreate)
	assert.Equal(t, 1, create)
}

func TestUpload_ChunkedFullUpload(t *testing.T) {
	api := newFakeAPI()
	path := writeTempFile(t, 10<<20+37) // not an exact multiple of chunk size

	u := New(api, nil, newTestSessions(t), nil, nil, retry.Policy{})
	opts := DefaultOptions()
	opts.ChunkSize = 4 << 20
	opts.Workers = 4

	rf, err := u.Upload(context.Background(), path, "/remote/big.bin", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20+37), rf.Size)

	_, slices, create := api.calls()
	assert.Equal(t, 3, slices) // ceil((10MiB+37)/4MiB) == 3
	assert.Equal(t, 1, create)
}

func TestUpload_EmptyFile_ZeroChunks(t *testing.T) {
	api := newFakeAPI()
	path := writeTempFile(t, 0)

	u := New(api, nil, newTestSessions(t), nil, nil, retry.Policy{})
	rf, err := u.Upload(context.Background(), path, "/remote/empty.bin", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rf.Size)

	precreate, slices, create := api.calls()
	assert.Equal(t, 1, precreate)
	assert.Equal(t, 0, slices)
	assert.Equal(t, 1, create)
}

func TestUpload_ResumesFromPriorSession(t *testing.T) {
	api := newFakeAPI()
	sessions := newTestSessions(t)
	path := writeTempFile(t, 12<<20) // exactly 3 chunks at 4MiB

	opts := DefaultOptions()
	opts.ChunkSize = 4 << 20
	opts.Workers = 1

	// First upload fails mid-flight on chunk 1; the session should
	// persist completed chunk 0.
	api.FailSliceOnce = map[int]bool{1: true}
	_, err := New(api, nil, sessions, nil, nil, retry.Policy{}).Upload(context.Background(), path, "/remote/r.bin", opts)
	require.Error(t, err)

	preFail, slicesFail, _ := api.calls()
	assert.Equal(t, 1, preFail)
	assert.GreaterOrEqual(t, slicesFail, 1)

	// Second attempt with a fresh API (but same Resume Store) should
	// not re-run precreate and should only upload the remaining chunks.
	api2 := newFakeAPI()
	rf, err := New(api2, nil, sessions, nil, nil, retry.Policy{}).Upload(context.Background(), path, "/remote/r.bin", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(12<<20), rf.Size)

	precreate2, slices2, create2 := api2.calls()
	assert.Equal(t, 0, precreate2, "resumed upload must not re-run precreate")
	assert.LessOrEqual(t, slices2, 3)
	assert.Equal(t, 1, create2)
}

func TestUpload_SessionExpiredMidTransferRefreshesAndContinues(t *testing.T) {
	api := newFakeAPI()
	api.ExpireSessionOnSlice = map[int]bool{1: true}

	path := writeTempFile(t, 12<<20) // exactly 3 chunks at 4MiB

	u := New(api, nil, newTestSessions(t), nil, nil, retry.Policy{})
	opts := DefaultOptions()
	opts.ChunkSize = 4 << 20
	opts.Workers = 1 // deterministic: chunks 0,1,2 in order; 1 expires once

	rf, err := u.Upload(context.Background(), path, "/remote/refresh.bin", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(12<<20), rf.Size)

	precreate, _, create := api.calls()
	assert.Equal(t, 2, precreate, "one initial precreate plus one session refresh")
	assert.Equal(t, 1, create)
}

func TestUpload_SessionExpiredBeyondMaxRefreshesFails(t *testing.T) {
	path := writeTempFile(t, 1<<20)

	api := &alwaysExpiringAPI{fakeAPI: newFakeAPI()}
	u := New(api, nil, newTestSessions(t), nil, nil, retry.Policy{})
	opts := DefaultOptions()
	opts.RapidUploadThreshold = 1 << 30
	opts.MaxSessionRefreshes = 2

	_, err := u.Upload(context.Background(), path, "/remote/stuck.bin", opts)
	require.Error(t, err)
}

func TestUpload_FailIfExistsConflict(t *testing.T) {
	api := &conflictingAPI{fakeAPI: newFakeAPI()}
	path := writeTempFile(t, 1<<20)

	u := New(api, nil, newTestSessions(t), nil, nil, retry.Policy{})
	opts := DefaultOptions()
	opts.OverwritePolicy = xpantypes.FailIfExists
	opts.RapidUploadThreshold = 1 << 30 // force chunked path

	_, err := u.Upload(context.Background(), path, "/remote/exists.bin", opts)
	require.Error(t, err)
}
