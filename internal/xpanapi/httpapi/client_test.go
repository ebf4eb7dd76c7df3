package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

type fakeTokens struct{ token string }

func (f *fakeTokens) CurrentToken(ctx context.Context) (string, error) { return f.token, nil }
func (f *fakeTokens) Refresh(ctx context.Context) (string, error)      { f.token = "refreshed"; return f.token, nil }

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := New(&fakeTokens{token: "tok"})
	c.jsonClient.SetBaseURL(srv.URL)
	return c
}

func TestMeta_ParsesEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "filemetas", r.URL.Query().Get("method"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":0,"list":[{"fs_id":7,"path":"/a/b.txt","size":123,"isdir":0,"server_mtime":1000,"md5":"abc"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	rf, err := c.Meta(context.Background(), "/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rf.FSID)
	assert.Equal(t, "/a/b.txt", rf.Path)
	assert.EqualValues(t, 123, rf.Size)
	assert.Equal(t, "abc", rf.MD5)
}

func TestMeta_APIErrnoBecomesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":-6,"errmsg":"no permission"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Meta(context.Background(), "/a/b.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "errno=-6")
}

func TestMeta_NoEntriesIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":0,"list":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Meta(context.Background(), "/a/b.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocolErrNoEntries)
}

func TestPrecreate_ReturnsNeededIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":0,"uploadid":"up-1","return_type":1,"block_list":[0,2]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := c.Precreate(context.Background(), "/a/b.bin", 100, []string{"m0", "m1", "m2"}, xpantypes.Overwrite)
	require.NoError(t, err)
	assert.Equal(t, "up-1", res.UploadID)
	assert.Equal(t, []int{0, 2}, res.NeededIndices)
}

func TestRapidUpload_HitReturnsRemoteFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":0,"return_type":2,"fs_id":55,"path":"/a/b.bin","size":1000,"md5":"deadbeef"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := c.RapidUpload(context.Background(), 1000, "deadbeef", "sl1", 99, "/a/b.bin", xpantypes.FailIfExists)
	require.NoError(t, err)
	assert.True(t, res.Eligible)
	assert.Equal(t, uint64(55), res.File.FSID)
}

func TestRapidUpload_MissReturnsIneligible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":0,"return_type":1,"uploadid":"up-2"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := c.RapidUpload(context.Background(), 1000, "deadbeef", "sl1", 99, "/a/b.bin", xpantypes.FailIfExists)
	require.NoError(t, err)
	assert.False(t, res.Eligible)
}

func TestList_PaginatesViaHasMore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("start") == "0" {
			w.Write([]byte(`{"errno":0,"list":[{"path":"/a"},{"path":"/b"}],"has_more":1}`))
		} else {
			w.Write([]byte(`{"errno":0,"list":[{"path":"/c"}],"has_more":0}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page1, err := c.List(context.Background(), "/", true, "")
	require.NoError(t, err)
	assert.Len(t, page1.Entries, 2)
	assert.NotEmpty(t, page1.NextPageToken)

	page2, err := c.List(context.Background(), "/", true, page1.NextPageToken)
	require.NoError(t, err)
	assert.Len(t, page2.Entries, 1)
	assert.Empty(t, page2.NextPageToken)
}

func TestDlink_ErrorsWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":0,"list":[{"path":"/a"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Dlink(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocolErrNoDlink)
}

func TestCreate_MissingFSIDIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errno":0,"fs_id":0}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Create(context.Background(), "up-1", "/a/b.bin", 100, []string{"m0"}, xpantypes.Overwrite)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocolErrMissingFSID)
}

func TestClassifyHTTPStatus_MarksTransientAndAuth(t *testing.T) {
	err := classifyHTTPStatus("get", 503)
	var transient *xpanerr.TransientError
	require.ErrorAs(t, err, &transient)

	err = classifyHTTPStatus("get", 401)
	var auth *xpanerr.AuthError
	require.ErrorAs(t, err, &auth)
}
