package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// RapidUpload probes for a server-side copy of the content. The
// provider folds rapid-upload into precreate: a populated content-md5
// and slice-md5 on a precreate call makes the server attempt the match
// itself, and return_type == 2 reports a hit.
func (c *Client) RapidUpload(ctx context.Context, size int64, md5, sliceMD5 string, crc32 uint32, remotePath string, mode xpanapi.OverwriteMode) (xpanapi.RapidUploadResult, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return xpanapi.RapidUploadResult{}, err
	}

	var resp precreateResponse
	r, err := c.jsonClient.R().
		SetContext(ctx).
		SetQueryParam("method", "precreate").
		SetQueryParam("access_token", token).
		SetFormData(map[string]string{
			"path":        remotePath,
			"size":        strconv.FormatInt(size, 10),
			"isdir":       "0",
			"autoinit":    "1",
			"rtype":       rtypeFor(mode),
			"block_list":  "[]",
			"content-md5": md5,
			"slice-md5":   sliceMD5,
		}).
		SetResult(&resp).
		Post(pathPrecreate)
	if err := httpErr(r, err, "rapidupload"); err != nil {
		return xpanapi.RapidUploadResult{}, err
	}
	if err := checkErrno("rapidupload", resp.errnoResponse); err != nil {
		return xpanapi.RapidUploadResult{}, classifyAPIErr(err, resp.Errno)
	}

	if resp.ReturnType != 2 {
		return xpanapi.RapidUploadResult{Eligible: false}, nil
	}

	return xpanapi.RapidUploadResult{
		Eligible: true,
		File: xpantypes.RemoteFile{
			FSID:  resp.FSID,
			Path:  resp.Path,
			Size:  resp.Size,
			MTime: time.Unix(resp.CTime, 0),
			MD5:   resp.MD5,
		},
	}, nil
}

// Precreate registers the block digest list and learns which chunks
// the server still needs.
func (c *Client) Precreate(ctx context.Context, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpanapi.PrecreateResult, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return xpanapi.PrecreateResult{}, err
	}

	blockJSON, err := json.Marshal(blockMD5s)
	if err != nil {
		return xpanapi.PrecreateResult{}, err
	}

	var resp precreateResponse
	r, err := c.jsonClient.R().
		SetContext(ctx).
		SetQueryParam("method", "precreate").
		SetQueryParam("access_token", token).
		SetFormData(map[string]string{
			"path":       remotePath,
			"size":       strconv.FormatInt(size, 10),
			"isdir":      "0",
			"autoinit":   "1",
			"rtype":      rtypeFor(mode),
			"block_list": string(blockJSON),
		}).
		SetResult(&resp).
		Post(pathPrecreate)
	if err := httpErr(r, err, "precreate"); err != nil {
		return xpanapi.PrecreateResult{}, err
	}
	if err := checkErrno("precreate", resp.errnoResponse); err != nil {
		return xpanapi.PrecreateResult{}, classifyAPIErr(err, resp.Errno)
	}

	needed := resp.BlockList
	if needed == nil {
		needed = make([]int, len(blockMD5s))
		for i := range needed {
			needed[i] = i
		}
	}

	return xpanapi.PrecreateResult{UploadID: resp.UploadID, NeededIndices: needed}, nil
}

// UploadSlice streams one chunk to the provider's superfile2 endpoint,
// hosted on a separate PCS host from the JSON API.
func (c *Client) UploadSlice(ctx context.Context, uploadID, remotePath string, index int, r io.Reader, size int64) (string, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return "", err
	}

	wctx, watchdog := watchIdle(ctx)
	defer watchdog.stop()

	var resp uploadSliceResponse
	req := c.streamClient.R().
		SetContext(wctx).
		SetQueryParam("method", "upload").
		SetQueryParam("type", "tmpfile").
		SetQueryParam("access_token", token).
		SetQueryParam("path", remotePath).
		SetQueryParam("uploadid", uploadID).
		SetQueryParam("partseq", strconv.Itoa(index)).
		SetFileReader("file", "chunk", watchdogReader{r: r, wd: watchdog}).
		SetSuccessResult(&resp)

	httpResp, err := req.Post(pcsBase + pathUpload)
	if err != nil {
		return "", &xpanerr.TransientError{Op: "upload_slice", Err: err}
	}
	if httpResp.StatusCode == 400 {
		return "", &xpanerr.SessionExpiredError{UploadID: uploadID}
	}
	if httpResp.IsErrorState() {
		return "", classifyHTTPStatus("upload_slice", httpResp.StatusCode)
	}
	if err := checkErrno("upload_slice", resp.errnoResponse); err != nil {
		return "", classifyAPIErr(err, resp.Errno)
	}

	return resp.MD5, nil
}

// Create commits the upload.
func (c *Client) Create(ctx context.Context, uploadID, remotePath string, size int64, blockMD5s []string, mode xpanapi.OverwriteMode) (xpantypes.RemoteFile, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return xpantypes.RemoteFile{}, err
	}

	blockJSON, err := json.Marshal(blockMD5s)
	if err != nil {
		return xpantypes.RemoteFile{}, err
	}

	var resp createResponse
	r, err := c.jsonClient.R().
		SetContext(ctx).
		SetQueryParam("method", "create").
		SetQueryParam("access_token", token).
		SetFormData(map[string]string{
			"path":       remotePath,
			"size":       strconv.FormatInt(size, 10),
			"isdir":      "0",
			"rtype":      rtypeFor(mode),
			"uploadid":   uploadID,
			"block_list": string(blockJSON),
		}).
		SetResult(&resp).
		Post(pathCreate)
	if err := httpErr(r, err, "create"); err != nil {
		return xpantypes.RemoteFile{}, err
	}
	if err := checkErrno("create", resp.errnoResponse); err != nil {
		return xpantypes.RemoteFile{}, classifyAPIErr(err, resp.Errno)
	}
	if resp.FSID == 0 {
		return xpantypes.RemoteFile{}, fmt.Errorf("xpan: create: %w", protocolErrMissingFSID)
	}

	return xpantypes.RemoteFile{
		FSID:  resp.FSID,
		Path:  resp.Path,
		Size:  resp.Size,
		MTime: time.Unix(resp.CTime, 0),
		MD5:   resp.MD5,
	}, nil
}

// Meta fetches metadata for a single remote path.
func (c *Client) Meta(ctx context.Context, remotePath string) (xpantypes.RemoteFile, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return xpantypes.RemoteFile{}, err
	}

	var resp metaResponse
	r, err := c.jsonClient.R().
		SetContext(ctx).
		SetQueryParam("method", "filemetas").
		SetQueryParam("access_token", token).
		SetQueryParam("path", remotePath).
		SetQueryParam("dlink", "0").
		SetResult(&resp).
		Get(pathMeta)
	if err := httpErr(r, err, "meta"); err != nil {
		return xpantypes.RemoteFile{}, err
	}
	if err := checkErrno("meta", resp.errnoResponse); err != nil {
		return xpantypes.RemoteFile{}, classifyAPIErr(err, resp.Errno)
	}
	if len(resp.List) == 0 {
		return xpantypes.RemoteFile{}, fmt.Errorf("xpan: meta: %w", protocolErrNoEntries)
	}

	return entryToRemoteFile(resp.List[0]), nil
}

// List returns one page of a recursive directory listing.
func (c *Client) List(ctx context.Context, remoteDir string, recursive bool, pageToken string) (xpanapi.ListPage, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return xpanapi.ListPage{}, err
	}

	start := "0"
	if pageToken != "" {
		start = pageToken
	}

	var resp listResponse
	r, err := c.jsonClient.R().
		SetContext(ctx).
		SetQueryParam("method", "list").
		SetQueryParam("access_token", token).
		SetQueryParam("dir", remoteDir).
		SetQueryParam("start", start).
		SetQueryParam("limit", "1000").
		SetQueryParam("recursion", boolToStr(recursive)).
		SetResult(&resp).
		Get(pathList)
	if err := httpErr(r, err, "list"); err != nil {
		return xpanapi.ListPage{}, err
	}
	if err := checkErrno("list", resp.errnoResponse); err != nil {
		return xpanapi.ListPage{}, classifyAPIErr(err, resp.Errno)
	}

	entries := make([]xpantypes.RemoteFile, len(resp.List))
	for i, e := range resp.List {
		entries[i] = entryToRemoteFile(e)
	}

	page := xpanapi.ListPage{Entries: entries}
	if resp.HasMore != 0 {
		page.NextPageToken = strconv.Itoa(len(resp.List) + mustAtoi(start))
	}
	return page, nil
}

// Dlink fetches a short-lived signed URL for fsid via filemetas with
// dlink=1.
func (c *Client) Dlink(ctx context.Context, fsid uint64) (string, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return "", err
	}

	var resp metaResponse
	r, err := c.jsonClient.R().
		SetContext(ctx).
		SetQueryParam("method", "filemetas").
		SetQueryParam("access_token", token).
		SetQueryParam("fsids", "["+strconv.FormatUint(fsid, 10)+"]").
		SetQueryParam("dlink", "1").
		SetResult(&resp).
		Get(pathMeta)
	if err := httpErr(r, err, "dlink"); err != nil {
		return "", err
	}
	if err := checkErrno("dlink", resp.errnoResponse); err != nil {
		return "", classifyAPIErr(err, resp.Errno)
	}
	if len(resp.List) == 0 || resp.List[0].Dlink == "" {
		return "", fmt.Errorf("xpan: dlink: %w", protocolErrNoDlink)
	}

	return resp.List[0].Dlink, nil
}

// GetRange performs a ranged GET and streams the body to w.
func (c *Client) GetRange(ctx context.Context, url string, start, end int64, w io.Writer) (int64, error) {
	token, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return 0, err
	}

	rangeHeader := fmt.Sprintf("bytes=%d-", start)
	if end > 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", start, end-1)
	}

	wctx, watchdog := watchIdle(ctx)
	defer watchdog.stop()

	resp, err := c.streamClient.R().
		SetContext(wctx).
		SetQueryParam("access_token", token).
		SetHeader("Range", rangeHeader).
		DisableAutoReadResponse().
		Get(url)
	if err != nil {
		return 0, &xpanerr.TransientError{Op: "get_range", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == 403 {
		return 0, &xpanerr.LinkExpiredError{URL: url}
	}
	if resp.StatusCode != 200 && resp.StatusCode != 206 {
		return 0, classifyHTTPStatus("get_range", resp.StatusCode)
	}

	n, err := io.Copy(watchdogWriter{w: w, wd: watchdog}, resp.Body)
	if err != nil {
		return n, &xpanerr.TransientError{Op: "get_range", Err: err}
	}
	return n, nil
}

func entryToRemoteFile(e metaEntry) xpantypes.RemoteFile {
	return xpantypes.RemoteFile{
		FSID:  e.FSID,
		Path:  e.Path,
		Size:  e.Size,
		MTime: time.Unix(e.ServerM, 0),
		IsDir: e.IsDir != 0,
		MD5:   e.MD5,
	}
}

func rtypeFor(mode xpanapi.OverwriteMode) string {
	switch mode {
	case xpantypes.Overwrite:
		return "3"
	case xpantypes.Rename:
		return "1"
	case xpantypes.Skip:
		return "2"
	default: // FailIfExists
		return "0"
	}
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
