// Package httpapi is the concrete APIClient implementation that talks
// to the provider's xpan REST surface: resty.dev/v3 for the structured
// JSON calls (precreate/create/meta/list/dlink) the way the reference
// SDK client wires resty with content encoders/decoders, and
// imroc/req/v3 for the raw byte-streaming POST/GET (slice upload,
// ranged download) the way the reference SDK streams uploads and
// downloads through req's request builder.
package httpapi

// errnoResponse is embedded in every JSON response; a nonzero Errno
// means the call failed despite a 200 status, the provider's own
// error-signaling convention.
type errnoResponse struct {
	Errno     int    `json:"errno"`
	ErrMsg    string `json:"errmsg"`
	RequestID string `json:"request_id"`
}

func (r errnoResponse) failed() bool { return r.Errno != 0 }

type precreateResponse struct {
	errnoResponse
	Path       string `json:"path"`
	UploadID   string `json:"uploadid"`
	ReturnType int    `json:"return_type"` // 1 = needs chunked upload, 2 = rapid-upload hit
	BlockList  []int  `json:"block_list"`  // indices the server still wants, when ReturnType == 1
	FSID       uint64 `json:"fs_id"`
	MD5        string `json:"md5"`
	Size       int64  `json:"size"`
	CTime      int64  `json:"ctime"`
}

type uploadSliceResponse struct {
	errnoResponse
	MD5 string `json:"md5"`
}

type createResponse struct {
	errnoResponse
	FSID  uint64 `json:"fs_id"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	MD5   string `json:"md5"`
	CTime int64  `json:"ctime"`
}

type metaResponse struct {
	errnoResponse
	List []metaEntry `json:"list"`
}

type metaEntry struct {
	FSID    uint64 `json:"fs_id"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	IsDir   int    `json:"isdir"`
	ServerM int64  `json:"server_mtime"`
	MD5     string `json:"md5"`
	Dlink   string `json:"dlink"`
}

type listResponse struct {
	errnoResponse
	List    []metaEntry `json:"list"`
	HasMore int         `json:"has_more"`
	Cursor  string      `json:"cursor"`
}
