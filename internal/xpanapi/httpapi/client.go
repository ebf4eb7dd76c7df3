package httpapi

import (
	"fmt"
	"time"

	"github.com/imroc/req/v3"
	"resty.dev/v3"

	"github.com/xpan-cli/xpan/internal/version"
	"github.com/xpan-cli/xpan/internal/xpanapi"
)

const (
	apiBase = "https://pan.baidu.com"
	pcsBase = "https://d.pcs.baidu.com"

	pathList       = "/rest/2.0/xpan/file"       // ?method=list
	pathPrecreate  = "/rest/2.0/xpan/file"       // ?method=precreate
	pathCreate     = "/rest/2.0/xpan/file"       // ?method=create
	pathMeta       = "/rest/2.0/xpan/multimedia" // ?method=filemetas
	pathUpload     = "/rest/2.0/pcs/superfile2"  // ?method=upload, hosted on pcsBase

	userAgent = "pan.baidu.com"
)

// Client is the concrete provider API client. It owns two HTTP
// clients with different jobs: jsonClient issues the small structured
// JSON calls, streamClient issues the large-bodied slice uploads and
// ranged downloads where req's callback hooks and SectionReader
// support matter.
type Client struct {
	jsonClient   *resty.Client
	streamClient *req.Client
	tokens       xpanapi.TokenProvider
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout overrides the default 30s control-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.jsonClient.SetTimeout(d)
	}
}

// New builds a Client against the provider's production hosts. tokens
// supplies the bearer token attached to every request; its
// CurrentToken is called once per request, never cached here, so a
// refreshed token takes effect on the very next call.
func New(tokens xpanapi.TokenProvider, opts ...Option) *Client {
	jsonClient := resty.New().
		SetBaseURL(apiBase).
		SetHeader("User-Agent", userAgent).
		SetHeader("X-Xpan-Client-Version", version.Version).
		SetTimeout(30 * time.Second)

	streamClient := req.C().
		SetUserAgent(userAgent).
		SetTimeout(0) // no fixed deadline: UploadSlice/GetRange enforce their own idle watchdog instead

	c := &Client{
		jsonClient:   jsonClient,
		streamClient: streamClient,
		tokens:       tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the JSON client's resources; the streaming client is
// not closed.
func (c *Client) Close() {
	c.jsonClient.Close()
}

func checkErrno(op string, r errnoResponse) error {
	if r.failed() {
		return fmt.Errorf("xpan: %s: errno=%d %s (request_id=%s)", op, r.Errno, r.ErrMsg, r.RequestID)
	}
	return nil
}

var _ xpanapi.APIClient = (*Client)(nil)
