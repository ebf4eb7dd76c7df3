package downloader

import (
	"context"
	"errors"
	"os"

	"github.com/xpan-cli/xpan/internal/resume"
	"github.com/xpan-cli/xpan/internal/retry"
	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xpantypes"
	"github.com/xpan-cli/xpan/internal/xutil"
)

// segmentFlushInterval is how many completed segments accumulate
// before the Resume Store is written, per spec.md 4.F step 6 ("batched
// flush, e.g. every M segments"). Always flushed on completion and on
// cancellation regardless of this count.
const segmentFlushInterval = 8

// Downloader drives a single download end to end: metadata fetch,
// small-file short-circuit, parallel dlink acquisition, and segmented
// resumable ranged GET.
type Downloader struct {
	api      xpanapi.APIClient
	sessions *resume.Store
	tokens   xpanapi.TokenProvider
	progress xpanapi.ProgressSink
	policy   retry.Policy
}

// New builds a Downloader. progress may be nil. policy governs every
// API-call retry this Downloader issues, including dlink acquisition;
// the zero value falls back to retry.DefaultPolicy.
func New(api xpanapi.APIClient, sessions *resume.Store, tokens xpanapi.TokenProvider, progress xpanapi.ProgressSink, policy retry.Policy) *Downloader {
	if progress == nil {
		progress = xpanapi.NopProgressSink{}
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy
	}
	return &Downloader{api: api, sessions: sessions, tokens: tokens, progress: progress, policy: policy}
}

// Download fetches remotePath into localPath, returning the resulting
// LocalFile. It is safe to call again after an interruption; the
// Resume Store picks up where the last attempt left off.
func (d *Downloader) Download(ctx context.Context, remotePath, localPath string, opts Options) (xpantypes.LocalFile, error) {
	meta, err := d.fetchMeta(ctx, remotePath)
	if err != nil {
		return xpantypes.LocalFile{}, err
	}

	cutover := opts.SmallFileCutover
	if cutover <= 0 {
		cutover = DefaultOptions().SmallFileCutover
	}
	if meta.Size < cutover {
		return d.downloadWhole(ctx, meta, localPath)
	}

	return d.downloadSegmented(ctx, meta, localPath, opts)
}

func (d *Downloader) fetchMeta(ctx context.Context, remotePath string) (xpantypes.RemoteFile, error) {
	var meta xpantypes.RemoteFile
	err := retry.Do(ctx, d.policy, d.refreshFn(), func(ctx context.Context, attempt int) error {
		var err error
		meta, err = d.api.Meta(ctx, remotePath)
		return err
	})
	if err != nil {
		return xpantypes.RemoteFile{}, err
	}
	return meta, nil
}

// downloadWhole is the small-file path: one GET to a single link,
// straight to a temp file, then rename. Segmentation overhead isn't
// worth it below the configured cutover.
func (d *Downloader) downloadWhole(ctx context.Context, meta xpantypes.RemoteFile, localPath string) (xpantypes.LocalFile, error) {
	pool, err := acquireLinks(ctx, d.api, meta.FSID, 1, d.policy)
	if err != nil {
		return xpantypes.LocalFile{}, err
	}

	tempPath := localPath + ".part"
	if err := xutil.EnsureParent(tempPath); err != nil {
		return xpantypes.LocalFile{}, &xpanerr.LocalIOError{Path: tempPath, Err: err}
	}

	d.progress.SetTotal(meta.Size)

	n, err := d.getRangeWithRefresh(ctx, pool, 0, 0, meta.Size, tempPath, true)
	if err != nil {
		return xpantypes.LocalFile{}, err
	}
	if n != meta.Size {
		os.Remove(tempPath)
		return xpantypes.LocalFile{}, &xpanerr.IntegrityError{Path: localPath, Expected: meta.Size, Actual: n}
	}
	d.progress.Add(n)

	if err := finalizeTempFile(tempPath, localPath); err != nil {
		return xpantypes.LocalFile{}, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return xpantypes.LocalFile{}, &xpanerr.LocalIOError{Path: localPath, Err: err}
	}
	return xpantypes.LocalFile{Path: localPath, Size: info.Size(), MTime: info.ModTime()}, nil
}

// getRangeWithRefresh issues one ranged GET through worker's assigned
// link, truncating and refreshing the link once on a LinkExpiredError
// before giving up. truncate overwrites tempPath from scratch (used by
// the small-file path, which has no preallocated segment layout).
func (d *Downloader) getRangeWithRefresh(ctx context.Context, pool *linkPool, worker int, start, end int64, tempPath string, truncate bool) (int64, error) {
	refreshed := false
	for {
		flag := os.O_CREATE | os.O_WRONLY
		if truncate {
			flag |= os.O_TRUNC
		}
		f, err := os.OpenFile(tempPath, flag, 0o644)
		if err != nil {
			return 0, &xpanerr.LocalIOError{Path: tempPath, Err: err}
		}

		url := pool.linkFor(worker)
		n, err := d.api.GetRange(ctx, url, start, end, f)
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = &xpanerr.LocalIOError{Path: tempPath, Err: closeErr}
		}

		var expired *xpanerr.LinkExpiredError
		if errors.As(err, &expired) && !refreshed {
			if rerr := pool.refresh(ctx, worker); rerr != nil {
				return 0, rerr
			}
			refreshed = true
			continue
		}
		return n, err
	}
}

func finalizeTempFile(tempPath, finalPath string) error {
	if err := xutil.EnsureParent(finalPath); err != nil {
		return &xpanerr.LocalIOError{Path: finalPath, Err: err}
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return &xpanerr.LocalIOError{Path: finalPath, Err: err}
	}
	return nil
}

func (d *Downloader) refreshFn() retry.RefreshFunc {
	if d.tokens == nil {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := d.tokens.Refresh(ctx)
		return err
	}
}
