package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xpan-cli/xpan/internal/resume"
	"github.com/xpan-cli/xpan/internal/workerpool"
	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// downloadSegmented is the multi-link path: acquire opts.Workers
// dlinks in parallel, preallocate the temp file, and fan ranged GETs
// across a worker pool with resumable, positional writes.
func (d *Downloader) downloadSegmented(ctx context.Context, meta xpantypes.RemoteFile, localPath string, opts Options) (xpantypes.LocalFile, error) {
	segmentSize := opts.SegmentSize
	if segmentSize <= 0 {
		segmentSize = DefaultOptions().SegmentSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultOptions().Workers
	}

	key := resume.DownloadKey(meta.FSID, localPath)
	tempPath := localPath + ".part"

	sess := d.loadOrCreateDownloadSession(key, meta, localPath, segmentSize, tempPath)

	if err := preallocate(sess.TempPath, sess.TotalSize); err != nil {
		return xpantypes.LocalFile{}, err
	}

	pool, err := acquireLinks(ctx, d.api, meta.FSID, workers, d.policy)
	if err != nil {
		return xpantypes.LocalFile{}, err
	}

	d.progress.SetTotal(sess.TotalSize)
	for _, i := range completedList(sess) {
		start, end := sess.SegmentRange(i)
		d.progress.Add(end - start)
	}

	if err := d.runSegments(ctx, sess, key, pool, workers); err != nil {
		return xpantypes.LocalFile{}, err
	}

	return d.assemble(sess, meta, localPath, key, opts)
}

func (d *Downloader) loadOrCreateDownloadSession(key string, meta xpantypes.RemoteFile, localPath string, segmentSize int64, tempPath string) *resume.DownloadSession {
	if sess, ok := d.sessions.LoadDownload(key); ok && sess.RemoteFSID == meta.FSID && sess.TotalSize == meta.Size {
		if sess.TempPath == "" {
			sess.TempPath = tempPath
		}
		return sess
	}
	_ = d.sessions.ClearDownload(key)
	os.Truncate(tempPath, 0)
	return &resume.DownloadSession{
		RemoteFSID:        meta.FSID,
		RemotePath:        meta.Path,
		LocalPath:         localPath,
		TotalSize:         meta.Size,
		SegmentSize:       segmentSize,
		CompletedSegments: make(map[int]bool),
		TempPath:          tempPath,
	}
}

func completedList(sess *resume.DownloadSession) []int {
	out := make([]int, 0, len(sess.CompletedSegments))
	for i := range sess.CompletedSegments {
		out = append(out, i)
	}
	return out
}

func preallocate(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &xpanerr.LocalIOError{Path: path, Err: err}
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return &xpanerr.LocalIOError{Path: path, Err: err}
	}
	return nil
}

// runSegments drains the remaining segment indices through a worker
// pool, writing each directly into its offset in the shared temp file
// handle and batching Resume Store flushes per segmentFlushInterval
// completions, always flushing on the last segment or on cancellation.
func (d *Downloader) runSegments(ctx context.Context, sess *resume.DownloadSession, key string, pool *linkPool, workers int) error {
	remaining := sess.Remaining()
	if len(remaining) == 0 {
		return nil
	}

	f, err := os.OpenFile(sess.TempPath, os.O_WRONLY, 0o644)
	if err != nil {
		return &xpanerr.LocalIOError{Path: sess.TempPath, Err: err}
	}
	defer f.Close()

	var mu sync.Mutex
	sinceFlush := 0

	tasks := make([]workerpool.Task[struct{}], len(remaining))
	for t, idx := range remaining {
		idx := idx
		tasks[t] = func(ctx context.Context, taskIndex int) (struct{}, error) {
			worker := taskIndex % workers
			start, end := sess.SegmentRange(idx)

			if err := d.getSegmentWithRefresh(ctx, pool, worker, f, start, end); err != nil {
				mu.Lock()
				_ = d.sessions.SaveDownload(key, sess)
				mu.Unlock()
				return struct{}{}, err
			}

			mu.Lock()
			sess.MarkSegmentDone(idx)
			sinceFlush++
			due := sinceFlush >= segmentFlushInterval
			if due {
				sinceFlush = 0
			}
			mu.Unlock()

			d.progress.Add(end - start)
			if due {
				mu.Lock()
				err := d.sessions.SaveDownload(key, sess)
				mu.Unlock()
				if err != nil {
					return struct{}{}, &xpanerr.LocalIOError{Path: key, Err: err}
				}
			}
			return struct{}{}, nil
		}
	}

	_, runErr := workerpool.Run(ctx, workers, workers, tasks)

	mu.Lock()
	err = d.sessions.SaveDownload(key, sess)
	mu.Unlock()
	if err != nil && runErr == nil {
		runErr = &xpanerr.LocalIOError{Path: key, Err: err}
	}
	return runErr
}

func (d *Downloader) getSegmentWithRefresh(ctx context.Context, pool *linkPool, worker int, f *os.File, start, end int64) error {
	refreshed := false
	for {
		url := pool.linkFor(worker)
		w := io.NewOffsetWriter(f, start)
		n, err := d.api.GetRange(ctx, url, start, end, w)

		var expired *xpanerr.LinkExpiredError
		if errors.As(err, &expired) && !refreshed {
			if rerr := pool.refresh(ctx, worker); rerr != nil {
				return rerr
			}
			refreshed = true
			continue
		}
		if err != nil {
			return err
		}
		if want := end - start; n != want {
			return &xpanerr.IntegrityError{Path: f.Name(), Expected: want, Actual: n, Detail: "segment short write"}
		}
		return nil
	}
}

// assemble verifies total size, optionally verifies end-to-end MD5,
// renames the temp file into place, and clears the Resume Store entry.
func (d *Downloader) assemble(sess *resume.DownloadSession, meta xpantypes.RemoteFile, localPath, key string, opts Options) (xpantypes.LocalFile, error) {
	info, err := os.Stat(sess.TempPath)
	if err != nil {
		return xpantypes.LocalFile{}, &xpanerr.LocalIOError{Path: sess.TempPath, Err: err}
	}
	if info.Size() != sess.TotalSize {
		return xpantypes.LocalFile{}, &xpanerr.IntegrityError{Path: localPath, Expected: sess.TotalSize, Actual: info.Size()}
	}

	// The provider's reported md5 is non-standard for some large files
	// (spec.md open question); a mismatch here is only surfaced when
	// verification is explicitly opted into.
	if opts.VerifyMD5 && meta.MD5 != "" {
		sum, err := md5File(sess.TempPath)
		if err != nil {
			return xpantypes.LocalFile{}, err
		}
		if sum != meta.MD5 {
			return xpantypes.LocalFile{}, &xpanerr.IntegrityError{Path: localPath, Detail: fmt.Sprintf("md5 mismatch: local=%s remote=%s", sum, meta.MD5)}
		}
	}

	if err := fsyncBestEffort(sess.TempPath); err != nil {
		// best-effort: fsync failure doesn't block the rename.
		_ = err
	}

	if err := finalizeTempFile(sess.TempPath, localPath); err != nil {
		return xpantypes.LocalFile{}, err
	}
	_ = d.sessions.ClearDownload(key)

	final, err := os.Stat(localPath)
	if err != nil {
		return xpantypes.LocalFile{}, &xpanerr.LocalIOError{Path: localPath, Err: err}
	}
	return xpantypes.LocalFile{Path: localPath, Size: final.Size(), MTime: final.ModTime()}, nil
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &xpanerr.LocalIOError{Path: path, Err: err}
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &xpanerr.LocalIOError{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fsyncBestEffort(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
