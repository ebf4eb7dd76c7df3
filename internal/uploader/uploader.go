package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/xpan-cli/xpan/internal/hasher"
	"github.com/xpan-cli/xpan/internal/hashcache"
	"github.com/xpan-cli/xpan/internal/resume"
	"github.com/xpan-cli/xpan/internal/retry"
	"github.com/xpan-cli/xpan/internal/workerpool"
	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// Uploader drives a single upload end to end: rapid-upload probe,
// resume check, precreate, parallel slice upload, and create.
type Uploader struct {
	api      xpanapi.APIClient
	hashes   *hashcache.Cache
	sessions *resume.Store
	tokens   xpanapi.TokenProvider
	progress xpanapi.ProgressSink
	policy   retry.Policy
}

// New builds an Uploader. progress may be nil. policy governs every
// API-call retry this Uploader issues; the zero value falls back to
// retry.DefaultPolicy.
func New(api xpanapi.APIClient, hashes *hashcache.Cache, sessions *resume.Store, tokens xpanapi.TokenProvider, progress xpanapi.ProgressSink, policy retry.Policy) *Uploader {
	if progress == nil {
		progress = xpanapi.NopProgressSink{}
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy
	}
	return &Uploader{api: api, hashes: hashes, sessions: sessions, tokens: tokens, progress: progress, policy: policy}
}

// Upload sends localPath to remotePath, returning the resulting
// RemoteFile. It is safe to call again for the same arguments after an
// interruption; the Resume Store picks up where the last attempt left
// off.
func (u *Uploader) Upload(ctx context.Context, localPath, remotePath string, opts Options) (xpantypes.RemoteFile, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return xpantypes.RemoteFile{}, &xpanerr.LocalIOError{Path: localPath, Err: err}
	}
	size := info.Size()
	mtimeNS := info.ModTime().UnixNano()

	digest, err := u.digestFile(localPath, mtimeNS, size, opts.SliceMD5Size)
	if err != nil {
		return xpantypes.RemoteFile{}, err
	}

	if size >= opts.RapidUploadThreshold {
		rf, ok, err := u.tryRapidUpload(ctx, digest, remotePath, opts)
		if err != nil {
			return xpantypes.RemoteFile{}, err
		}
		if ok {
			return rf, nil
		}
	}

	chunkSize := opts.effectiveChunkSize(size)

	blocks, err := u.computeBlockDigests(localPath, size, chunkSize)
	if err != nil {
		return xpantypes.RemoteFile{}, err
	}

	key := resume.UploadKey(localPath, size, chunkSize, remotePath)
	sess := u.loadOrCreateSession(key, localPath, remotePath, size, chunkSize, blocks, digest)

	if sess.UploadID == "" {
		needed, err := u.precreate(ctx, sess, remotePath, opts)
		if err != nil {
			return xpantypes.RemoteFile{}, err
		}
		u.applyNeededIndices(sess, needed)
		if err := u.sessions.SaveUpload(key, sess); err != nil {
			return xpantypes.RemoteFile{}, &xpanerr.LocalIOError{Path: key, Err: err}
		}
	}

	u.progress.SetTotal(size)
	if err := u.uploadSlicesWithSessionRefresh(ctx, sess, key, localPath, remotePath, size, mtimeNS, opts); err != nil {
		return xpantypes.RemoteFile{}, err
	}

	rf, err := u.create(ctx, sess, remotePath, size, opts)
	if err != nil {
		return xpantypes.RemoteFile{}, err
	}

	_ = u.sessions.ClearUpload(key)
	return rf, nil
}

func (u *Uploader) digestFile(path string, mtimeNS, size int64, sliceSize int64) (xpantypes.FileDigest, error) {
	if u.hashes != nil {
		if d, ok := u.hashes.Lookup(path, mtimeNS, size); ok {
			return d, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return xpantypes.FileDigest{}, &xpanerr.LocalIOError{Path: path, Err: err}
	}
	defer f.Close()

	d, err := hasher.Digest(f, sliceSize)
	if err != nil {
		return xpantypes.FileDigest{}, &xpanerr.LocalIOError{Path: path, Err: err}
	}

	if u.hashes != nil {
		_ = u.hashes.Store(path, mtimeNS, size, d)
	}
	return d, nil
}

func (u *Uploader) computeBlockDigests(path string, size, chunkSize int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &xpanerr.LocalIOError{Path: path, Err: err}
	}
	defer f.Close()

	blocks, err := blockDigests(f, size, chunkSize)
	if err != nil {
		return nil, &xpanerr.LocalIOError{Path: path, Err: err}
	}
	return blocks, nil
}

func (u *Uploader) tryRapidUpload(ctx context.Context, digest xpantypes.FileDigest, remotePath string, opts Options) (xpantypes.RemoteFile, bool, error) {
	var result xpanapi.RapidUploadResult
	err := retry.Do(ctx, u.policy, u.refreshFn(), func(ctx context.Context, attempt int) error {
		var err error
		result, err = u.api.RapidUpload(ctx, digest.Size, digest.MD5Hex(), digest.SliceMD5Hex(), digest.CRC32, remotePath, opts.OverwritePolicy)
		return err
	})
	if err != nil {
		return xpantypes.RemoteFile{}, false, classifyConflict(err, remotePath, opts.OverwritePolicy)
	}
	return result.File, result.Eligible, nil
}

func (u *Uploader) loadOrCreateSession(key, localPath, remotePath string, size, chunkSize int64, blocks []string, digest xpantypes.FileDigest) *resume.UploadSession {
	if sess, ok := u.sessions.LoadUpload(key); ok && sessionStillMatches(sess, size, chunkSize, blocks) {
		return sess
	}
	_ = u.sessions.ClearUpload(key)
	return &resume.UploadSession{
		RemotePath:      remotePath,
		LocalPath:       localPath,
		ChunkSize:       chunkSize,
		TotalChunks:     len(blocks),
		BlockDigests:    blocks,
		CompletedChunks: make(map[int]bool, len(blocks)),
		Digest:          digest,
	}
}

func sessionStillMatches(sess *resume.UploadSession, size, chunkSize int64, blocks []string) bool {
	if !sess.Valid() {
		return false
	}
	if sess.ChunkSize != chunkSize || sess.TotalChunks != len(blocks) {
		return false
	}
	for i, b := range blocks {
		if sess.BlockDigests[i] != b {
			return false
		}
	}
	return true
}

func (u *Uploader) precreate(ctx context.Context, sess *resume.UploadSession, remotePath string, opts Options) (xpanapi.PrecreateResult, error) {
	var result xpanapi.PrecreateResult
	err := retry.Do(ctx, u.policy, u.refreshFn(), func(ctx context.Context, attempt int) error {
		var err error
		result, err = u.api.Precreate(ctx, remotePath, sess.Digest.Size, sess.BlockDigests, opts.OverwritePolicy)
		return err
	})
	if err != nil {
		return xpanapi.PrecreateResult{}, classifyConflict(err, remotePath, opts.OverwritePolicy)
	}
	return result, nil
}

func (u *Uploader) applyNeededIndices(sess *resume.UploadSession, result xpanapi.PrecreateResult) {
	sess.UploadID = result.UploadID

	needed := make(map[int]bool, len(result.NeededIndices))
	for _, idx := range result.NeededIndices {
		needed[idx] = true
	}
	for i := 0; i < sess.TotalChunks; i++ {
		if !needed[i] {
			sess.MarkChunkDone(i)
		}
	}
}

func (u *Uploader) uploadSlices(ctx context.Context, sess *resume.UploadSession, key, localPath, remotePath string, size, mtimeNS int64, opts Options) error {
	remaining := sess.Remaining()
	if len(remaining) == 0 {
		return nil
	}

	already := int64(0)
	for i := 0; i < sess.TotalChunks; i++ {
		if sess.CompletedChunks[i] {
			already += chunkLen(i, sess.ChunkSize, size)
		}
	}
	u.progress.Add(already)

	var mu sync.Mutex
	tasks := make([]workerpool.Task[struct{}], len(remaining))
	for t, idx := range remaining {
		idx := idx
		tasks[t] = func(ctx context.Context, _ int) (struct{}, error) {
			if mutated, err := fileMutated(localPath, size, mtimeNS); err != nil {
				return struct{}{}, err
			} else if mutated {
				_ = u.sessions.ClearUpload(key)
				return struct{}{}, &xpanerr.FileMutatedError{Path: localPath}
			}

			if err := u.uploadOneSlice(ctx, sess, idx, localPath, remotePath, size); err != nil {
				return struct{}{}, err
			}

			mu.Lock()
			sess.MarkChunkDone(idx)
			saveErr := u.sessions.SaveUpload(key, sess)
			mu.Unlock()
			if saveErr != nil {
				return struct{}{}, &xpanerr.LocalIOError{Path: key, Err: saveErr}
			}
			u.progress.Add(chunkLen(idx, sess.ChunkSize, size))
			return struct{}{}, nil
		}
	}

	_, err := workerpool.Run(ctx, opts.Workers, opts.Workers, tasks)
	return err
}

// uploadSlicesWithSessionRefresh drives uploadSlices in a loop: when
// the provider forgets the upload_id mid-transfer (SessionExpiredError),
// it re-precreates to obtain a fresh one and continues from the same
// completed-chunks set, bounded by MaxSessionRefreshes, grounded on
// original_source/baidupan/uploader.py's _upload_slices_with_refresh.
func (u *Uploader) uploadSlicesWithSessionRefresh(ctx context.Context, sess *resume.UploadSession, key, localPath, remotePath string, size, mtimeNS int64, opts Options) error {
	maxRefreshes := opts.MaxSessionRefreshes
	if maxRefreshes <= 0 {
		maxRefreshes = DefaultOptions().MaxSessionRefreshes
	}

	for refreshes := 0; ; {
		err := u.uploadSlices(ctx, sess, key, localPath, remotePath, size, mtimeNS, opts)
		if err == nil {
			return nil
		}

		var expired *xpanerr.SessionExpiredError
		if !errors.As(err, &expired) {
			return err
		}

		refreshes++
		if refreshes > maxRefreshes {
			return fmt.Errorf("xpan: upload session expired %d times, giving up (progress saved, re-run to resume): %w", refreshes, err)
		}

		slog.Warn("uploader: upload session expired, re-precreating", "remote_path", remotePath, "refresh", refreshes)
		needed, precreateErr := u.precreate(ctx, sess, remotePath, opts)
		if precreateErr != nil {
			slog.Warn("uploader: session refresh failed, reusing old session", "error", precreateErr)
			continue
		}
		u.applyNeededIndices(sess, needed)
		if saveErr := u.sessions.SaveUpload(key, sess); saveErr != nil {
			return &xpanerr.LocalIOError{Path: key, Err: saveErr}
		}
	}
}

func (u *Uploader) uploadOneSlice(ctx context.Context, sess *resume.UploadSession, idx int, localPath, remotePath string, size int64) error {
	offset := int64(idx) * sess.ChunkSize
	length := chunkLen(idx, sess.ChunkSize, size)

	return retry.Do(ctx, u.policy, u.refreshFn(), func(ctx context.Context, attempt int) error {
		f, err := os.Open(localPath)
		if err != nil {
			return &xpanerr.LocalIOError{Path: localPath, Err: err}
		}
		defer f.Close()

		section := io.NewSectionReader(f, offset, length)

		gotMD5, err := u.api.UploadSlice(ctx, sess.UploadID, remotePath, idx, section, length)
		if err != nil {
			return err
		}
		if gotMD5 != "" && gotMD5 != sess.BlockDigests[idx] {
			return &xpanerr.TransientError{Op: "upload_slice", Attempt: attempt, Err: fmt.Errorf("chunk %d md5 mismatch: server=%s local=%s", idx, gotMD5, sess.BlockDigests[idx])}
		}
		return nil
	})
}

func (u *Uploader) create(ctx context.Context, sess *resume.UploadSession, remotePath string, size int64, opts Options) (xpantypes.RemoteFile, error) {
	var rf xpantypes.RemoteFile
	err := retry.Do(ctx, u.policy, u.refreshFn(), func(ctx context.Context, attempt int) error {
		var err error
		rf, err = u.api.Create(ctx, sess.UploadID, remotePath, size, sess.BlockDigests, opts.OverwritePolicy)
		return err
	})
	if err != nil {
		return xpantypes.RemoteFile{}, classifyConflict(err, remotePath, opts.OverwritePolicy)
	}
	return rf, nil
}

func (u *Uploader) refreshFn() retry.RefreshFunc {
	if u.tokens == nil {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := u.tokens.Refresh(ctx)
		return err
	}
}

func chunkLen(idx int, chunkSize, size int64) int64 {
	offset := int64(idx) * chunkSize
	remaining := size - offset
	if remaining > chunkSize {
		return chunkSize
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

func fileMutated(path string, originalSize, originalMtimeNS int64) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, &xpanerr.LocalIOError{Path: path, Err: err}
	}
	return info.Size() != originalSize || info.ModTime().UnixNano() != originalMtimeNS, nil
}

// classifyConflict turns a FailIfExists rejection from the provider
// into a ConflictError; the provider signals "path exists" with errno
// -8 on precreate/create.
func classifyConflict(err error, remotePath string, mode xpantypes.OverwritePolicy) error {
	if err == nil || mode != xpantypes.FailIfExists {
		return err
	}
	if strings.Contains(err.Error(), "errno=-8") {
		return &xpanerr.ConflictError{RemotePath: remotePath}
	}
	return err
}
