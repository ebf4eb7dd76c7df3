// Package syncengine implements directory sync (spec.md 4.G) as a
// two-way compare: enumerate a local tree and a paginated remote tree,
// derive an ordered Sync Plan from size+md5 equivalence, and dispatch
// each action to internal/uploader or internal/downloader with
// bounded concurrency across files (distinct from the per-file chunk
// concurrency those two packages already provide). No record of a
// prior sync is kept or consulted; every plan is derived from the two
// current trees alone.
package syncengine

import (
	"context"
	"log/slog"

	"github.com/xpan-cli/xpan/internal/downloader"
	"github.com/xpan-cli/xpan/internal/hashcache"
	"github.com/xpan-cli/xpan/internal/uploader"
	"github.com/xpan-cli/xpan/internal/workerpool"
	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// DefaultFileConcurrency is how many files sync concurrently; each one
// still fans out internally across its own chunk/segment workers
// (spec.md 4.G: "typically 4 parallel files x 8 chunks each").
const DefaultFileConcurrency = 4

// Options configures a sync_up/sync_down call.
type Options struct {
	DeleteExtraneous bool
	FileConcurrency  int
	UploadOptions    uploader.Options
	DownloadOptions  downloader.Options
}

// DefaultOptions mirrors uploader.DefaultOptions/downloader.DefaultOptions
// plus the file-level concurrency default.
func DefaultOptions() Options {
	return Options{
		FileConcurrency: DefaultFileConcurrency,
		UploadOptions:   uploader.DefaultOptions(),
		DownloadOptions: downloader.DefaultOptions(),
	}
}

// Engine ties tree comparison to the transfer engines. A zero Engine
// is not valid; use New.
type Engine struct {
	api      xpanapi.APIClient
	hashes   *hashcache.Cache
	upload   *uploader.Uploader
	download *downloader.Downloader
}

// New builds an Engine sharing one Uploader and Downloader across
// every action in a sync batch.
func New(api xpanapi.APIClient, hashes *hashcache.Cache, upload *uploader.Uploader, download *downloader.Downloader) *Engine {
	return &Engine{api: api, hashes: hashes, upload: upload, download: download}
}

// Compare produces the Sync Plan for pushing localDir to remoteDir
// without executing it; SyncUp calls it to decide what to do.
func (e *Engine) Compare(ctx context.Context, localDir, remoteDir string, deleteExtraneous bool) (Report, error) {
	return compare(ctx, e.api, e.hashes, localDir, remoteDir, compareOptions{direction: Up, deleteExtraneous: deleteExtraneous})
}

// CompareDown is Compare for the download direction: remote is
// authoritative for content, local is authoritative only for what
// delete_extraneous removes.
func (e *Engine) CompareDown(ctx context.Context, remoteDir, localDir string, deleteExtraneous bool) (Report, error) {
	return compare(ctx, e.api, e.hashes, localDir, remoteDir, compareOptions{direction: Down, deleteExtraneous: deleteExtraneous})
}

// SyncUp pushes localDir to remoteDir: uploads local-only and changed
// files, optionally deletes remote-only files. Per-file failure never
// aborts the batch (spec.md section 7); the returned outcomes hold one
// entry per planned action, skip actions included.
func (e *Engine) SyncUp(ctx context.Context, localDir, remoteDir string, opts Options) ([]xpantypes.SyncOutcome, error) {
	report, err := e.Compare(ctx, localDir, remoteDir, opts.DeleteExtraneous)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, report, opts)
}

// SyncDown pulls remoteDir to localDir: downloads remote-only and
// changed files, optionally deletes local-only files.
func (e *Engine) SyncDown(ctx context.Context, remoteDir, localDir string, opts Options) ([]xpantypes.SyncOutcome, error) {
	report, err := e.CompareDown(ctx, remoteDir, localDir, opts.DeleteExtraneous)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, report, opts)
}

// execute dispatches every non-skip action across a bounded pool of
// concurrent files. Skip actions are reported with a nil error so
// callers can render a complete per-file report.
func (e *Engine) execute(ctx context.Context, report Report, opts Options) ([]xpantypes.SyncOutcome, error) {
	concurrency := opts.FileConcurrency
	if concurrency <= 0 {
		concurrency = DefaultFileConcurrency
	}

	tasks := make([]workerpool.Task[xpantypes.SyncOutcome], len(report.Actions))
	for i, action := range report.Actions {
		action := action
		tasks[i] = func(ctx context.Context, _ int) (xpantypes.SyncOutcome, error) {
			err := e.runAction(ctx, action, opts)
			if err != nil {
				slog.Warn("syncengine: action failed", "kind", action.Kind, "path", action.RelPath, "error", err)
			}
			// A per-file error never aborts the batch: always return a
			// nil task error so workerpool.Run keeps dispatching the
			// rest, and carry the real error in the outcome instead.
			return xpantypes.SyncOutcome{Action: action, Err: err}, nil
		}
	}

	outcomes, err := workerpool.Run(ctx, concurrency, concurrency, tasks)
	return outcomes, err
}

func (e *Engine) runAction(ctx context.Context, action xpantypes.SyncAction, opts Options) error {
	switch action.Kind {
	case xpantypes.ActionSkip:
		return nil
	case xpantypes.ActionUpload:
		uploadOpts := opts.UploadOptions
		uploadOpts.OverwritePolicy = xpantypes.Overwrite
		_, err := e.upload.Upload(ctx, action.LocalPath, action.RemotePath, uploadOpts)
		return err
	case xpantypes.ActionDownload:
		_, err := e.download.Download(ctx, action.RemotePath, action.LocalPath, opts.DownloadOptions)
		return err
	case xpantypes.ActionDeleteLocal:
		return deleteLocal(action.LocalPath)
	case xpantypes.ActionDeleteRemote:
		// Namespace operations (including remote delete) are an
		// external collaborator per spec.md section 1; the engine
		// only classifies the action; a namespace-capable API client
		// is expected to implement deletion out of band. Here the
		// request is logged and nothing is deleted; the outcome keeps
		// its delete_remote kind with a nil error.
		slog.Info("syncengine: delete_remote requested but remote delete is outside this engine's scope", "path", action.RemotePath)
		return nil
	default:
		return nil
	}
}
