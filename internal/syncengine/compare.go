package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xpan-cli/xpan/internal/hashcache"
	"github.com/xpan-cli/xpan/internal/hasher"
	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// Report is the ordered Sync Plan produced by Compare: directories are
// implicit in relative paths, and entries are sorted so that, within
// each action kind, shorter paths (closer to the root) sort first —
// the ordering spec.md 4.D invariant ("directories before their
// contents for creation; reverse for deletion") degenerates to when
// there is no explicit mkdir/rmdir operation, only whole-file
// transfers.
type Report struct {
	Actions []xpantypes.SyncAction
}

// CountByKind tallies actions for a human-readable summary.
func (r Report) CountByKind() map[xpantypes.SyncActionKind]int {
	out := make(map[xpantypes.SyncActionKind]int)
	for _, a := range r.Actions {
		out[a.Kind]++
	}
	return out
}

// Direction picks which side is authoritative for "local-only" and
// "remote-only" entries.
type Direction int

const (
	// Up treats local-only as Upload and remote-only as
	// DeleteRemote-or-Skip.
	Up Direction = iota
	// Down treats remote-only as Download and local-only as
	// DeleteLocal-or-Skip.
	Down
)

// compareOptions configures Compare's action derivation.
type compareOptions struct {
	direction        Direction
	deleteExtraneous bool
}

// compare builds the Sync Plan per spec.md 4.G's two-way equivalence
// predicate: equal iff size matches and whole-file md5 matches (md5
// sourced from the Hash Cache for the local side, directly from the
// provider for the remote side). Size-only equality is never
// sufficient; mtime is never compared across filesystems.
func compare(ctx context.Context, api xpanapi.APIClient, hashes *hashcache.Cache, localDir, remoteDir string, opts compareOptions) (Report, error) {
	local, err := walkLocal(localDir, NewIgnoreList(localDir))
	if err != nil {
		return Report{}, err
	}
	remote, err := walkRemote(ctx, api, remoteDir)
	if err != nil {
		return Report{}, err
	}

	var actions []xpantypes.SyncAction

	for rel, lf := range local {
		localPath := lf.AbsPath
		remotePath := filepath.ToSlash(filepath.Join(remoteDir, rel))

		rf, onRemote := remote[rel]
		switch {
		case !onRemote:
			actions = append(actions, localOnlyAction(opts, rel, localPath, remotePath))
		case filesEquivalent(lf, rf, hashes):
			actions = append(actions, xpantypes.SyncAction{Kind: xpantypes.ActionSkip, RelPath: rel, LocalPath: localPath, RemotePath: remotePath, Reason: "up to date"})
		default:
			actions = append(actions, bothPresentDifferAction(opts, rel, localPath, remotePath))
		}
	}

	for rel, rf := range remote {
		if _, onLocal := local[rel]; onLocal {
			continue
		}
		localPath := filepath.Join(localDir, filepath.FromSlash(rel))
		actions = append(actions, remoteOnlyAction(opts, rel, localPath, rf.Path))
	}

	sort.Slice(actions, func(i, j int) bool {
		di := strings.Count(actions[i].RelPath, "/")
		dj := strings.Count(actions[j].RelPath, "/")
		if di != dj {
			return di < dj
		}
		return actions[i].RelPath < actions[j].RelPath
	})

	return Report{Actions: actions}, nil
}

func localOnlyAction(opts compareOptions, rel, localPath, remotePath string) xpantypes.SyncAction {
	if opts.direction == Up {
		return xpantypes.SyncAction{Kind: xpantypes.ActionUpload, RelPath: rel, LocalPath: localPath, RemotePath: remotePath}
	}
	if opts.deleteExtraneous {
		return xpantypes.SyncAction{Kind: xpantypes.ActionDeleteLocal, RelPath: rel, LocalPath: localPath, RemotePath: remotePath}
	}
	return xpantypes.SyncAction{Kind: xpantypes.ActionSkip, RelPath: rel, LocalPath: localPath, RemotePath: remotePath, Reason: "local-only, sync_down without delete_extraneous"}
}

func remoteOnlyAction(opts compareOptions, rel, localPath, remotePath string) xpantypes.SyncAction {
	if opts.direction == Down {
		return xpantypes.SyncAction{Kind: xpantypes.ActionDownload, RelPath: rel, LocalPath: localPath, RemotePath: remotePath}
	}
	if opts.deleteExtraneous {
		return xpantypes.SyncAction{Kind: xpantypes.ActionDeleteRemote, RelPath: rel, LocalPath: localPath, RemotePath: remotePath}
	}
	return xpantypes.SyncAction{Kind: xpantypes.ActionSkip, RelPath: rel, LocalPath: localPath, RemotePath: remotePath, Reason: "remote-only, sync_up without delete_extraneous"}
}

func bothPresentDifferAction(opts compareOptions, rel, localPath, remotePath string) xpantypes.SyncAction {
	if opts.direction == Up {
		return xpantypes.SyncAction{Kind: xpantypes.ActionUpload, RelPath: rel, LocalPath: localPath, RemotePath: remotePath}
	}
	return xpantypes.SyncAction{Kind: xpantypes.ActionDownload, RelPath: rel, LocalPath: localPath, RemotePath: remotePath}
}

// filesEquivalent implements the equivalence predicate: sizes must
// match and the local whole-file md5 (via the Hash Cache, computed
// fresh on a miss) must match the remote's reported md5.
func filesEquivalent(lf localEntry, rf xpantypes.RemoteFile, hashes *hashcache.Cache) bool {
	if lf.Size != rf.Size {
		return false
	}
	if rf.MD5 == "" {
		return false
	}

	if hashes != nil {
		if d, ok := hashes.Lookup(lf.AbsPath, lf.MTimeNS, lf.Size); ok {
			return d.MD5Hex() == rf.MD5
		}
	}

	d, err := digestLocalFile(lf.AbsPath)
	if err != nil {
		return false
	}
	if hashes != nil {
		_ = hashes.Store(lf.AbsPath, lf.MTimeNS, lf.Size, d)
	}
	return d.MD5Hex() == rf.MD5
}

// digestLocalFile computes a File Digest for path using the provider's
// documented slice-md5 window. The sync engine's equivalence check
// only needs MD5Hex, but Digest computes all four quantities in the
// same single pass the Uploader relies on for rapid-upload eligibility.
func digestLocalFile(path string) (xpantypes.FileDigest, error) {
	f, err := os.Open(path)
	if err != nil {
		return xpantypes.FileDigest{}, err
	}
	defer f.Close()
	return hasher.Digest(f, 256<<10)
}
