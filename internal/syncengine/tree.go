package syncengine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// localEntry is one file the local tree walk found, keyed by its path
// relative to the sync root.
type localEntry struct {
	AbsPath string
	Size    int64
	MTimeNS int64
}

// walkLocal enumerates root, skipping symlinks that point outside root,
// anything that isn't a regular file or directory, and anything the
// ignore list rejects — per spec.md 4.G's tree enumeration rule.
// Directories themselves aren't returned; they're implicit in the
// relative paths of the files beneath them.
func walkLocal(root string, ignore *IgnoreList) (map[string]localEntry, error) {
	out := make(map[string]localEntry)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == absRoot {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if ignore != nil && ignore.ShouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, evalErr := filepath.EvalSymlinks(path)
			if evalErr != nil {
				return nil // broken symlink: skip, not fatal
			}
			if !strings.HasPrefix(target, absRoot+string(filepath.Separator)) && target != absRoot {
				return nil // points outside root: skip
			}
			targetInfo, statErr := os.Stat(target)
			if statErr != nil {
				return nil
			}
			info = targetInfo
		}

		if d.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		out[rel] = localEntry{AbsPath: path, Size: info.Size(), MTimeNS: info.ModTime().UnixNano()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walkRemote exhausts the paginated recursive listing endpoint and
// indexes the result by path relative to remoteDir. Directory entries
// are dropped; as with the local walk, they're implicit in file paths.
func walkRemote(ctx context.Context, api xpanapi.APIClient, remoteDir string) (map[string]xpantypes.RemoteFile, error) {
	out := make(map[string]xpantypes.RemoteFile)

	pageToken := ""
	for {
		page, err := api.List(ctx, remoteDir, true, pageToken)
		if err != nil {
			return nil, err
		}

		for _, entry := range page.Entries {
			if entry.IsDir {
				continue
			}
			rel := strings.TrimPrefix(entry.Path, remoteDir)
			rel = strings.TrimPrefix(rel, "/")
			if rel == "" {
				continue
			}
			out[rel] = entry
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return out, nil
}
