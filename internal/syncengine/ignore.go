package syncengine

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/xpan-cli/xpan/internal/xutil"
)

// defaultIgnoreLines mirrors the baseline a sync client carries
// regardless of what the user's own ignore file says: VCS metadata,
// editor/OS cruft, and the engine's own resume artifacts, adapted from
// the teacher's SyncIgnoreList defaults to this engine's file names.
var defaultIgnoreLines = []string{
	".xpanignore",
	"**/*.part",
	".git",
	"*.tmp",
	".DS_Store",
	"Thumbs.db",
	"__pycache__/",
	".venv/",
	"venv/",
}

// IgnoreList decides which local paths a tree walk skips, loaded from
// a .xpanignore file at the root of the synced directory plus the
// built-in defaults above.
type IgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

// NewIgnoreList builds an IgnoreList for baseDir and loads it
// immediately; a missing .xpanignore file is not an error.
func NewIgnoreList(baseDir string) *IgnoreList {
	l := &IgnoreList{baseDir: baseDir}
	l.Load()
	return l
}

// Load (re)reads .xpanignore from baseDir, appending its lines to the
// built-in defaults. Safe to call again to pick up edits mid-run.
func (l *IgnoreList) Load() {
	lines := append([]string(nil), defaultIgnoreLines...)

	ignorePath := filepath.Join(l.baseDir, ".xpanignore")
	if xutil.FileExists(ignorePath) {
		f, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("syncengine: failed to open .xpanignore", "path", ignorePath, "error", err)
		} else {
			defer f.Close()
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
				}
			}
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether relPath (relative to baseDir, forward
// slashes) matches an ignore rule.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	return l.ignore.MatchesPath(relPath)
}
