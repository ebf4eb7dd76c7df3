package resume

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xpan-cli/xpan/internal/xutil"
)

// Store persists sessions as JSON files under a root directory, split
// into uploads/ and downloads/ subdirectories.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := xutil.EnsureDir(filepath.Join(dir, "uploads")); err != nil {
		return nil, err
	}
	if err := xutil.EnsureDir(filepath.Join(dir, "downloads")); err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

// UploadKey derives the stable key for an upload session from the
// quantities that must not change across resumes.
func UploadKey(localPath string, size, chunkSize int64, remotePath string) string {
	return sha1Hex(fmt.Sprintf("upload|%s|%d|%d|%s", localPath, size, chunkSize, remotePath))
}

// DownloadKey derives the stable key for a download session.
func DownloadKey(remoteFSID uint64, localPath string) string {
	return sha1Hex(fmt.Sprintf("download|%d|%s", remoteFSID, localPath))
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (s *Store) uploadPath(key string) string {
	return filepath.Join(s.root, "uploads", key+".json")
}

func (s *Store) downloadPath(key string) string {
	return filepath.Join(s.root, "downloads", key+".json")
}

// LoadUpload returns the session for key, or (nil, false) if absent or
// unreadable. A corrupt session file is never a correctness hazard: it
// is treated as a miss so the caller restarts the transfer.
func (s *Store) LoadUpload(key string) (*UploadSession, bool) {
	var sess UploadSession
	if !loadJSON(s.uploadPath(key), &sess) {
		return nil, false
	}
	return &sess, true
}

// SaveUpload writes sess for key via write-temp-then-rename.
func (s *Store) SaveUpload(key string, sess *UploadSession) error {
	return saveJSON(s.uploadPath(key), sess)
}

// ClearUpload removes the session file for key, if any.
func (s *Store) ClearUpload(key string) error {
	return clearFile(s.uploadPath(key))
}

// LoadDownload returns the session for key, or (nil, false) if absent
// or unreadable.
func (s *Store) LoadDownload(key string) (*DownloadSession, bool) {
	var sess DownloadSession
	if !loadJSON(s.downloadPath(key), &sess) {
		return nil, false
	}
	return &sess, true
}

// SaveDownload writes sess for key via write-temp-then-rename.
func (s *Store) SaveDownload(key string, sess *DownloadSession) error {
	return saveJSON(s.downloadPath(key), sess)
}

// ClearDownload removes the session file for key, if any.
func (s *Store) ClearDownload(key string) error {
	return clearFile(s.downloadPath(key))
}

func loadJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false
	}
	return true
}

func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return xutil.WriteFileAtomic(path, data, 0o644)
}

func clearFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
