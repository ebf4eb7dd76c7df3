// Package resume persists Upload and Download Sessions as small JSON
// files under a state directory, one file per transfer, so a killed or
// interrupted command can pick a transfer back up instead of starting
// over. The key derivation and atomic-write-then-rename pattern mirror
// the provider SDK's resumable uploader session files.
package resume

import (
	"time"

	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// UploadSession tracks an in-progress chunked upload. BlockDigests and
// ChunkSize are fixed for the lifetime of UploadID; only
// CompletedChunks grows as slices land.
type UploadSession struct {
	UploadID        string               `json:"upload_id"`
	RemotePath      string               `json:"remote_path"`
	LocalPath       string               `json:"local_path"`
	ChunkSize       int64                `json:"chunk_size"`
	TotalChunks     int                  `json:"total_chunks"`
	BlockDigests    []string             `json:"block_digests"`
	CompletedChunks map[int]bool         `json:"completed_chunks"`
	Digest          xpantypes.FileDigest `json:"digest"`
	CreatedAt       time.Time            `json:"created_at"`
}

// Valid checks the structural invariants the spec places on an upload
// session, independent of whether it still matches the file on disk.
func (s *UploadSession) Valid() bool {
	return s != nil && len(s.BlockDigests) == s.TotalChunks
}

// Remaining returns the chunk indices not yet marked complete, in
// ascending order.
func (s *UploadSession) Remaining() []int {
	out := make([]int, 0, s.TotalChunks)
	for i := 0; i < s.TotalChunks; i++ {
		if !s.CompletedChunks[i] {
			out = append(out, i)
		}
	}
	return out
}

// MarkChunkDone records chunk i as uploaded. Callers persist via Store
// after calling this; MarkChunkDone itself only mutates memory.
func (s *UploadSession) MarkChunkDone(i int) {
	if s.CompletedChunks == nil {
		s.CompletedChunks = make(map[int]bool, s.TotalChunks)
	}
	s.CompletedChunks[i] = true
}

// DownloadSession tracks an in-progress segmented download.
// CompletedSegments grows as ranged GETs land; TempPath is the
// preallocated ".part" file segments are written into.
type DownloadSession struct {
	RemoteFSID        uint64       `json:"remote_fsid"`
	RemotePath        string       `json:"remote_path"`
	LocalPath         string       `json:"local_path"`
	TotalSize         int64        `json:"total_size"`
	SegmentSize       int64        `json:"segment_size"`
	CompletedSegments map[int]bool `json:"completed_segments"`
	TempPath          string       `json:"temp_path"`
}

// SegmentCount is the number of segments TotalSize splits into at
// SegmentSize, rounding the final partial segment up.
func (s *DownloadSession) SegmentCount() int {
	if s.SegmentSize <= 0 {
		return 0
	}
	n := s.TotalSize / s.SegmentSize
	if s.TotalSize%s.SegmentSize != 0 {
		n++
	}
	return int(n)
}

// SegmentRange returns the byte range [start, end) segment i covers.
func (s *DownloadSession) SegmentRange(i int) (start, end int64) {
	start = int64(i) * s.SegmentSize
	end = start + s.SegmentSize
	if end > s.TotalSize {
		end = s.TotalSize
	}
	return start, end
}

// Remaining returns the segment indices not yet marked complete.
func (s *DownloadSession) Remaining() []int {
	n := s.SegmentCount()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !s.CompletedSegments[i] {
			out = append(out, i)
		}
	}
	return out
}

// MarkSegmentDone records segment i as written. Callers persist via
// Store after calling this, typically batched every few segments.
func (s *DownloadSession) MarkSegmentDone(i int) {
	if s.CompletedSegments == nil {
		s.CompletedSegments = make(map[int]bool, s.SegmentCount())
	}
	s.CompletedSegments[i] = true
}
