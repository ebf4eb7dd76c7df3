// Package downloader acquires parallel signed dlinks and drives a
// segmented ranged-GET download against them, the mirror image of
// internal/uploader's probe/precreate/slice protocol: meta -> N
// parallel dlink acquisitions -> worker-pool ranged GETs into a
// preallocated temp file -> rename.
package downloader

// Options configures a single Download call. The zero value is not
// valid; use DefaultOptions and override what differs.
type Options struct {
	SegmentSize      int64
	Workers          int
	SmallFileCutover int64
	VerifyMD5        bool
}

// DefaultOptions mirrors the provider's documented defaults: 4 MiB
// segments, 32 parallel workers (and dlinks), a 1 MiB small-file
// cutover below which segmentation overhead isn't worth it, and
// end-to-end MD5 verification off (the provider's reported MD5 isn't
// always the standard whole-file MD5 for large files).
func DefaultOptions() Options {
	return Options{
		SegmentSize:      4 << 20,
		Workers:          32,
		SmallFileCutover: 1 << 20,
		VerifyMD5:        false,
	}
}
