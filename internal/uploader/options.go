// Package uploader drives the rapid-upload probe, chunked upload, and
// resume protocol described for the provider's xpan file API: probe ->
// precreate -> parallel slice upload -> create. It is the component
// that ties the Hasher, Hash Cache, Resume Store, and Worker Pool
// together behind one call.
package uploader

import "github.com/xpan-cli/xpan/internal/xpantypes"

// Options configures a single Upload call. The zero value is not
// valid; use DefaultOptions and override what differs.
type Options struct {
	ChunkSize            int64
	Workers              int
	OverwritePolicy      xpantypes.OverwritePolicy
	SliceMD5Size         int64
	RapidUploadThreshold int64
	MaxUploadSlices      int
	MaxSessionRefreshes  int
}

// DefaultOptions mirrors the provider's documented defaults: 4 MiB
// chunks, 8 parallel workers, a 256 KiB slice-md5 window, and a 256
// KiB rapid-upload eligibility floor.
func DefaultOptions() Options {
	return Options{
		ChunkSize:            4 << 20,
		Workers:              8,
		OverwritePolicy:      xpantypes.FailIfExists,
		SliceMD5Size:         256 << 10,
		RapidUploadThreshold: 256 << 10,
		MaxUploadSlices:      2000,
		MaxSessionRefreshes:  20,
	}
}

// effectiveChunkSize scales ChunkSize up for files that would
// otherwise need more than MaxUploadSlices chunks, rounding up to the
// next multiple of the configured chunk size so resumed sessions stay
// on a clean boundary.
func (o Options) effectiveChunkSize(size int64) int64 {
	chunkSize := o.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultOptions().ChunkSize
	}
	maxSlices := o.MaxUploadSlices
	if maxSlices <= 0 {
		maxSlices = DefaultOptions().MaxUploadSlices
	}

	if size <= 0 {
		return chunkSize
	}

	slices := ceilDiv(size, chunkSize)
	if slices <= int64(maxSlices) {
		return chunkSize
	}

	unit := chunkSize
	scaled := ceilDiv(size, int64(maxSlices))
	scaled = ceilDiv(scaled, unit) * unit
	return scaled
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
