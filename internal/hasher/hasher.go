// Package hasher computes the File Digest (whole-file MD5, slice MD5,
// CRC32, size) in a single streaming pass, mirroring the read loop in
// original_source/baidupan/hasher.py but fanning the same buffer out to
// four parallel digesters instead of threading a block list through it
// (block digests are a distinct, lazily-computed quantity — see
// internal/uploader).
package hasher

import (
	"hash"
	"hash/crc32"
	"io"

	"crypto/md5"

	"github.com/xpan-cli/xpan/internal/xpantypes"
)

// DefaultBufferSize is the read buffer used when callers don't care.
// 1 MiB keeps syscall count low without pinning an unreasonable amount
// of memory per concurrent hash.
const DefaultBufferSize = 1 << 20

// Digest reads r to EOF and returns the File Digest. sliceSize bounds
// how many leading bytes feed the slice digester; it must match the
// provider's rapid-upload slice size (spec default 256 KiB). The
// reader is consumed exactly once — callers must not seek and re-read.
func Digest(r io.Reader, sliceSize int64) (xpantypes.FileDigest, error) {
	return DigestWithBuffer(r, sliceSize, DefaultBufferSize)
}

// DigestWithBuffer is Digest with an explicit read-buffer size, mainly
// so tests can exercise buffer-boundary behavior without allocating a
// full-size buffer.
func DigestWithBuffer(r io.Reader, sliceSize int64, bufSize int) (xpantypes.FileDigest, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	whole := md5.New()
	slice := md5.New()
	crc := crc32.NewIEEE()

	buf := make([]byte, bufSize)
	var total int64
	var sliceWritten int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			writeAll(whole, crc, chunk)

			if sliceWritten < sliceSize {
				take := sliceSize - sliceWritten
				if take > int64(n) {
					take = int64(n)
				}
				slice.Write(chunk[:take])
				sliceWritten += take
			}

			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return xpantypes.FileDigest{}, err
		}
	}

	var d xpantypes.FileDigest
	copy(d.MD5[:], whole.Sum(nil))
	copy(d.SliceMD5[:], slice.Sum(nil))
	d.CRC32 = crc.Sum32()
	d.Size = total
	return d, nil
}

// writeAll feeds the same chunk to both digesters that run over the
// whole file. hash.Hash.Write never returns an error per its contract.
func writeAll(whole, crc hash.Hash, chunk []byte) {
	whole.Write(chunk)
	crc.Write(chunk)
}
