package uploader

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// blockDigests computes the ordered per-chunk MD5 list precreate needs,
// in its own pass distinct from the Hasher's whole-file/slice/crc32
// pass: block digests are a different quantity, sized by chunk_size
// rather than the fixed slice-md5 window, and the Hasher package never
// computes them.
func blockDigests(r io.Reader, size, chunkSize int64) ([]string, error) {
	if size == 0 {
		return []string{}, nil
	}

	total := ceilDiv(size, chunkSize)
	out := make([]string, 0, total)

	buf := make([]byte, 1<<16)
	h := md5.New()
	var inBlock int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				take := chunkSize - inBlock
				if take > int64(len(chunk)) {
					take = int64(len(chunk))
				}
				h.Write(chunk[:take])
				inBlock += take
				chunk = chunk[take:]

				if inBlock >= chunkSize {
					out = append(out, hex.EncodeToString(h.Sum(nil)))
					h = md5.New()
					inBlock = 0
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if inBlock > 0 {
		out = append(out, hex.EncodeToString(h.Sum(nil)))
	}

	return out, nil
}
