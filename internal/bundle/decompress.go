package bundle

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decompressed wraps r with the decoder the filename's extension calls for
// and returns the name the decoded content should be stored under. The
// cleanup func releases the decoder and must be called after reading.
func decompressed(name string, r io.Reader) (io.Reader, string, func(), error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, "", nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, strings.TrimSuffix(name, ".gz"), func() { zr.Close() }, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, "", nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return zr, strings.TrimSuffix(name, ".zst"), zr.Close, nil
	default:
		return r, name, func() {}, nil
	}
}
