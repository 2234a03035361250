package cache

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipWriter wraps w so callers can stream a cached artifact
// gzip-encoded, matching spec.md §6's "octet-stream or gzip" download
// contract. Callers must Close the returned writer to flush the
// trailer.
func GzipWriter(w io.Writer) *gzip.Writer {
	return gzip.NewWriter(w)
}

// CopyCompressed streams src through a gzip encoder into dst.
func CopyCompressed(dst io.Writer, src io.Reader) (int64, error) {
	gz := gzip.NewWriter(dst)
	n, err := io.Copy(gz, src)
	if err != nil {
		gz.Close()
		return n, err
	}
	if err := gz.Close(); err != nil {
		return n, err
	}
	return n, nil
}
