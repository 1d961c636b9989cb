package imager

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compress writes a compressed copy of the image next to the original
// and returns the new path. The original is kept; flashing tools often
// want both.
func Compress(path, algo string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	var outPath string
	switch algo {
	case "gzip":
		outPath = path + ".gz"
	case "zstd":
		outPath = path + ".zst"
	default:
		return "", fmt.Errorf("unsupported compressor %q", algo)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}

	var w io.WriteCloser
	switch algo {
	case "gzip":
		w = gzip.NewWriter(out)
	case "zstd":
		w, err = zstd.NewWriter(out)
		if err != nil {
			out.Close()
			return "", err
		}
	}

	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		out.Close()
		return "", err
	}
	return outPath, out.Close()
}
