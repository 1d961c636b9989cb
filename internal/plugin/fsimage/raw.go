package fsimage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
)

// rawFS handles partitions without a filesystem: the staged content is a
// single file that becomes the partition image verbatim, padded to a
// fixed size when one is requested. It is registered as "none".
type rawFS struct{}

func (rawFS) MkImage(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, contentDir string, size uint64, outPath string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return 0, err
		}
	}

	var produced uint64
	switch len(entries) {
	case 0:
		// reserved partition, image is all zeros
		f, err := os.Create(outPath)
		if err != nil {
			return 0, err
		}
		if err := f.Close(); err != nil {
			return 0, err
		}
	case 1:
		if entries[0].IsDir() {
			return 0, fmt.Errorf("raw partition content must be a file, found directory %s", entries[0].Name())
		}
		produced, err = copyFileTo(filepath.Join(contentDir, entries[0].Name()), outPath)
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("raw partition has %d content files, expected one", len(entries))
	}

	if size > 0 {
		if produced > size {
			return 0, fmt.Errorf("raw content is %d bytes, exceeding the requested %d", produced, size)
		}
		if err := os.Truncate(outPath, int64(size)); err != nil {
			return 0, err
		}
		produced = size
	}
	return produced, nil
}
