package fsimage

import (
	"context"
	"fmt"
	"os"

	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
)

// squashFS produces read-only squashfs partition images. mksquashfs
// writes a minimal image; a larger fixed request pads the result, a
// smaller one fails since squashfs cannot be shrunk.
type squashFS struct{}

func (squashFS) MkImage(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, contentDir string, size uint64, outPath string) (uint64, error) {
	if _, err := os.Stat(contentDir); err != nil {
		return 0, fmt.Errorf("squashfs needs a content directory: %w", err)
	}

	if _, err := runner(bctx).Run(ctx, "mksquashfs", contentDir, outPath, "-noappend"); err != nil {
		return 0, err
	}

	produced, err := imageSize(outPath)
	if err != nil {
		return 0, err
	}
	if size > 0 {
		if produced > size {
			return 0, fmt.Errorf("squashfs image is %d bytes, exceeding the requested %d", produced, size)
		}
		if err := os.Truncate(outPath, int64(size)); err != nil {
			return 0, err
		}
		produced = size
	}
	return produced, nil
}
