package fsimage

import (
	"context"
	"fmt"
	"os"

	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
)

// swapFS formats swap partition images. Swap has no content, so an
// explicit size is mandatory.
type swapFS struct{}

func (swapFS) MkImage(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, contentDir string, size uint64, outPath string) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("swap partitions require an explicit size")
	}

	f, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	args := []string{}
	if spec.Label != "" {
		args = append(args, "-L", spec.Label)
	}
	if spec.UUID != "" {
		args = append(args, "-U", spec.UUID)
	}
	args = append(args, outPath)

	if _, err := runner(bctx).Run(ctx, "mkswap", args...); err != nil {
		return 0, err
	}
	return imageSize(outPath)
}
