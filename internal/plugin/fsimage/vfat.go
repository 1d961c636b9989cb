package fsimage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
)

const vfatMinBytes = 1024 * 1024

// vfatFS formats FAT partition images with mkdosfs and populates them
// with mcopy, the mtools way of filling a FAT image without mounting it.
type vfatFS struct{}

func (vfatFS) MkImage(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, contentDir string, size uint64, outPath string) (uint64, error) {
	if size == 0 {
		content, err := contentBytes(contentDir)
		if err != nil {
			return 0, err
		}
		size = autoSize(content, spec, vfatMinBytes)
	}

	r := runner(bctx)

	args := []string{"-S", "512"}
	if spec.Label != "" {
		args = append(args, "-n", spec.Label)
	}
	// mkdosfs takes the image size in 1024-byte blocks
	args = append(args, "-C", outPath, strconv.FormatUint(size/1024, 10))
	if _, err := r.Run(ctx, "mkdosfs", args...); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	if len(entries) > 0 {
		mcopyArgs := []string{"-i", outPath, "-s"}
		for _, entry := range entries {
			mcopyArgs = append(mcopyArgs, filepath.Join(contentDir, entry.Name()))
		}
		mcopyArgs = append(mcopyArgs, "::/")
		if _, err := r.Run(ctx, "mcopy", mcopyArgs...); err != nil {
			return 0, err
		}
	}

	return imageSize(outPath)
}
