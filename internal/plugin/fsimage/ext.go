package fsimage

import (
	"context"
	"os"

	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
)

// extMinBytes is the smallest image mkfs.ext* reliably formats with our
// inode options.
const extMinBytes = 8 * 1024 * 1024

// extFS formats ext2/ext3/ext4 partition images, populating them from
// the staged content directory in one pass via mkfs -d.
type extFS struct {
	version string
}

func (e extFS) MkImage(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, contentDir string, size uint64, outPath string) (uint64, error) {
	if size == 0 {
		content, err := contentBytes(contentDir)
		if err != nil {
			return 0, err
		}
		size = autoSize(content, spec, extMinBytes)
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

	args := []string{"-F", "-i", "8192"}
	if spec.Label != "" {
		args = append(args, "-L", spec.Label)
	}
	if spec.UUID != "" {
		args = append(args, "-U", spec.UUID)
	}
	if _, err := os.Stat(contentDir); err == nil {
		args = append(args, "-d", contentDir)
	}
	args = append(args, outPath)

	if _, err := runner(bctx).Run(ctx, "mkfs."+e.version, args...); err != nil {
		return 0, err
	}
	return imageSize(outPath)
}
