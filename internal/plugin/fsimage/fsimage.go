// Package fsimage implements the filesystem-creation plugins. Each one
// turns a staged content directory into a filesystem image blob by
// driving the corresponding native formatting tool. A requested fixed
// size is honored exactly; size zero means "minimal sufficient", derived
// from the measured content plus the partition's overhead factor and
// extra space.
package fsimage

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/nativetool"
	"github.com/diskmason/diskmason/internal/plugin"
)

func init() {
	plugin.RegisterFilesystem("ext2", extFS{version: "ext2"})
	plugin.RegisterFilesystem("ext3", extFS{version: "ext3"})
	plugin.RegisterFilesystem("ext4", extFS{version: "ext4"})
	plugin.RegisterFilesystem("vfat", vfatFS{})
	plugin.RegisterFilesystem("squashfs", squashFS{})
	plugin.RegisterFilesystem("swap", swapFS{})
	plugin.RegisterFilesystem("none", rawFS{})
}

// Name returns the filesystem plugin name for a partition spec; raw
// partitions map to the "none" plugin.
func Name(spec *kickstart.PartitionSpec) string {
	if spec.FSType == "" {
		return "none"
	}
	return spec.FSType
}

const sizeGrain = 4096

// autoSize computes the minimal sufficient image size for measured
// content, honoring the partition's overhead factor and extra space.
func autoSize(content uint64, spec *kickstart.PartitionSpec, min uint64) uint64 {
	factor := spec.OverheadFactor
	if factor < 1.0 {
		factor = kickstart.DefaultOverheadFactor
	}
	size := uint64(float64(content)*factor) + spec.ExtraSpace
	size = ((size + sizeGrain - 1) / sizeGrain) * sizeGrain
	if size < min {
		size = min
	}
	return size
}

func runner(bctx *buildvars.Context) *nativetool.Runner {
	return &nativetool.Runner{Sysroot: bctx.NativeSysroot()}
}

// contentBytes sums the regular-file bytes under a directory. A missing
// directory counts as empty.
func contentBytes(dir string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += uint64(info.Size())
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}

func copyFileTo(src, dst string) (uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return uint64(n), err
	}
	return uint64(n), out.Close()
}

func imageSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}
