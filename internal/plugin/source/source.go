// Package source implements the built-in source plugins: the content
// producers that populate a partition's staging directory. All of them
// are idempotent; re-running against the same inputs yields a
// byte-identical tree.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/plugin"
)

func init() {
	plugin.RegisterSource("rootfs", rootfsSource{})
	plugin.RegisterSource("bootimg", bootimgSource{})
	plugin.RegisterSource("rawcopy", rawcopySource{})
	plugin.RegisterSource("empty", emptySource{})
}

// rootfsSource stages the prebuilt root filesystem tree. The tree comes
// from IMAGE_ROOTFS, or from the rootfs-dir source parameter when a
// partition needs a different one.
type rootfsSource struct{}

func (rootfsSource) Populate(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, destDir string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := spec.SourceParams["rootfs-dir"]
	if dir == "" {
		var err error
		dir, err = bctx.Require(buildvars.VarRootfs)
		if err != nil {
			return 0, err
		}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return 0, fmt.Errorf("rootfs directory %s is not usable", dir)
	}

	logrus.WithField("partition", spec.Name()).Debugf("staging rootfs from %s", dir)
	return copyTree(dir, destDir)
}

// bootimgSource stages the boot artifacts named by IMAGE_BOOT_FILES:
// space-separated entries of the form `src` or `src;dest`, resolved
// against the deploy directory. Globs in src are expanded.
type bootimgSource struct{}

func (bootimgSource) Populate(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, destDir string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deployDir, err := bctx.Require(buildvars.VarDeployDir)
	if err != nil {
		return 0, err
	}
	bootFiles, err := bctx.Require(buildvars.VarBootFiles)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, err
	}

	var total uint64
	for _, entry := range strings.Fields(bootFiles) {
		src, dest, hasDest := strings.Cut(entry, ";")
		matches, err := filepath.Glob(filepath.Join(deployDir, src))
		if err != nil {
			return total, fmt.Errorf("bad boot file pattern %q: %w", src, err)
		}
		if len(matches) == 0 {
			return total, fmt.Errorf("boot file %q not found in %s", src, deployDir)
		}
		if hasDest && len(matches) > 1 {
			return total, fmt.Errorf("boot file pattern %q matches several files but renames to %q", src, dest)
		}

		for _, match := range matches {
			target := filepath.Join(destDir, filepath.Base(match))
			if hasDest {
				target = filepath.Join(destDir, dest)
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return total, err
				}
			}
			info, err := os.Stat(match)
			if err != nil {
				return total, err
			}
			n, err := copyFile(match, target, info.Mode().Perm())
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// rawcopySource stages a single file as the partition's raw content. The
// file source parameter is required; skip drops leading bytes, for
// artifacts that embed their own offset header.
type rawcopySource struct{}

func (rawcopySource) Populate(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, destDir string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	src := spec.SourceParams["file"]
	if src == "" {
		return 0, fmt.Errorf("rawcopy requires a file source parameter")
	}
	var skip uint64
	if s := spec.SourceParams["skip"]; s != "" {
		var err error
		skip, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid skip value %q", s)
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return 0, err
	}
	if skip > uint64(len(data)) {
		return 0, fmt.Errorf("skip %d exceeds the size of %s", skip, src)
	}
	data = data[skip:]

	target := filepath.Join(destDir, filepath.Base(src))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

// emptySource produces no content; it backs reserved partitions that
// exist only in the table.
type emptySource struct{}

func (emptySource) Populate(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, destDir string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 0, os.MkdirAll(destDir, 0o755)
}
