package source

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// copyTree copies a directory tree preserving file modes and symlinks,
// returning the total number of regular-file bytes copied. The walk is
// lexical, so repeated runs stage files in the same order and produce
// identical trees.
func copyTree(src, dst string) (uint64, error) {
	var total uint64

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if rel == "." {
				return os.MkdirAll(dst, info.Mode().Perm())
			}
			return os.Mkdir(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			dest, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(dest, target)
		case info.Mode().IsRegular():
			n, err := copyFile(path, target, info.Mode().Perm())
			total += n
			return err
		default:
			// device nodes and the like need fakeroot support the
			// build system provides upstream; refuse rather than
			// silently produce a wrong tree
			return fmt.Errorf("unsupported file type %s in %s", info.Mode(), path)
		}
	})
	return total, err
}

func copyFile(src, dst string, perm fs.FileMode) (uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
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
