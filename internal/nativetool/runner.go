// Package nativetool invokes the external formatting and partitioning
// tools a build depends on (mkfs.*, mkdosfs, mcopy, ...), searching the
// native sysroot exported by the build system before the ambient PATH.
// Tool failures are surfaced verbatim with their captured output;
// root-causing a storage-tool failure needs the original message.
package nativetool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// nativeRecipes maps executables to the build-system recipe that
// provides them, for actionable "tool not found" messages.
var nativeRecipes = map[string]string{
	"mcopy":        "mtools",
	"mmd":          "mtools",
	"mkdosfs":      "dosfstools",
	"mkfs.vfat":    "dosfstools",
	"mkfs.ext2":    "e2fsprogs",
	"mkfs.ext3":    "e2fsprogs",
	"mkfs.ext4":    "e2fsprogs",
	"dumpe2fs":     "e2fsprogs",
	"mksquashfs":   "squashfs-tools",
	"mkswap":       "util-linux",
	"sfdisk":       "util-linux",
	"sgdisk":       "gptfdisk",
	"parted":       "parted",
	"grub-mkimage": "grub-efi",
	"syslinux":     "syslinux",
}

// RecipeHint returns the recipe that provides a tool, or "" when unknown.
func RecipeHint(tool string) string {
	return nativeRecipes[tool]
}

// ExternalToolError reports a missing tool or a tool that exited
// non-zero. Output is the combined stdout and stderr, verbatim.
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
	Missing  bool
}

func (e *ExternalToolError) Error() string {
	if e.Missing {
		msg := fmt.Sprintf("native tool %s not found", e.Tool)
		if recipe := RecipeHint(e.Tool); recipe != "" {
			msg += fmt.Sprintf(" (provided by the %s recipe)", recipe)
		}
		return msg
	}
	return fmt.Sprintf("%s exited with status %d:\n%s", e.Tool, e.ExitCode, e.Output)
}

// Runner locates and executes native tools. The zero value searches only
// the ambient PATH.
type Runner struct {
	// Sysroot is the native sysroot to search first, typically
	// RECIPE_SYSROOT_NATIVE.
	Sysroot string
	// ExtraPaths are searched after the sysroot and before the ambient
	// PATH.
	ExtraPaths []string
}

func (r *Runner) searchPath() string {
	var paths []string
	if r.Sysroot != "" {
		for _, sub := range []string{"sbin", "usr/sbin", "usr/bin", "bin"} {
			paths = append(paths, filepath.Join(r.Sysroot, sub))
		}
	}
	paths = append(paths, r.ExtraPaths...)
	if ambient := os.Getenv("PATH"); ambient != "" {
		paths = append(paths, ambient)
	}
	return strings.Join(paths, string(os.PathListSeparator))
}

// LookPath resolves a tool name against the runner's search path.
func (r *Runner) LookPath(tool string) (string, error) {
	for _, dir := range filepath.SplitList(r.searchPath()) {
		candidate := filepath.Join(dir, tool)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", &ExternalToolError{Tool: tool, Missing: true}
}

// Run executes a tool and returns its combined output. A non-zero exit
// is an ExternalToolError carrying the captured output. The context
// cancels the process.
func (r *Runner) Run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	return r.RunInput(ctx, nil, tool, args...)
}

// RunInput is Run with data supplied on the tool's stdin.
func (r *Runner) RunInput(ctx context.Context, stdin []byte, tool string, args ...string) ([]byte, error) {
	path, err := r.LookPath(tool)
	if err != nil {
		return nil, err
	}

	logrus.Debugf("running %s %s", tool, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), "PATH="+r.searchPath())
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err = cmd.Run()
	if err == nil {
		return output.Bytes(), nil
	}
	if ctx.Err() != nil {
		return output.Bytes(), ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output.Bytes(), &ExternalToolError{
			Tool:     tool,
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Output:   output.String(),
		}
	}
	return output.Bytes(), fmt.Errorf("running %s: %w", tool, err)
}
