// Package buildvars reads the key/value metadata exported by the upstream
// build system into an immutable Context consumed by the rest of the
// pipeline. The input is one KEY="value" assignment per line, the format
// written by `bitbake -e`-style environment dumps.
package buildvars

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Well-known variable names. Only the required ones must be present; the
// rest are resolved lazily and fail at their point of use.
const (
	VarMachine       = "MACHINE"
	VarRootfs        = "IMAGE_ROOTFS"
	VarTargetArch    = "TARGET_ARCH"
	VarDeployDir     = "DEPLOY_DIR_IMAGE"
	VarKernelImage   = "KERNEL_IMAGETYPE"
	VarNativeSysroot = "RECIPE_SYSROOT_NATIVE"
	VarBootFiles     = "IMAGE_BOOT_FILES"
	VarImageName     = "IMAGE_NAME"
	VarMBRBootcode   = "MBR_BOOTCODE"
)

// RequiredVars must be present before any layout parsing begins.
var RequiredVars = []string{VarMachine, VarRootfs}

var assignmentRe = regexp.MustCompile(`^([a-zA-Z0-9\-_+./~]+)=(.*)$`)

// Context is the read-only set of build-system-provided variables. It is
// immutable after construction; downstream components only get accessors.
type Context struct {
	vars map[string]string
}

// New builds a Context from an already-materialized mapping and validates
// the required keys. The mapping is copied.
func New(vars map[string]string) (*Context, error) {
	c := &Context{vars: make(map[string]string, len(vars))}
	for k, v := range vars {
		c.vars[k] = v
	}
	for _, name := range RequiredVars {
		if _, ok := c.vars[name]; !ok {
			return nil, &MissingRequiredVariableError{Name: name}
		}
	}
	return c, nil
}

// Load reads a metadata file from disk. See Parse for the format.
func Load(path string) (*Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Msg: err.Error()}
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads KEY="value" assignments, one per line. Blank lines and lines
// starting with '#' are skipped. Anything else that is not an assignment
// is a hard ConfigError naming the line.
func Parse(r io.Reader, path string) (*Context, error) {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := assignmentRe.FindStringSubmatch(line)
		if m == nil {
			return nil, &ConfigError{
				Path: path,
				Line: lineno,
				Msg:  fmt.Sprintf("malformed assignment %q", line),
			}
		}
		vars[m[1]] = unquote(m[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, &ConfigError{Path: path, Line: lineno, Msg: err.Error()}
	}

	return New(vars)
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Lookup returns the value of a variable and whether it is set.
func (c *Context) Lookup(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Get returns the value of a variable or the empty string.
func (c *Context) Get(name string) string {
	return c.vars[name]
}

// Require returns the value of a variable or a
// MissingRequiredVariableError if it is unset or empty.
func (c *Context) Require(name string) (string, error) {
	v, ok := c.vars[name]
	if !ok || v == "" {
		return "", &MissingRequiredVariableError{Name: name}
	}
	return v, nil
}

func (c *Context) Machine() string {
	return c.vars[VarMachine]
}

func (c *Context) Rootfs() string {
	return c.vars[VarRootfs]
}

func (c *Context) TargetArch() string {
	return c.vars[VarTargetArch]
}

func (c *Context) DeployDir() string {
	return c.vars[VarDeployDir]
}

func (c *Context) NativeSysroot() string {
	return c.vars[VarNativeSysroot]
}

// ImageName returns the configured image name, falling back to the
// machine name.
func (c *Context) ImageName() string {
	if name := c.vars[VarImageName]; name != "" {
		return name
	}
	return c.Machine()
}
