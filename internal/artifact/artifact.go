// Package artifact records the files a build produces and writes the
// manifest that enumerates them.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// Role classifies a produced file.
type Role string

const (
	RoleImage          Role = "image"
	RolePartitionImage Role = "partition-image"
	RoleManifest       Role = "manifest"
	RoleLog            Role = "log"
)

type Artifact struct {
	path     string
	role     Role
	size     uint64
	checksum string
}

// New records a produced file, reading it once to capture size and
// SHA-256 checksum.
func New(path string, role Role) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("recording artifact: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recording artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("checksumming %s: %w", path, err)
	}

	return &Artifact{
		path:     path,
		role:     role,
		size:     uint64(info.Size()),
		checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (a *Artifact) Path() string {
	return a.path
}

func (a *Artifact) Role() Role {
	return a.role
}

func (a *Artifact) Size() uint64 {
	return a.size
}

// Checksum returns the hex-encoded SHA-256 of the file contents.
func (a *Artifact) Checksum() string {
	return a.checksum
}

func (a *Artifact) String() string {
	return fmt.Sprintf("%s (%s, %s)", a.path, a.role, humanize.IBytes(a.size))
}
