package artifact

import (
	"encoding/json"
	"fmt"
	"os"
)

type manifestEntry struct {
	Path   string `json:"path"`
	Role   Role   `json:"role"`
	Size   uint64 `json:"size"`
	SHA256 string `json:"sha256"`
}

// WriteManifest writes a JSON manifest enumerating the given artifacts
// and returns the manifest as an artifact itself.
func WriteManifest(path string, artifacts []*Artifact) (*Artifact, error) {
	entries := make([]manifestEntry, 0, len(artifacts))
	for _, a := range artifacts {
		entries = append(entries, manifestEntry{
			Path:   a.Path(),
			Role:   a.Role(),
			Size:   a.Size(),
			SHA256: a.Checksum(),
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	return New(path, RoleManifest)
}
