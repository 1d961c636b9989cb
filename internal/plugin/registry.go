// Package plugin holds the process-wide registry of the three handler
// families the image engine dispatches on: source plugins populate a
// partition's content, filesystem plugins turn content into a filesystem
// image, and imager plugins compose the final disk image. Handlers are
// registered from package init functions and the registry is sealed
// before the first build; dispatch is a plain map lookup.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/diskmason/diskmason/internal/artifact"
	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
)

// Kind discriminates the three plugin families.
type Kind int

const (
	KindSource Kind = iota
	KindFilesystem
	KindImager
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindFilesystem:
		return "filesystem"
	case KindImager:
		return "imager"
	}
	return "unknown"
}

// Source populates a partition's content into destDir and returns the
// number of content bytes produced. Implementations must be idempotent:
// re-running with identical inputs produces byte-identical output,
// because planning may invoke a source twice (provisional sizing, then
// final staging). Implementations must not reach beyond the build
// context and spec passed to them.
type Source interface {
	Populate(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, destDir string) (uint64, error)
}

// Filesystem produces a filesystem image at outPath from the content in
// contentDir. A non-zero size is a fixed request the image must honor;
// size zero means "minimal sufficient size". Returns the size of the
// produced image.
type Filesystem interface {
	MkImage(ctx context.Context, spec *kickstart.PartitionSpec, bctx *buildvars.Context, contentDir string, size uint64, outPath string) (uint64, error)
}

// Imager assembles the partition images into the final disk image at
// outPath, writing a partition table when the format requires one,
// consistent with the plan's offsets. images maps partition ordinals to
// filesystem image paths; partitions without content have no entry.
type Imager interface {
	Assemble(ctx context.Context, plan *layout.Plan, images map[int]string, directives *kickstart.ImageDirectives, outPath string) ([]*artifact.Artifact, error)
}

// UnknownPluginError reports a layout document naming a plugin that was
// never registered. Dispatch never skips silently.
type UnknownPluginError struct {
	Kind Kind
	Name string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown %s plugin %q", e.Kind, e.Name)
}

var registry = struct {
	mu          sync.Mutex
	sealed      bool
	sources     map[string]Source
	filesystems map[string]Filesystem
	imagers     map[string]Imager
}{
	sources:     make(map[string]Source),
	filesystems: make(map[string]Filesystem),
	imagers:     make(map[string]Imager),
}

func register[T any](kind Kind, m map[string]T, name string, impl T) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.sealed {
		panic(fmt.Sprintf("plugin registration after seal: %s %q", kind, name))
	}
	if _, exists := m[name]; exists {
		panic(fmt.Sprintf("duplicate %s plugin %q", kind, name))
	}
	m[name] = impl
}

// RegisterSource adds a source plugin. Call from package init.
func RegisterSource(name string, impl Source) {
	register(KindSource, registry.sources, name, impl)
}

// RegisterFilesystem adds a filesystem-creation plugin. Call from
// package init.
func RegisterFilesystem(name string, impl Filesystem) {
	register(KindFilesystem, registry.filesystems, name, impl)
}

// RegisterImager adds an imager plugin. Call from package init.
func RegisterImager(name string, impl Imager) {
	register(KindImager, registry.imagers, name, impl)
}

// Seal freezes the registry. Any registration afterwards panics; builds
// must only start against a sealed registry.
func Seal() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.sealed = true
}

// LookupSource resolves a source plugin by name.
func LookupSource(name string) (Source, error) {
	if s, ok := registry.sources[name]; ok {
		return s, nil
	}
	return nil, &UnknownPluginError{Kind: KindSource, Name: name}
}

// LookupFilesystem resolves a filesystem-creation plugin by name.
func LookupFilesystem(name string) (Filesystem, error) {
	if f, ok := registry.filesystems[name]; ok {
		return f, nil
	}
	return nil, &UnknownPluginError{Kind: KindFilesystem, Name: name}
}

// LookupImager resolves an imager plugin by name.
func LookupImager(name string) (Imager, error) {
	if i, ok := registry.imagers[name]; ok {
		return i, nil
	}
	return nil, &UnknownPluginError{Kind: KindImager, Name: name}
}

// Names lists the registered plugin names of a kind, sorted.
func Names(kind Kind) []string {
	var names []string
	switch kind {
	case KindSource:
		for name := range registry.sources {
			names = append(names, name)
		}
	case KindFilesystem:
		for name := range registry.filesystems {
			names = append(names, name)
		}
	case KindImager:
		for name := range registry.imagers {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
