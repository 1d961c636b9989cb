// Package assembler drives a parsed layout document through the build
// pipeline: plan the partition layout, populate and measure partition
// content, create the filesystem images, compose the final disk image and
// write the artifact manifest. One Assembler performs exactly one build.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/diskmason/diskmason/internal/artifact"
	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
	"github.com/diskmason/diskmason/internal/plugin"
	"github.com/diskmason/diskmason/internal/plugin/fsimage"
	"github.com/diskmason/diskmason/internal/plugin/imager"
)

// DefaultWorkers bounds concurrent partition staging.
const DefaultWorkers = 4

// mbrBootcodeSize is the bootstrap code area of a master boot record,
// before the partition entries.
const mbrBootcodeSize = 440

// Options tune a build.
type Options struct {
	// Workers bounds how many partitions are staged concurrently.
	Workers int

	// ScratchDir is the parent directory for the build's scratch tree.
	// Empty means the system temp directory.
	ScratchDir string

	// PreserveScratch keeps the scratch tree when a build fails, for
	// post-mortem inspection.
	PreserveScratch bool

	// Output overrides the output image path from the layout document
	// and the build variables.
	Output string

	// Rand seeds identifier generation; tests pass a fixed source for
	// reproducible plans. Nil means time-seeded.
	Rand *rand.Rand

	Layout layout.Options
}

// Result is a completed build.
type Result struct {
	OutputPath string
	Plan       *layout.Plan
	Artifacts  []*artifact.Artifact
}

// Assembler performs one build of one layout document. Instances are
// single use; a second Run returns an error.
type Assembler struct {
	doc  *kickstart.Document
	bctx *buildvars.Context
	opts Options

	mu    sync.Mutex
	state BuildState
	ran   bool
}

// New prepares a build of doc against the build metadata in bctx.
func New(doc *kickstart.Document, bctx *buildvars.Context, opts Options) *Assembler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Assembler{
		doc:   doc,
		bctx:  bctx,
		opts:  opts,
		state: StateInitialized,
	}
}

// State returns the build's current state.
func (a *Assembler) State() BuildState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Assembler) setState(s BuildState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	logrus.WithField("state", s.String()).Debug("build state changed")
}

// Run performs the build. It either succeeds completely, returning the
// output image and its sibling artifacts, or fails without leaving a
// partial output image behind.
func (a *Assembler) Run(ctx context.Context) (*Result, error) {
	a.mu.Lock()
	if a.ran {
		a.mu.Unlock()
		return nil, errors.New("assembler instances are single use")
	}
	a.ran = true
	a.mu.Unlock()

	res, err := a.run(ctx)
	if err != nil {
		a.setState(StateFailed)
		return nil, err
	}
	a.setState(StateComplete)
	return res, nil
}

// partHandlers are one partition's resolved plugins.
type partHandlers struct {
	src plugin.Source
	fs  plugin.Filesystem
}

func (a *Assembler) run(ctx context.Context) (res *Result, err error) {
	directives := a.doc.Directives

	// Resolve every plugin before touching the filesystem, so an unknown
	// name in the document fails the build without side effects.
	im, err := plugin.LookupImager(directives.Imager)
	if err != nil {
		return nil, err
	}
	handlers := make([]partHandlers, len(a.doc.Partitions))
	for i := range a.doc.Partitions {
		spec := &a.doc.Partitions[i]
		if handlers[i].src, err = plugin.LookupSource(spec.Source); err != nil {
			return nil, err
		}
		if handlers[i].fs, err = plugin.LookupFilesystem(fsimage.Name(spec)); err != nil {
			return nil, err
		}
	}
	switch directives.Bootloader {
	case "", "none", "mbr":
	default:
		return nil, fmt.Errorf("unsupported bootloader %q", directives.Bootloader)
	}

	plan, err := layout.New(a.doc.Partitions, directives, a.opts.Layout)
	if err != nil {
		return nil, err
	}
	a.setState(StatePlanned)

	scratch, err := os.MkdirTemp(a.opts.ScratchDir, "diskmason-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && a.opts.PreserveScratch {
			logrus.WithField("scratch", scratch).Warn("build failed, preserving scratch tree")
			return
		}
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			err = multierror.Append(err, rmErr)
		}
	}()

	outPath, err := a.outputPath()
	if err != nil {
		return nil, err
	}
	// outputWritten flips once the imager has opened (and truncated) the
	// output file; a failure before that must not touch an image left by
	// an earlier build.
	outputWritten := false
	defer func() {
		if err == nil || !outputWritten {
			return
		}
		if a.opts.PreserveScratch {
			logrus.WithField("output", outPath).Warn("build failed, preserving partial output image")
			return
		}
		if rmErr := os.Remove(outPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierror.Append(err, rmErr)
		}
	}()

	a.setState(StateStaging)
	images, err := a.stage(ctx, plan, handlers, scratch)
	if err != nil {
		return nil, err
	}

	a.setState(StateAssembling)
	outputWritten = true
	artifacts, err := im.Assemble(ctx, plan, images, &directives, outPath)
	if err != nil {
		return nil, &AssemblyError{Imager: directives.Imager, Err: err}
	}

	a.setState(StateFinalizing)
	if directives.Bootloader == "mbr" {
		if err := a.installBootcode(outPath); err != nil {
			return nil, err
		}
	}
	if directives.Compress != "" && directives.Compress != "none" {
		compressed, cErr := imager.Compress(outPath, directives.Compress)
		if cErr != nil {
			return nil, cErr
		}
		ca, cErr := artifact.New(compressed, artifact.RoleImage)
		if cErr != nil {
			return nil, cErr
		}
		artifacts = append(artifacts, ca)
	}

	manifest, err := artifact.WriteManifest(outPath+".manifest.json", artifacts)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, manifest)

	for _, art := range artifacts {
		logrus.Info(art.String())
	}
	return &Result{OutputPath: outPath, Plan: plan, Artifacts: artifacts}, nil
}

// stage populates partition content and produces the per-partition
// filesystem images, feeding measured sizes back into the plan.
//
// The first pass populates every partition's content and builds the
// images of content-sized partitions at their minimal size. The measured
// sizes settle the plan; the second pass then builds the remaining images
// at their final placed size.
func (a *Assembler) stage(ctx context.Context, plan *layout.Plan, handlers []partHandlers, scratch string) (map[int]string, error) {
	var mu sync.Mutex
	measured := make(map[int]uint64)
	images := make(map[int]string)

	contentDir := func(ordinal int) string {
		return filepath.Join(scratch, "content", fmt.Sprintf("p%d", ordinal))
	}
	imagePath := func(ordinal int) string {
		return filepath.Join(scratch, "images", fmt.Sprintf("p%d.img", ordinal))
	}
	if err := os.MkdirAll(filepath.Join(scratch, "images"), 0o755); err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(int64(a.opts.Workers))
	g, gctx := errgroup.WithContext(ctx)
	for i := range a.doc.Partitions {
		spec := &a.doc.Partitions[i]
		h := handlers[i]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			dest := contentDir(spec.Ordinal)
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			content, err := h.src.Populate(gctx, spec, a.bctx, dest)
			if err != nil {
				return &SourceError{Partition: spec.Name(), Ordinal: spec.Ordinal, Err: err}
			}
			logrus.WithFields(logrus.Fields{
				"partition": spec.Name(),
				"bytes":     content,
			}).Debug("populated partition content")

			switch spec.SizePolicy {
			case kickstart.SizeAuto:
				// minimal image now, its size settles the plan
				size, err := h.fs.MkImage(gctx, spec, a.bctx, dest, 0, imagePath(spec.Ordinal))
				if err != nil {
					return &FilesystemError{Partition: spec.Name(), Ordinal: spec.Ordinal, Err: err}
				}
				mu.Lock()
				measured[spec.Ordinal] = size
				images[spec.Ordinal] = imagePath(spec.Ordinal)
				mu.Unlock()
			case kickstart.SizeExplicit:
				// content bytes only; the plan grows the partition when
				// the content outgrows the declared size
				mu.Lock()
				measured[spec.Ordinal] = content
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := plan.Resolve(measured); err != nil {
		return nil, err
	}
	plan.GenerateUUIDs(a.rng())

	g, gctx = errgroup.WithContext(ctx)
	for i := range plan.Partitions {
		placed := &plan.Partitions[i]
		if placed.SizePolicy == kickstart.SizeAuto {
			continue
		}
		h := handlers[i]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			path := imagePath(placed.Ordinal)
			if _, err := h.fs.MkImage(gctx, &placed.PartitionSpec, a.bctx, contentDir(placed.Ordinal), placed.Size, path); err != nil {
				return &FilesystemError{Partition: placed.Name(), Ordinal: placed.Ordinal, Err: err}
			}
			mu.Lock()
			images[placed.Ordinal] = path
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// installBootcode copies the bootstrap code area of the MBR from the file
// the build metadata points at. Only the first 440 bytes are taken; the
// partition entries the imager wrote stay untouched.
func (a *Assembler) installBootcode(outPath string) error {
	src, err := a.bctx.Require(buildvars.VarMBRBootcode)
	if err != nil {
		return err
	}
	code, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading MBR bootcode: %w", err)
	}
	if len(code) > mbrBootcodeSize {
		code = code[:mbrBootcodeSize]
	}

	out, err := os.OpenFile(outPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if _, err := out.WriteAt(code, 0); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (a *Assembler) outputPath() (string, error) {
	path := a.opts.Output
	if path == "" {
		path = a.doc.Directives.Output
	}
	if path == "" {
		path = filepath.Join(a.bctx.DeployDir(), a.bctx.ImageName()+".img")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (a *Assembler) rng() *rand.Rand {
	if a.opts.Rand != nil {
		return a.opts.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
}
