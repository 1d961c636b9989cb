package imager

import (
	"context"
	"fmt"
	"os"

	"github.com/diskmason/diskmason/internal/artifact"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
)

// concatImager writes a headerless image: partition contents at their
// planned offsets with no partition table. Targets with a fixed flash
// layout (boot ROMs loading from hardcoded offsets) consume these.
type concatImager struct{}

func (concatImager) Assemble(ctx context.Context, plan *layout.Plan, images map[int]string, directives *kickstart.ImageDirectives, outPath string) ([]*artifact.Artifact, error) {
	if !plan.Placed() {
		return nil, fmt.Errorf("internal error: assembling an unplaced plan")
	}

	size := uint64(0)
	for i := range plan.Partitions {
		if end := plan.Partitions[i].End(); end > size {
			size = end
		}
	}
	if directives.CapacityPolicy == kickstart.CapacityExplicit {
		size = plan.Capacity
	}

	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := out.Truncate(int64(size)); err != nil {
		out.Close()
		return nil, err
	}

	if err := writePartitions(ctx, out, plan, images); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	a, err := artifact.New(outPath, artifact.RoleImage)
	if err != nil {
		return nil, err
	}
	return []*artifact.Artifact{a}, nil
}
