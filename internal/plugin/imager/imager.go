// Package imager implements the final-image assembly plugins. The
// direct imager writes a partitioned disk image with an msdos or gpt
// partition table; the concat imager writes a headerless image for
// targets that locate partitions by fixed offset. Both copy the staged
// partition images into place byte-exactly at their planned offsets.
package imager

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/diskmason/diskmason/internal/layout"
	"github.com/diskmason/diskmason/internal/plugin"
)

func init() {
	plugin.RegisterImager("direct", directImager{})
	plugin.RegisterImager("concat", concatImager{})
}

// copyAt copies a partition image into the output file at its planned
// offset. The image must fit the placed extent; a larger image means the
// plan and the staged content diverged, which is never recoverable.
func copyAt(out *os.File, imagePath string, part *layout.PlacedPartition) error {
	info, err := os.Stat(imagePath)
	if err != nil {
		return err
	}
	if uint64(info.Size()) > part.Size {
		return fmt.Errorf("partition %d (%s): image is %d bytes but only %d were planned",
			part.Ordinal, part.Name(), info.Size(), part.Size)
	}

	in, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, err := out.Seek(int64(part.Start), io.SeekStart); err != nil {
		return err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		return err
	}

	logrus.WithField("partition", part.Name()).Debugf("wrote %d bytes at offset %d", n, part.Start)
	return nil
}

// writePartitions copies every staged partition image into the output
// file, strictly in plan order.
func writePartitions(ctx context.Context, out *os.File, plan *layout.Plan, images map[int]string) error {
	for i := range plan.Partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		part := &plan.Partitions[i]
		imagePath, ok := images[part.Ordinal]
		if !ok {
			continue
		}
		if err := copyAt(out, imagePath, part); err != nil {
			return err
		}
	}
	return nil
}
