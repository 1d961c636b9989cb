package imager

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/diskmason/diskmason/internal/artifact"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
)

// directImager assembles a structured disk image: partition contents at
// their planned offsets plus an msdos or gpt partition table describing
// them.
type directImager struct{}

func (directImager) Assemble(ctx context.Context, plan *layout.Plan, images map[int]string, directives *kickstart.ImageDirectives, outPath string) ([]*artifact.Artifact, error) {
	if !plan.Placed() {
		return nil, fmt.Errorf("internal error: assembling an unplaced plan")
	}

	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := out.Truncate(int64(plan.Capacity)); err != nil {
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

	if err := writeTable(plan, outPath); err != nil {
		return nil, fmt.Errorf("writing %s partition table: %w", plan.TableType, err)
	}

	a, err := artifact.New(outPath, artifact.RoleImage)
	if err != nil {
		return nil, err
	}
	return []*artifact.Artifact{a}, nil
}

func writeTable(plan *layout.Plan, outPath string) error {
	d, err := diskfs.Open(outPath)
	if err != nil {
		return err
	}
	defer d.Close()

	var table partition.Table
	switch plan.TableType {
	case "gpt":
		table = gptTable(plan)
	case "msdos":
		table, err = mbrTable(plan)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported partition table type %q", plan.TableType)
	}
	return d.Partition(table)
}

func gptTable(plan *layout.Plan) *gpt.Table {
	sector := plan.SectorSize
	var parts []*gpt.Partition
	for _, p := range plan.TableIndexed() {
		var attrs uint64
		if p.Bootable {
			// legacy BIOS bootable
			attrs |= 1 << 2
		}
		if p.Hidden {
			// ignored by EFI firmware
			attrs |= 1 << 1
		}
		parts = append(parts, &gpt.Partition{
			Start:      p.Start / sector,
			End:        p.End()/sector - 1,
			Size:       p.Size,
			Type:       gptType(p),
			Name:       p.Label,
			GUID:       p.UUID,
			Attributes: attrs,
		})
	}
	return &gpt.Table{
		ProtectiveMBR:      true,
		GUID:               plan.DiskUUID,
		Partitions:         parts,
		LogicalSectorSize:  int(sector),
		PhysicalSectorSize: int(sector),
	}
}

func gptType(p *layout.PlacedPartition) gpt.Type {
	if p.PartType != "" {
		return gpt.Type(strings.ToUpper(p.PartType))
	}
	switch {
	case p.FSType == "swap":
		return gpt.Type(layout.LinuxSwapGUID)
	case p.FSType == "vfat" && p.Bootable:
		return gpt.Type(layout.EFISystemPartitionGUID)
	default:
		return gpt.Type(layout.FilesystemDataGUID)
	}
}

func mbrTable(plan *layout.Plan) (*mbr.Table, error) {
	sector := plan.SectorSize
	var parts []*mbr.Partition
	for _, p := range plan.TableIndexed() {
		ptype, err := mbrType(p)
		if err != nil {
			return nil, err
		}
		start := p.Start / sector
		size := p.Size / sector
		// msdos table entries address sectors with 32 bits
		if start > math.MaxUint32 || size > math.MaxUint32 {
			return nil, fmt.Errorf("partition %d (%s): beyond the msdos addressing limit, use a gpt table", p.Ordinal, p.Name())
		}
		parts = append(parts, &mbr.Partition{
			Bootable: p.Bootable,
			Type:     ptype,
			Start:    uint32(start),
			Size:     uint32(size),
		})
	}
	return &mbr.Table{
		Partitions:         parts,
		LogicalSectorSize:  int(sector),
		PhysicalSectorSize: int(sector),
	}, nil
}

func mbrType(p *layout.PlacedPartition) (mbr.Type, error) {
	if p.PartType != "" {
		id, err := strconv.ParseUint(strings.TrimPrefix(p.PartType, "0x"), 16, 8)
		if err != nil {
			return 0, fmt.Errorf("partition %d (%s): invalid msdos partition type %q", p.Ordinal, p.Name(), p.PartType)
		}
		return mbr.Type(id), nil
	}
	switch p.FSType {
	case "vfat":
		return mbr.Fat32LBA, nil
	case "swap":
		return mbr.LinuxSwap, nil
	default:
		return mbr.Linux, nil
	}
}
