// Package layout resolves an ordered list of partition specifications
// into a concrete physical plan: aligned start offsets, final sizes and
// partition-table indices, all within the image capacity.
//
// Planning is two-pass. New builds a provisional plan in which
// content-sized partitions are unresolved; once their content has been
// produced and measured, Resolve installs the actual sizes and computes
// the placement. The plan is a pure function of its inputs plus one
// feedback value per content-sized partition.
package layout

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/diskmason/diskmason/internal/kickstart"
)

const (
	DefaultSectorSize = 512
	DefaultMinSlack   = 1024 * 1024

	// gptEntriesBytes is the on-disk size of a 128-entry GPT partition
	// array, reserved after the header sector and mirrored at the end of
	// the disk.
	gptEntries      = 128
	gptEntrySize    = 128
	gptEntriesBytes = gptEntries * gptEntrySize

	msdosMaxPartitions = 4
)

// Well-known GPT partition type GUIDs.
const (
	BIOSBootPartitionGUID  = "21686148-6449-6E6F-744E-656564454649"
	EFISystemPartitionGUID = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	FilesystemDataGUID     = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	LinuxSwapGUID          = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
)

// Options tune the planner.
type Options struct {
	SectorSize uint64 // bytes, default 512
	MinSlack   uint64 // extra capacity reserved when growing to fit
}

// PlacedPartition is a declared partition plus its computed placement.
type PlacedPartition struct {
	kickstart.PartitionSpec

	Start uint64 // byte offset within the image
	Size  uint64 // final size in bytes
	// Index is the 1-based partition-table index, or 0 for partitions
	// excluded from the table.
	Index int

	resolved bool
}

// End returns the first byte after the partition.
func (p *PlacedPartition) End() uint64 {
	return p.Start + p.Size
}

// Plan is the fully resolved, non-overlapping, aligned placement of all
// partitions within the image capacity.
type Plan struct {
	TableType  string
	DiskUUID   string
	SectorSize uint64
	Capacity   uint64
	Partitions []PlacedPartition

	directives kickstart.ImageDirectives
	minSlack   uint64
	placed     bool
}

// AlignUp rounds size up to the next multiple of grain.
func AlignUp(size, grain uint64) uint64 {
	if grain == 0 || size%grain == 0 {
		return size
	}
	return ((size / grain) + 1) * grain
}

// New builds a provisional plan from parsed partition specs and image
// directives. Content-sized partitions remain unresolved until Resolve is
// called; explicitly sized partitions already carry their size.
func New(specs []kickstart.PartitionSpec, directives kickstart.ImageDirectives, opts Options) (*Plan, error) {
	if opts.SectorSize == 0 {
		opts.SectorSize = DefaultSectorSize
	}
	if opts.MinSlack == 0 {
		opts.MinSlack = DefaultMinSlack
	}

	plan := &Plan{
		TableType:  directives.TableType,
		SectorSize: opts.SectorSize,
		directives: directives,
		minSlack:   opts.MinSlack,
	}

	fills := 0
	for i, spec := range specs {
		if spec.Ordinal != i {
			return nil, &LayoutError{Partition: spec.Name(), Ordinal: spec.Ordinal, Msg: "partition ordinals are not monotonic"}
		}
		placed := PlacedPartition{PartitionSpec: spec}
		switch spec.SizePolicy {
		case kickstart.SizeExplicit:
			placed.Size = spec.Size
			placed.resolved = true
		case kickstart.SizeFill:
			fills++
			if fills > 1 {
				return nil, &LayoutError{Partition: spec.Name(), Ordinal: spec.Ordinal, Msg: "at most one partition may fill remaining space"}
			}
			if i != len(specs)-1 {
				return nil, &LayoutError{Partition: spec.Name(), Ordinal: spec.Ordinal, Msg: "the fill partition must be declared last"}
			}
			if directives.CapacityPolicy != kickstart.CapacityExplicit {
				return nil, &LayoutError{Partition: spec.Name(), Ordinal: spec.Ordinal, Msg: "a fill partition requires an explicit image capacity"}
			}
		}
		plan.Partitions = append(plan.Partitions, placed)
	}

	tableMax := gptEntries
	if directives.TableType == "msdos" {
		tableMax = msdosMaxPartitions
	}
	inTable := 0
	for _, p := range plan.Partitions {
		if !p.NoTable {
			inTable++
		}
	}
	if inTable > tableMax {
		return nil, &LayoutError{Msg: "too many partitions for a " + directives.TableType + " partition table"}
	}

	return plan, nil
}

// Unresolved returns the ordinals of partitions whose size depends on
// produced content.
func (pl *Plan) Unresolved() []int {
	var ords []int
	for _, p := range pl.Partitions {
		if !p.resolved && p.SizePolicy == kickstart.SizeAuto {
			ords = append(ords, p.Ordinal)
		}
	}
	return ords
}

// Resolve installs measured content sizes (bytes, keyed by ordinal) and
// computes the final placement. Content-sized partitions take their
// measured size. An explicitly sized partition grows to its content when
// the content is larger, unless the size was declared fixed, in which
// case overflow is a hard layout failure.
func (pl *Plan) Resolve(sizes map[int]uint64) error {
	for i := range pl.Partitions {
		p := &pl.Partitions[i]
		content, measured := sizes[p.Ordinal]

		switch p.SizePolicy {
		case kickstart.SizeAuto:
			if !measured {
				return &LayoutError{Partition: p.Name(), Ordinal: p.Ordinal, Msg: "no content size reported for content-sized partition"}
			}
			p.Size = content
			p.resolved = true
		case kickstart.SizeExplicit:
			if measured && content > p.Size {
				if p.FixedSize {
					return &LayoutError{Partition: p.Name(), Ordinal: p.Ordinal,
						Msg: "content exceeds the declared fixed size"}
				}
				p.Size = content
			}
		}
	}
	return pl.place()
}

// place assigns offsets in declared ordinal order, honoring per-partition
// alignment, then settles the fill partition and the image capacity.
func (pl *Plan) place() error {
	header := pl.SectorSize // boot sector / GPT protective MBR
	footer := uint64(0)
	if pl.TableType == "gpt" {
		header += pl.SectorSize + gptEntriesBytes
		footer = pl.SectorSize + gptEntriesBytes
	}

	cursor := header
	index := 0
	var fill *PlacedPartition

	for i := range pl.Partitions {
		p := &pl.Partitions[i]

		if !p.NoTable {
			index++
			p.Index = index
		}

		start := AlignUp(cursor, p.Align)
		if p.Offset != 0 {
			if p.Offset < start {
				return &LayoutError{Partition: p.Name(), Ordinal: p.Ordinal, Msg: "requested offset overlaps the previous partition"}
			}
			if p.Offset%p.Align != 0 {
				return &LayoutError{Partition: p.Name(), Ordinal: p.Ordinal, Msg: "requested offset violates the alignment constraint"}
			}
			start = p.Offset
		}
		p.Start = start

		if p.SizePolicy == kickstart.SizeFill {
			// settled below, once the end of the disk is known
			fill = p
			cursor = start
			continue
		}

		p.Size = AlignUp(p.Size, p.Align)
		cursor = start + p.Size
	}

	switch pl.directives.CapacityPolicy {
	case kickstart.CapacityExplicit:
		pl.Capacity = pl.directives.Capacity
		if cursor+footer > pl.Capacity {
			return &LayoutError{Msg: "partitions exceed the image capacity"}
		}
	case kickstart.CapacityGrow:
		pl.Capacity = AlignUp(cursor+footer+pl.minSlack, pl.SectorSize)
	}

	if fill != nil {
		end := pl.Capacity - footer
		if end <= fill.Start {
			return &LayoutError{Partition: fill.Name(), Ordinal: fill.Ordinal, Msg: "no capacity left for the fill partition"}
		}
		fill.Size = end - fill.Start
		fill.resolved = true
	}

	pl.placed = true
	return nil
}

// GenerateUUIDs fills in missing disk and partition identifiers. GPT
// partitions get random UUIDs; msdos tables only need the disk id. The
// rng parameter makes plans reproducible under test.
func (pl *Plan) GenerateUUIDs(rng *rand.Rand) {
	if pl.DiskUUID == "" {
		pl.DiskUUID = uuid.Must(uuid.NewRandomFromReader(rng)).String()
	}
	if pl.TableType != "gpt" {
		return
	}
	for i := range pl.Partitions {
		if pl.Partitions[i].UUID == "" {
			pl.Partitions[i].UUID = uuid.Must(uuid.NewRandomFromReader(rng)).String()
		}
	}
}

// TableIndexed returns the partitions that appear in the partition table,
// in table order.
func (pl *Plan) TableIndexed() []*PlacedPartition {
	var parts []*PlacedPartition
	for i := range pl.Partitions {
		if pl.Partitions[i].Index > 0 {
			parts = append(parts, &pl.Partitions[i])
		}
	}
	return parts
}

// Placed reports whether Resolve has completed and offsets are final.
func (pl *Plan) Placed() bool {
	return pl.placed
}
