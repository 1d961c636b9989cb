package layout_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
)

const MiB = 1024 * 1024

func explicitPart(ordinal int, label string, size uint64) kickstart.PartitionSpec {
	return kickstart.PartitionSpec{
		Ordinal:    ordinal,
		Label:      label,
		Source:     "rootfs",
		FSType:     "ext4",
		SizePolicy: kickstart.SizeExplicit,
		Size:       size,
		Align:      kickstart.DefaultAlignment,
	}
}

func fillPart(ordinal int, label string) kickstart.PartitionSpec {
	return kickstart.PartitionSpec{
		Ordinal:    ordinal,
		Label:      label,
		Source:     "rootfs",
		FSType:     "ext4",
		SizePolicy: kickstart.SizeFill,
		Align:      kickstart.DefaultAlignment,
	}
}

func autoPart(ordinal int, label string) kickstart.PartitionSpec {
	return kickstart.PartitionSpec{
		Ordinal:    ordinal,
		Label:      label,
		Source:     "rootfs",
		FSType:     "ext4",
		SizePolicy: kickstart.SizeAuto,
		Align:      kickstart.DefaultAlignment,
	}
}

func growDirectives() kickstart.ImageDirectives {
	return kickstart.ImageDirectives{
		Imager:         "direct",
		TableType:      "msdos",
		CapacityPolicy: kickstart.CapacityGrow,
	}
}

func explicitDirectives(capacity uint64) kickstart.ImageDirectives {
	d := growDirectives()
	d.CapacityPolicy = kickstart.CapacityExplicit
	d.Capacity = capacity
	return d
}

func TestPlaceExplicitSizes(t *testing.T) {
	specs := []kickstart.PartitionSpec{
		explicitPart(0, "a", 64*MiB),
		explicitPart(1, "b", 3*MiB+1), // not aligned, must round up
		explicitPart(2, "c", 128*MiB),
	}
	plan, err := layout.New(specs, growDirectives(), layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))

	// sum of extents equals the sum of requested sizes rounded to
	// alignment, and no two partitions overlap
	var sum uint64
	for i, p := range plan.Partitions {
		expected := layout.AlignUp(specs[i].Size, specs[i].Align)
		assert.Equal(t, expected, p.Size, p.Label)
		assert.Zero(t, p.Start%p.Align, p.Label)
		sum += p.Size
		if i > 0 {
			assert.GreaterOrEqual(t, p.Start, plan.Partitions[i-1].End())
		}
	}
	assert.Equal(t, uint64(64+4+128)*MiB, sum)
	assert.GreaterOrEqual(t, plan.Capacity, plan.Partitions[2].End())
}

func TestPlaceBootRootScenario(t *testing.T) {
	// boot: vfat, 64 MiB, bootable; root: ext4, fills a 512 MiB image
	boot := explicitPart(0, "boot", 64*MiB)
	boot.FSType = "vfat"
	boot.Bootable = true
	root := fillPart(1, "root")

	plan, err := layout.New([]kickstart.PartitionSpec{boot, root}, explicitDirectives(512*MiB), layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))

	b, r := plan.Partitions[0], plan.Partitions[1]
	assert.Equal(t, uint64(MiB), b.Start) // first aligned boundary after the table
	assert.Equal(t, uint64(64*MiB), b.Size)
	assert.Equal(t, uint64(65*MiB), r.Start)
	assert.Equal(t, uint64(512*MiB)-r.Start, r.Size)
	assert.Equal(t, uint64(512*MiB), plan.Capacity)
	assert.Equal(t, uint64(512*MiB), r.End())
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, 2, r.Index)
}

func TestFillNegativeSpace(t *testing.T) {
	specs := []kickstart.PartitionSpec{
		explicitPart(0, "big", 512*MiB),
		fillPart(1, "fill"),
	}
	plan, err := layout.New(specs, explicitDirectives(256*MiB), layout.Options{})
	require.NoError(t, err)

	err = plan.Resolve(nil)
	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
}

func TestCapacityExceeded(t *testing.T) {
	specs := []kickstart.PartitionSpec{explicitPart(0, "a", 512 * MiB)}
	plan, err := layout.New(specs, explicitDirectives(256*MiB), layout.Options{})
	require.NoError(t, err)

	err = plan.Resolve(nil)
	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
	assert.Contains(t, lerr.Msg, "capacity")
}

func TestGrowCapacity(t *testing.T) {
	specs := []kickstart.PartitionSpec{explicitPart(0, "a", 16 * MiB)}
	plan, err := layout.New(specs, growDirectives(), layout.Options{MinSlack: 2 * MiB})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))

	end := plan.Partitions[0].End()
	assert.Equal(t, layout.AlignUp(end+2*MiB, 512), plan.Capacity)
}

func TestTwoFillPartitionsRejected(t *testing.T) {
	specs := []kickstart.PartitionSpec{fillPart(0, "a"), fillPart(1, "b")}
	_, err := layout.New(specs, explicitDirectives(512*MiB), layout.Options{})

	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
	assert.Contains(t, lerr.Msg, "at most one")
}

func TestFillMustBeLast(t *testing.T) {
	specs := []kickstart.PartitionSpec{fillPart(0, "fill"), explicitPart(1, "b", MiB)}
	_, err := layout.New(specs, explicitDirectives(512*MiB), layout.Options{})

	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
}

func TestFillRequiresExplicitCapacity(t *testing.T) {
	specs := []kickstart.PartitionSpec{fillPart(0, "fill")}
	_, err := layout.New(specs, growDirectives(), layout.Options{})

	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
}

func TestContentSizedPartition(t *testing.T) {
	specs := []kickstart.PartitionSpec{autoPart(0, "root")}
	plan, err := layout.New(specs, growDirectives(), layout.Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.Unresolved())

	require.NoError(t, plan.Resolve(map[int]uint64{0: 100 * MiB}))
	assert.Equal(t, uint64(100*MiB), plan.Partitions[0].Size)
	assert.True(t, plan.Placed())
}

func TestContentSizeMissing(t *testing.T) {
	specs := []kickstart.PartitionSpec{autoPart(0, "root")}
	plan, err := layout.New(specs, growDirectives(), layout.Options{})
	require.NoError(t, err)

	err = plan.Resolve(nil)
	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
}

func TestExplicitSizeGrowsToContent(t *testing.T) {
	specs := []kickstart.PartitionSpec{explicitPart(0, "root", 64 * MiB)}
	plan, err := layout.New(specs, growDirectives(), layout.Options{})
	require.NoError(t, err)

	require.NoError(t, plan.Resolve(map[int]uint64{0: 100 * MiB}))
	assert.Equal(t, uint64(100*MiB), plan.Partitions[0].Size)
}

func TestFixedSizeIsHardCeiling(t *testing.T) {
	spec := explicitPart(0, "root", 64*MiB)
	spec.FixedSize = true
	plan, err := layout.New([]kickstart.PartitionSpec{spec}, growDirectives(), layout.Options{})
	require.NoError(t, err)

	err = plan.Resolve(map[int]uint64{0: 100 * MiB})
	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "root", lerr.Partition)
	assert.Equal(t, 0, lerr.Ordinal)
}

func TestExplicitOffset(t *testing.T) {
	a := explicitPart(0, "a", 4*MiB)
	b := explicitPart(1, "b", 4*MiB)
	b.Offset = 32 * MiB

	plan, err := layout.New([]kickstart.PartitionSpec{a, b}, growDirectives(), layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))
	assert.Equal(t, uint64(32*MiB), plan.Partitions[1].Start)
}

func TestExplicitOffsetOverlapRejected(t *testing.T) {
	a := explicitPart(0, "a", 64*MiB)
	b := explicitPart(1, "b", 4*MiB)
	b.Offset = 32 * MiB // inside a

	plan, err := layout.New([]kickstart.PartitionSpec{a, b}, growDirectives(), layout.Options{})
	require.NoError(t, err)

	err = plan.Resolve(nil)
	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
	assert.Contains(t, lerr.Msg, "overlap")
}

func TestZeroSizePredecessorKeepsOrdinalOrder(t *testing.T) {
	a := explicitPart(0, "a", 0)
	b := explicitPart(1, "b", 4*MiB)

	plan, err := layout.New([]kickstart.PartitionSpec{a, b}, growDirectives(), layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))

	// both start at the same aligned offset; declared order wins
	assert.Equal(t, plan.Partitions[0].Start, plan.Partitions[1].Start)
	assert.Equal(t, "a", plan.Partitions[0].Label)
	assert.Equal(t, 1, plan.Partitions[0].Index)
	assert.Equal(t, 2, plan.Partitions[1].Index)
}

func TestGPTReservesFooter(t *testing.T) {
	d := explicitDirectives(512 * MiB)
	d.TableType = "gpt"
	specs := []kickstart.PartitionSpec{
		explicitPart(0, "boot", 64*MiB),
		fillPart(1, "root"),
	}
	plan, err := layout.New(specs, d, layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))

	footer := uint64(512 + 128*128)
	root := plan.Partitions[1]
	assert.Equal(t, uint64(512*MiB)-footer, root.End())
}

func TestMSDOSPartitionLimit(t *testing.T) {
	var specs []kickstart.PartitionSpec
	for i := 0; i < 5; i++ {
		specs = append(specs, explicitPart(i, "p", MiB))
	}
	_, err := layout.New(specs, growDirectives(), layout.Options{})

	var lerr *layout.LayoutError
	require.True(t, errors.As(err, &lerr))
	assert.Contains(t, lerr.Msg, "msdos")
}

func TestNoTablePartitionHasNoIndex(t *testing.T) {
	a := explicitPart(0, "spl", 1*MiB)
	a.NoTable = true
	b := explicitPart(1, "root", 16*MiB)

	plan, err := layout.New([]kickstart.PartitionSpec{a, b}, growDirectives(), layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))

	assert.Equal(t, 0, plan.Partitions[0].Index)
	assert.Equal(t, 1, plan.Partitions[1].Index)
	require.Len(t, plan.TableIndexed(), 1)
	assert.Equal(t, "root", plan.TableIndexed()[0].Label)
}

func TestGenerateUUIDs(t *testing.T) {
	d := growDirectives()
	d.TableType = "gpt"
	specs := []kickstart.PartitionSpec{explicitPart(0, "a", MiB)}
	plan, err := layout.New(specs, d, layout.Options{})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(0)) //nolint:gosec
	plan.GenerateUUIDs(rng)
	assert.NotEmpty(t, plan.DiskUUID)
	assert.NotEmpty(t, plan.Partitions[0].UUID)

	// seeded rng makes the plan reproducible
	plan2, err := layout.New(specs, d, layout.Options{})
	require.NoError(t, err)
	plan2.GenerateUUIDs(rand.New(rand.NewSource(0))) //nolint:gosec
	assert.Equal(t, plan.DiskUUID, plan2.DiskUUID)
}
