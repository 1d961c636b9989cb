package imager_test

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/part"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
	"github.com/diskmason/diskmason/internal/plugin"
	"github.com/diskmason/diskmason/internal/plugin/imager"
)

const MiB = 1024 * 1024

func rawPart(ordinal int, label string, size uint64) kickstart.PartitionSpec {
	return kickstart.PartitionSpec{
		Ordinal:    ordinal,
		Label:      label,
		Source:     "rawcopy",
		SizePolicy: kickstart.SizeExplicit,
		Size:       size,
		Align:      MiB,
	}
}

func mustPlan(t *testing.T, specs []kickstart.PartitionSpec, directives kickstart.ImageDirectives) *layout.Plan {
	t.Helper()
	plan, err := layout.New(specs, directives, layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))
	return plan
}

func writeImage(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// definedPartitions filters out the empty slots partition-table readers
// may report.
func definedPartitions(t *testing.T, path string) []part.Partition {
	t.Helper()
	d, err := diskfs.Open(path)
	require.NoError(t, err)
	defer d.Close()

	table, err := d.GetPartitionTable()
	require.NoError(t, err)

	var parts []part.Partition
	for _, p := range table.GetPartitions() {
		if p.GetSize() > 0 {
			parts = append(parts, p)
		}
	}
	return parts
}

func TestConcatAssemble(t *testing.T) {
	specs := []kickstart.PartitionSpec{
		rawPart(0, "spl", MiB),
		rawPart(1, "uboot", MiB),
	}
	plan := mustPlan(t, specs, kickstart.ImageDirectives{
		Imager:         "concat",
		TableType:      "msdos",
		CapacityPolicy: kickstart.CapacityGrow,
	})

	dir := t.TempDir()
	images := map[int]string{
		0: writeImage(t, dir, "p0.img", []byte("SPLSPL")),
		1: writeImage(t, dir, "p1.img", []byte("UBOOT")),
	}

	im, err := plugin.LookupImager("concat")
	require.NoError(t, err)

	outPath := filepath.Join(dir, "flash.img")
	artifacts, err := im.Assemble(context.Background(), plan, images, &kickstart.ImageDirectives{CapacityPolicy: kickstart.CapacityGrow}, outPath)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	// image ends at the last partition, no table anywhere
	assert.Equal(t, int(plan.Partitions[1].End()), len(data))
	p0, p1 := plan.Partitions[0], plan.Partitions[1]
	assert.Equal(t, "SPLSPL", string(data[p0.Start:p0.Start+6]))
	assert.Equal(t, "UBOOT", string(data[p1.Start:p1.Start+5]))
	// gap between the partitions stays zeroed
	for _, b := range data[p0.Start+6 : p1.Start] {
		if b != 0 {
			t.Fatal("expected zeroed gap between partitions")
		}
	}
}

func TestDirectAssembleMSDOS(t *testing.T) {
	boot := rawPart(0, "boot", 2*MiB)
	boot.FSType = "vfat"
	boot.Bootable = true
	root := rawPart(1, "root", 4*MiB)
	root.FSType = "ext4"

	directives := kickstart.ImageDirectives{
		Imager:         "direct",
		TableType:      "msdos",
		CapacityPolicy: kickstart.CapacityExplicit,
		Capacity:       16 * MiB,
	}
	plan := mustPlan(t, []kickstart.PartitionSpec{boot, root}, directives)

	dir := t.TempDir()
	images := map[int]string{
		0: writeImage(t, dir, "p0.img", []byte("BOOTFS")),
		1: writeImage(t, dir, "p1.img", []byte("ROOTFS")),
	}

	im, err := plugin.LookupImager("direct")
	require.NoError(t, err)

	outPath := filepath.Join(dir, "disk.img")
	_, err = im.Assemble(context.Background(), plan, images, &directives, outPath)
	require.NoError(t, err)

	info, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.Equal(t, int64(16*MiB), info.Size())

	// the table reports exactly the planned partitions at the planned
	// offsets and sizes
	parts := definedPartitions(t, outPath)
	require.Len(t, parts, 2)
	assert.Equal(t, int64(plan.Partitions[0].Start), parts[0].GetStart())
	assert.Equal(t, int64(plan.Partitions[0].Size), parts[0].GetSize())
	assert.Equal(t, int64(plan.Partitions[1].Start), parts[1].GetStart())
	assert.Equal(t, int64(plan.Partitions[1].Size), parts[1].GetSize())

	// partition contents are in place, byte-exact
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "BOOTFS", string(data[plan.Partitions[0].Start:plan.Partitions[0].Start+6]))
	assert.Equal(t, "ROOTFS", string(data[plan.Partitions[1].Start:plan.Partitions[1].Start+6]))
}

func TestDirectAssembleGPT(t *testing.T) {
	boot := rawPart(0, "boot", 2*MiB)
	boot.FSType = "vfat"
	boot.Bootable = true
	root := rawPart(1, "root", 4*MiB)
	root.FSType = "ext4"

	directives := kickstart.ImageDirectives{
		Imager:         "direct",
		TableType:      "gpt",
		CapacityPolicy: kickstart.CapacityExplicit,
		Capacity:       16 * MiB,
	}
	plan, err := layout.New([]kickstart.PartitionSpec{boot, root}, directives, layout.Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Resolve(nil))
	plan.GenerateUUIDs(rand.New(rand.NewSource(0))) //nolint:gosec

	dir := t.TempDir()
	images := map[int]string{
		0: writeImage(t, dir, "p0.img", []byte("BOOTFS")),
		1: writeImage(t, dir, "p1.img", []byte("ROOTFS")),
	}

	im, err := plugin.LookupImager("direct")
	require.NoError(t, err)

	outPath := filepath.Join(dir, "disk.img")
	_, err = im.Assemble(context.Background(), plan, images, &directives, outPath)
	require.NoError(t, err)

	parts := definedPartitions(t, outPath)
	require.Len(t, parts, 2)
	assert.Equal(t, int64(plan.Partitions[0].Start), parts[0].GetStart())
	assert.Equal(t, int64(plan.Partitions[1].Start), parts[1].GetStart())
}

func TestDirectMSDOSAddressingLimit(t *testing.T) {
	// starts at 3 TiB, past what a 32-bit sector entry can address
	p := rawPart(0, "huge", MiB)
	p.Offset = 3 * 1024 * 1024 * MiB

	directives := kickstart.ImageDirectives{
		Imager:         "direct",
		TableType:      "msdos",
		CapacityPolicy: kickstart.CapacityExplicit,
		Capacity:       4 * 1024 * 1024 * MiB,
	}
	plan := mustPlan(t, []kickstart.PartitionSpec{p}, directives)

	im, err := plugin.LookupImager("direct")
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "disk.img")
	_, err = im.Assemble(context.Background(), plan, map[int]string{}, &directives, outPath)
	assert.ErrorContains(t, err, "addressing limit")
}

func TestDirectImageTooLargeForPlan(t *testing.T) {
	specs := []kickstart.PartitionSpec{rawPart(0, "p", MiB)}
	directives := kickstart.ImageDirectives{
		Imager:         "direct",
		TableType:      "msdos",
		CapacityPolicy: kickstart.CapacityExplicit,
		Capacity:       16 * MiB,
	}
	plan := mustPlan(t, specs, directives)

	dir := t.TempDir()
	oversized := make([]byte, 2*MiB)
	images := map[int]string{0: writeImage(t, dir, "p0.img", oversized)}

	im, err := plugin.LookupImager("direct")
	require.NoError(t, err)

	_, err = im.Assemble(context.Background(), plan, images, &directives, filepath.Join(dir, "disk.img"))
	assert.ErrorContains(t, err, "planned")
}

func TestCompressGzip(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "disk.img", []byte("imagedata imagedata imagedata"))

	outPath, err := imager.Compress(path, "gzip")
	require.NoError(t, err)
	assert.Equal(t, path+".gz", outPath)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "imagedata imagedata imagedata", string(data))
}

func TestCompressZstd(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "disk.img", []byte("imagedata imagedata imagedata"))

	outPath, err := imager.Compress(path, "zstd")
	require.NoError(t, err)
	assert.Equal(t, path+".zst", outPath)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "imagedata imagedata imagedata", string(data))
}
