// Package kickstart parses the declarative layout documents that describe
// an image's partitions and whole-image options. The dialect is
// line-oriented: `part` lines declare partitions, `bootloader` and `image`
// lines declare whole-image directives, `include` splices another
// document. Values may reference build variables as ${NAME}.
package kickstart

// SizePolicy selects how a partition's size is determined.
type SizePolicy int

const (
	// SizeAuto defers sizing until the partition's content has been
	// produced.
	SizeAuto SizePolicy = iota
	// SizeExplicit uses the size requested in the document.
	SizeExplicit
	// SizeFill absorbs all capacity left over by the other partitions.
	SizeFill
)

func (p SizePolicy) String() string {
	switch p {
	case SizeAuto:
		return "auto"
	case SizeExplicit:
		return "explicit"
	case SizeFill:
		return "fill"
	}
	return "unknown"
}

// CapacityPolicy selects how the total image capacity is determined.
type CapacityPolicy int

const (
	// CapacityGrow sizes the image to fit all partitions plus slack.
	CapacityGrow CapacityPolicy = iota
	// CapacityExplicit uses the capacity requested in the document.
	CapacityExplicit
)

// Default values applied to partitions that do not override them. The
// overhead factor and extra space paddings give content-sized filesystems
// room to breathe.
const (
	DefaultAlignment      = 1024 * 1024 // 1 MiB
	DefaultExtraSpace     = 10 * 1024 * 1024
	DefaultOverheadFactor = 1.3
)

// PartitionSpec is one declared partition, prior to layout planning.
type PartitionSpec struct {
	// Ordinal is the partition's position in the document, starting at 0.
	// Ordinals are unique and monotonic within a parsed document.
	Ordinal int
	// Line is the source line the partition was declared on.
	Line int

	Mountpoint string // informational; "" or "-" for none
	Source     string // source plugin name
	FSType     string // filesystem plugin name; "" means raw content

	SizePolicy SizePolicy
	Size       uint64 // bytes; only meaningful for SizeExplicit
	FixedSize  bool   // explicit size is a hard ceiling
	Align      uint64 // bytes
	Offset     uint64 // explicit start offset in bytes, 0 = sequential

	Label     string
	PartType  string // partition type GUID (gpt) or hex id (msdos)
	UUID      string
	FSOptions string

	Bootable bool
	Hidden   bool
	NoTable  bool

	ExtraSpace     uint64
	OverheadFactor float64

	SourceParams map[string]string
}

// Name returns a short human-readable identifier for error messages and
// scratch directory names.
func (p *PartitionSpec) Name() string {
	switch {
	case p.Label != "":
		return p.Label
	case p.Mountpoint != "" && p.Mountpoint != "-":
		return p.Mountpoint
	default:
		return p.Source
	}
}

// ImageDirectives are the whole-image options of a document.
type ImageDirectives struct {
	Imager    string // imager plugin name
	TableType string // "msdos" or "gpt"

	Bootloader        string // bootloader installation step, "" = none
	BootloaderAppend  string
	BootloaderTimeout int

	CapacityPolicy CapacityPolicy
	Capacity       uint64 // bytes; only meaningful for CapacityExplicit

	Output   string // output file name, "" = derived from build variables
	Compress string // "", "gzip" or "zstd"
}

// Document is a fully parsed layout description.
type Document struct {
	Partitions []PartitionSpec
	Directives ImageDirectives
}

// Resolver supplies values for ${NAME} references. *buildvars.Context
// implements it.
type Resolver interface {
	Lookup(name string) (string, bool)
}
