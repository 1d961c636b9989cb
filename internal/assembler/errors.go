package assembler

import (
	"fmt"
)

// SourceError reports a failed content-population step for one partition.
type SourceError struct {
	Partition string
	Ordinal   int
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("partition %d (%s): populating content: %v", e.Ordinal, e.Partition, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// FilesystemError reports a failed filesystem-image creation step for one
// partition.
type FilesystemError struct {
	Partition string
	Ordinal   int
	Err       error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("partition %d (%s): creating filesystem image: %v", e.Ordinal, e.Partition, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// AssemblyError reports a failure while composing or finalizing the disk
// image itself.
type AssemblyError struct {
	Imager string
	Err    error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("%s imager: %v", e.Imager, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}
