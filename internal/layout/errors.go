package layout

import "fmt"

// LayoutError reports unsatisfiable partition constraints.
type LayoutError struct {
	Partition string // offending partition name, "" for whole-layout errors
	Ordinal   int
	Msg       string
}

func (e *LayoutError) Error() string {
	if e.Partition != "" {
		return fmt.Sprintf("layout: partition %d (%s): %s", e.Ordinal, e.Partition, e.Msg)
	}
	return "layout: " + e.Msg
}
