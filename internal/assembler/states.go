package assembler

import (
	"encoding/json"
)

func stateMapping() []string {
	return []string{"INITIALIZED", "PLANNED", "STAGING", "ASSEMBLING", "FINALIZING", "COMPLETE", "FAILED"}
}

// BuildState tracks a build's progress through the pipeline. Transitions
// are strictly forward; FAILED is terminal and reachable from any state.
type BuildState int

const (
	StateInitialized BuildState = iota
	StatePlanned
	StateStaging
	StateAssembling
	StateFinalizing
	StateComplete
	StateFailed
)

// StateConversionError is thrown when parsing strings into build states
type StateConversionError struct {
	reason string
}

func (err *StateConversionError) Error() string {
	return err.reason
}

func (s BuildState) String() string {
	mapping := stateMapping()
	if int(s) < 0 || int(s) >= len(mapping) {
		return "UNKNOWN"
	}
	return mapping[s]
}

// UnmarshalJSON converts a JSON string into a BuildState
func (s *BuildState) UnmarshalJSON(data []byte) error {
	var stringInput string
	if err := json.Unmarshal(data, &stringInput); err != nil {
		return err
	}
	for n, str := range stateMapping() {
		if str == stringInput {
			*s = BuildState(n)
			return nil
		}
	}
	return &StateConversionError{"invalid build state: " + stringInput}
}

func (s BuildState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
