package buildvars

import "fmt"

// ConfigError reports an unreadable or malformed metadata file.
type ConfigError struct {
	Path string
	Line int
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// MissingRequiredVariableError reports a required build variable that the
// upstream build system did not supply.
type MissingRequiredVariableError struct {
	Name string
}

func (e *MissingRequiredVariableError) Error() string {
	return fmt.Sprintf("required build variable %s is not set", e.Name)
}
