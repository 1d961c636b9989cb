package kickstart

import "fmt"

// ParseError reports a malformed or unknown directive. Unknown directives
// and tokens are hard failures: a silently skipped directive would
// produce a wrong image.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// UnresolvedVariableError reports a ${NAME} reference that the build
// context cannot satisfy.
type UnresolvedVariableError struct {
	File string
	Line int
	Name string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("%s:%d: unresolved variable ${%s}", e.File, e.Line, e.Name)
}
