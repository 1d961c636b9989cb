package main

import (
	"errors"
	"fmt"

	"github.com/diskmason/diskmason/internal/assembler"
	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
	"github.com/diskmason/diskmason/internal/nativetool"
	"github.com/diskmason/diskmason/internal/plugin"
)

// usageError reports invalid command line usage.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

// diagnosticsKeptError marks a build failure whose scratch workspace was
// preserved for inspection.
type diagnosticsKeptError struct {
	err error
}

func (e *diagnosticsKeptError) Error() string {
	return fmt.Sprintf("%v (scratch workspace preserved)", e.err)
}

func (e *diagnosticsKeptError) Unwrap() error {
	return e.err
}

// exitCode maps an error to the process exit code, most specific failure
// family first.
func exitCode(err error) int {
	var (
		diagErr    *diagnosticsKeptError
		usageErr   *usageError
		configErr  *buildvars.ConfigError
		missingErr *buildvars.MissingRequiredVariableError
		parseErr   *kickstart.ParseError
		varErr     *kickstart.UnresolvedVariableError
		layoutErr  *layout.LayoutError
		pluginErr  *plugin.UnknownPluginError
		toolErr    *nativetool.ExternalToolError
		srcErr     *assembler.SourceError
		fsErr      *assembler.FilesystemError
		asmErr     *assembler.AssemblyError
	)

	switch {
	case err == nil:
		return 0
	case errors.As(err, &diagErr):
		return 9
	case errors.As(err, &usageErr):
		return 2
	case errors.As(err, &configErr), errors.As(err, &missingErr):
		return 3
	case errors.As(err, &parseErr), errors.As(err, &varErr):
		return 4
	case errors.As(err, &layoutErr):
		return 5
	case errors.As(err, &pluginErr):
		return 6
	case errors.As(err, &toolErr):
		return 8
	case errors.As(err, &srcErr), errors.As(err, &fsErr), errors.As(err, &asmErr):
		return 7
	}
	return 1
}
