package codegen

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when there are no scenes to build a prompt from.
var ErrEmptyInput = errors.New("codegen: no scenes to build a prompt from")

// InvalidGenerationError reports model output that does not contain the required import.
type InvalidGenerationError struct {
	Marker  string
	Snippet string
}

func (e *InvalidGenerationError) Error() string {
	return fmt.Sprintf("codegen: generated code does not contain %q (response snippet: %s)", e.Marker, e.Snippet)
}
