package render

import (
	"fmt"
	"strings"
)

// RenderError reports a render tool run that timed out, exited non-zero, or
// produced more output than allowed. Output holds the captured diagnostics.
type RenderError struct {
	JobID    string
	ExitCode int
	TimedOut bool
	Overflow bool
	Output   string
	Err      error
}

func (e *RenderError) Error() string {
	var reason string
	switch {
	case e.TimedOut:
		reason = "timed out"
	case e.Overflow:
		reason = "output exceeded buffer limit"
	case e.ExitCode != 0:
		reason = fmt.Sprintf("exit code %d", e.ExitCode)
	case e.Err != nil:
		reason = e.Err.Error()
	default:
		reason = "failed"
	}
	msg := "render " + reason
	if tail := diagnosticTail(e.Output); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ArtifactNotFoundError is returned when the render tool reported success but no
// output file matches the expected layout.
type ArtifactNotFoundError struct {
	Root string
	Name string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("generated video file not found: no %s%s under %s", e.Name, VideoExt, e.Root)
}

// diagnosticTail keeps the last lines of tool output, which is where manim prints
// the traceback.
func diagnosticTail(output string) string {
	output = strings.TrimSpace(output)
	const limit = 1500
	if len(output) <= limit {
		return output
	}
	return "..." + output[len(output)-limit:]
}
