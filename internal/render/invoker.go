package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var commandContext = exec.CommandContext

const (
	defaultBinary    = "manim"
	defaultTimeout   = 2 * time.Minute
	defaultMaxOutput = 10 * 1024 * 1024
	waitDelay        = 5 * time.Second
)

// Option configures the invoker.
type Option func(*Invoker)

// WithBinary overrides the render tool executable.
func WithBinary(binary string) Option {
	return func(inv *Invoker) {
		if strings.TrimSpace(binary) != "" {
			inv.binary = strings.TrimSpace(binary)
		}
	}
}

// WithTimeout bounds each render run.
func WithTimeout(d time.Duration) Option {
	return func(inv *Invoker) {
		if d > 0 {
			inv.timeout = d
		}
	}
}

// WithMaxOutput bounds the combined stdout and stderr captured from a run.
func WithMaxOutput(n int64) Option {
	return func(inv *Invoker) {
		if n > 0 {
			inv.maxOutput = n
		}
	}
}

// Invoker runs the manim CLI against generated sources, one directory per job.
type Invoker struct {
	workDir   string
	binary    string
	timeout   time.Duration
	maxOutput int64
}

// Result describes a successful run.
type Result struct {
	Dir        string
	SourcePath string
	Output     string
	Duration   time.Duration
}

// NewInvoker constructs an invoker rooted at workDir.
func NewInvoker(workDir string, opts ...Option) (*Invoker, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, errors.New("render: work directory required")
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("render: resolve work directory: %w", err)
	}
	inv := &Invoker{
		workDir:   abs,
		binary:    defaultBinary,
		timeout:   defaultTimeout,
		maxOutput: defaultMaxOutput,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// WorkDir returns the absolute root under which job directories are created.
func (inv *Invoker) WorkDir() string {
	return inv.workDir
}

// JobDir is the directory a job's source and media tree live in.
func (inv *Invoker) JobDir(jobID string) string {
	return filepath.Join(inv.workDir, jobID)
}

// SourceName is the file name the generated source is written to.
func SourceName(jobID string) string {
	return "animation_" + jobID + ".py"
}

// WriteSource persists source for jobID, creating directories on demand, and
// returns the file path.
func (inv *Invoker) WriteSource(jobID, source string) (string, error) {
	if err := validJobID(jobID); err != nil {
		return "", err
	}
	dir := inv.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("render: create job dir: %w", err)
	}
	path := filepath.Join(dir, SourceName(jobID))
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("render: write source: %w", err)
	}
	return path, nil
}

// Run invokes the render tool on a previously written source. Timeouts, non-zero
// exits, and output overflow are returned as *RenderError. Output is kept only as
// diagnostics.
func (inv *Invoker) Run(ctx context.Context, jobID string) (Result, error) {
	if err := validJobID(jobID); err != nil {
		return Result{}, err
	}
	dir := inv.JobDir(jobID)
	name := SourceName(jobID)
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		return Result{}, fmt.Errorf("render: source missing: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	out := &cappedBuffer{limit: inv.maxOutput}
	cmd := commandContext(runCtx, inv.binary, "-ql", "-a", name) //nolint:gosec
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	// manim spawns ffmpeg, which can hold the pipes open after a kill.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return Result{}, &RenderError{JobID: jobID, TimedOut: true, Output: out.String(), Err: runCtx.Err()}
	case out.Overflowed():
		return Result{}, &RenderError{JobID: jobID, Overflow: true, ExitCode: exitCode(err), Output: out.String(), Err: err}
	case err != nil:
		return Result{}, &RenderError{JobID: jobID, ExitCode: exitCode(err), Output: out.String(), Err: err}
	}

	return Result{
		Dir:        dir,
		SourcePath: filepath.Join(dir, name),
		Output:     out.String(),
		Duration:   elapsed,
	}, nil
}

func validJobID(jobID string) error {
	if jobID == "" || jobID != filepath.Base(jobID) || jobID == "." || jobID == ".." {
		return fmt.Errorf("render: invalid job id %q", jobID)
	}
	return nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

var errOutputLimit = errors.New("render: output limit exceeded")

// cappedBuffer keeps at most limit bytes and fails writes beyond that, which
// closes the pipe to the child.
type cappedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - int64(b.buf.Len())
	if int64(len(p)) > remaining {
		if remaining > 0 {
			b.buf.Write(p[:remaining])
		}
		b.overflow = true
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
