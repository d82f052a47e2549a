package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func stubRenderCommand(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string{name}, args...)
		}
		module := strings.TrimSuffix(args[len(args)-1], ".py")
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("RENDER_HELPER_MODE=%s", mode),
			fmt.Sprintf("RENDER_HELPER_MODULE=%s", module),
		)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func render(t *testing.T, inv *Invoker, jobID, source string) (Result, error) {
	t.Helper()
	if _, err := inv.WriteSource(jobID, source); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return inv.Run(context.Background(), jobID)
}

func TestInvokerRunWithoutSource(t *testing.T) {
	inv, _ := NewInvoker(t.TempDir())
	if _, err := inv.Run(context.Background(), "never-written"); err == nil {
		t.Fatalf("expected error when source is missing")
	}
}

func TestInvokerRenderSuccess(t *testing.T) {
	var args []string
	stubRenderCommand(t, "success", &args)

	inv, err := NewInvoker(t.TempDir(), WithBinary("manim-test"))
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	res, err := render(t, inv, "job-1", "from manim import *\n")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	wantArgs := []string{"manim-test", "-ql", "-a", "animation_job-1.py"}
	if strings.Join(args, " ") != strings.Join(wantArgs, " ") {
		t.Fatalf("expected args %v, got %v", wantArgs, args)
	}
	if res.SourcePath != filepath.Join(inv.WorkDir(), "job-1", "animation_job-1.py") {
		t.Fatalf("unexpected source path %s", res.SourcePath)
	}
	src, err := os.ReadFile(res.SourcePath)
	if err != nil || string(src) != "from manim import *\n" {
		t.Fatalf("source not persisted: %q %v", src, err)
	}
	if !strings.Contains(res.Output, "File ready") {
		t.Fatalf("expected captured output, got %q", res.Output)
	}

	path, ok, err := Locate(res.Dir, "Scene1")
	if err != nil || !ok {
		t.Fatalf("expected artifact to be located, ok=%v err=%v", ok, err)
	}
	if filepath.Base(path) != "Scene1.mp4" {
		t.Fatalf("unexpected artifact %s", path)
	}
}

func TestInvokerRenderNonZeroExit(t *testing.T) {
	stubRenderCommand(t, "failure", nil)

	inv, _ := NewInvoker(t.TempDir())
	_, err := render(t, inv, "job-2", "from manim import *\n")
	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if rerr.ExitCode != 2 || rerr.TimedOut {
		t.Fatalf("unexpected render error %+v", rerr)
	}
	if !strings.Contains(rerr.Output, "NameError") || !strings.Contains(err.Error(), "NameError") {
		t.Fatalf("expected diagnostics in error, got %q", err.Error())
	}
}

func TestInvokerRenderTimeout(t *testing.T) {
	stubRenderCommand(t, "hang", nil)

	inv, _ := NewInvoker(t.TempDir(), WithTimeout(200*time.Millisecond))
	start := time.Now()
	_, err := render(t, inv, "job-3", "from manim import *\n")
	var rerr *RenderError
	if !errors.As(err, &rerr) || !rerr.TimedOut {
		t.Fatalf("expected timeout RenderError, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("timeout was not enforced")
	}
}

func TestInvokerRenderOutputLimit(t *testing.T) {
	stubRenderCommand(t, "flood", nil)

	inv, _ := NewInvoker(t.TempDir(), WithMaxOutput(1024))
	_, err := render(t, inv, "job-4", "from manim import *\n")
	var rerr *RenderError
	if !errors.As(err, &rerr) || !rerr.Overflow {
		t.Fatalf("expected overflow RenderError, got %v", err)
	}
	if len(rerr.Output) > 1024 {
		t.Fatalf("captured output exceeds limit: %d", len(rerr.Output))
	}
}

func TestInvokerRejectsUnsafeJobID(t *testing.T) {
	inv, _ := NewInvoker(t.TempDir())
	for _, id := range []string{"", "..", "../escape", "a/b"} {
		if _, err := inv.WriteSource(id, "x"); err == nil {
			t.Fatalf("expected error for job id %q", id)
		}
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("RENDER_HELPER_MODE") {
	case "success":
		dir := filepath.Join("media", "videos", os.Getenv("RENDER_HELPER_MODULE"), QualityTag)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := os.WriteFile(filepath.Join(dir, "Scene1.mp4"), []byte("video"), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("File ready at Scene1.mp4")
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "NameError: name 'Circel' is not defined")
		os.Exit(2)
	case "hang":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "flood":
		line := strings.Repeat("x", 256)
		for i := 0; i < 10000; i++ {
			if _, err := fmt.Println(line); err != nil {
				os.Exit(3)
			}
		}
		os.Exit(0)
	default:
		os.Exit(0)
	}
}
