package render

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLocateMissingTree(t *testing.T) {
	path, ok, err := Locate(t.TempDir(), "Scene1")
	if err != nil || ok || path != "" {
		t.Fatalf("expected not found without error, got path=%q ok=%v err=%v", path, ok, err)
	}
}

func TestLocateFirstMatchAcrossSubdirs(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "media", "videos")
	touch(t, filepath.Join(videos, "a_module", "1080p60", "Scene1.mp4"))
	touch(t, filepath.Join(videos, "b_module", QualityTag, "Scene1.mp4"))
	touch(t, filepath.Join(videos, "c_module", QualityTag, "Scene1.mp4"))

	path, ok, err := Locate(root, "Scene1")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	want := filepath.Join(videos, "b_module", QualityTag, "Scene1.mp4")
	if path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
}

func TestLocateIgnoresOtherNamesAndDirectories(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "media", "videos")
	touch(t, filepath.Join(videos, "mod", QualityTag, "Scene2.mp4"))
	touch(t, filepath.Join(videos, "stray.txt"))
	if err := os.MkdirAll(filepath.Join(videos, "dir", QualityTag, "Scene1.mp4"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, ok, err := Locate(root, "Scene1"); ok || err != nil {
		t.Fatalf("expected no match, ok=%v err=%v", ok, err)
	}
}

func TestLocateDoesNotMutate(t *testing.T) {
	root := t.TempDir()
	if _, _, err := Locate(root, "Scene1"); err != nil {
		t.Fatalf("locate: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("locate created entries: %v", entries)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"Scene1.mp4": "video/mp4",
		"clip.MOV":   "video/quicktime",
		"noext":      "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentType(name); got != want {
			t.Fatalf("%s: expected %s, got %s", name, want, got)
		}
	}
}
