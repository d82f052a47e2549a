package render

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

const (
	// QualityTag is the directory manim writes low quality (-ql) renders to.
	QualityTag = "480p15"
	// VideoExt is the container manim produces by default.
	VideoExt = ".mp4"
)

// Locate checks <root>/media/videos/<subdir>/480p15/<name>.mp4 for each subdir in
// lexical order and returns the first regular file found. A missing tree is not an
// error; ok is false.
func Locate(root, name string) (string, bool, error) {
	videos := filepath.Join(root, "media", "videos")
	entries, err := os.ReadDir(videos)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", videos, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(videos, entry.Name(), QualityTag, name+VideoExt)
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", false, fmt.Errorf("stat %s: %w", candidate, err)
		}
		if info.Mode().IsRegular() {
			return candidate, true, nil
		}
	}
	return "", false, nil
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".gif":  "image/gif",
	".png":  "image/png",
}

// ContentType maps an artifact file name to its media type.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
