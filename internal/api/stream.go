package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"manim-studio/internal/render"
	"manim-studio/internal/store"
	"manim-studio/internal/telemetry"
)

type rangeKind int

const (
	rangeNone rangeKind = iota
	rangeSatisfiable
	rangeUnsatisfiable
)

// byteRange is an inclusive span of a file.
type byteRange struct {
	start, end int64
}

func (b byteRange) length() int64 {
	return b.end - b.start + 1
}

// parseRange interprets a single-range Range header against a file of size bytes.
// Headers it cannot parse yield rangeNone so the caller serves the whole file.
func parseRange(header string, size int64) (byteRange, rangeKind) {
	header = strings.TrimSpace(header)
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return byteRange{}, rangeNone
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return byteRange{}, rangeNone
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, rangeNone
		}
		if n == 0 || size == 0 {
			return byteRange{}, rangeUnsatisfiable
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1}, rangeSatisfiable
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, rangeNone
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return byteRange{}, rangeNone
		}
	}
	if start >= size {
		return byteRange{}, rangeUnsatisfiable
	}
	if end > size-1 {
		end = size - 1
	}
	return byteRange{start: start, end: end}, rangeSatisfiable
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		s.videoError(w, http.StatusNotFound, "Video not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load animation for video")
		s.videoError(w, http.StatusInternalServerError, "failed to load animation")
		return
	}
	if job.VideoPath == nil || *job.VideoPath == "" {
		s.videoError(w, http.StatusNotFound, "Video not found")
		return
	}

	f, err := os.Open(*job.VideoPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.videoError(w, http.StatusNotFound, "Video file not found")
			return
		}
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("open video")
		s.videoError(w, http.StatusInternalServerError, "failed to open video")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.videoError(w, http.StatusNotFound, "Video file not found")
		return
	}

	s.serveVideo(w, r, f, info.Size(), render.ContentType(*job.VideoPath))
}

// serveVideo writes the whole file or the requested span of it. Only the bytes
// being sent are read.
func (s *Server) serveVideo(w http.ResponseWriter, r *http.Request, f io.ReaderAt, size int64, contentType string) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)

	span, kind := parseRange(r.Header.Get("Range"), size)
	switch kind {
	case rangeUnsatisfiable:
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		s.videoError(w, http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable")
		return
	case rangeSatisfiable:
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", span.start, span.end, size))
		h.Set("Content-Length", strconv.FormatInt(span.length(), 10))
		w.WriteHeader(http.StatusPartialContent)
		telemetry.RangeRequests.WithLabelValues(strconv.Itoa(http.StatusPartialContent)).Inc()
		s.copyBody(w, io.NewSectionReader(f, span.start, span.length()))
	default:
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		telemetry.RangeRequests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
		s.copyBody(w, io.NewSectionReader(f, 0, size))
	}
}

func (s *Server) copyBody(w io.Writer, body io.Reader) {
	if _, err := io.Copy(w, body); err != nil {
		// Usually the player closing the connection mid-stream.
		s.log.Debug().Err(err).Msg("video stream interrupted")
	}
}

func (s *Server) videoError(w http.ResponseWriter, code int, message string) {
	telemetry.RangeRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	w.Header().Del("Content-Length")
	writeError(w, code, message)
}
