package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"manim-studio/internal/models"
	"manim-studio/internal/store"
	"manim-studio/internal/worker"
)

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]models.Job
	err  error
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Job{}, f.err
	}
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) ListJobs(_ context.Context) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	// newest first
	for i := 1; i < len(out); i++ {
		for k := i; k > 0 && out[k].CreatedAt.After(out[k-1].CreatedAt); k-- {
			out[k], out[k-1] = out[k-1], out[k]
		}
	}
	return out, nil
}

type fakeCreator struct {
	calls  int
	title  *string
	scenes []string
}

func (c *fakeCreator) Create(_ context.Context, title *string, scenes []string) (models.Job, error) {
	c.calls++
	c.title, c.scenes = title, scenes
	if len(scenes) == 0 {
		return models.Job{}, &worker.ValidationError{Message: "at least one scene is required"}
	}
	job := models.Job{ID: "new", Title: title, Status: models.StatusPending}
	for i, s := range scenes {
		job.Scenes = append(job.Scenes, models.Scene{ID: s, JobID: "new", Content: s, OrderIndex: i})
	}
	return job, nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, float64, error) {
	l.keys = append(l.keys, key)
	return l.allow, 0, l.err
}

func newTestServer(t *testing.T, jobs ...models.Job) http.Handler {
	t.Helper()
	fj := &fakeJobs{jobs: map[string]models.Job{}}
	for _, j := range jobs {
		fj.jobs[j.ID] = j
	}
	return New(fj, &fakeCreator{}, zerolog.Nop()).Router()
}

func postJSON(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/animations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAnimation(t *testing.T) {
	creator := &fakeCreator{}
	h := New(&fakeJobs{}, creator, zerolog.Nop()).Router()

	rec := postJSON(h, `{"title":"Shapes","scenes":["Draw a circle","Transform it into a square"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var job map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job["status"] != "pending" || job["title"] != "Shapes" {
		t.Fatalf("unexpected job %v", job)
	}
	scenes, _ := job["scenes"].([]any)
	if len(scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %v", job["scenes"])
	}
	first, _ := scenes[0].(map[string]any)
	if first["orderIndex"] != float64(0) || first["animationId"] != "new" {
		t.Fatalf("expected camelCase scene fields, got %v", first)
	}
	if creator.scenes[1] != "Transform it into a square" {
		t.Fatalf("scenes not forwarded in order: %v", creator.scenes)
	}
}

func TestCreateAnimationBadRequests(t *testing.T) {
	creator := &fakeCreator{}
	h := New(&fakeJobs{}, creator, zerolog.Nop()).Router()

	for _, body := range []string{`not json`, `{"scenes":[]}`, `{}`} {
		rec := postJSON(h, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		var msg map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil || msg["message"] == "" {
			t.Fatalf("body %q: expected json message, got %s", body, rec.Body.String())
		}
	}
	if creator.calls != 2 {
		t.Fatalf("invalid json must not reach the creator, calls=%d", creator.calls)
	}
}

func TestCreateAnimationRateLimited(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	creator := &fakeCreator{}
	h := New(&fakeJobs{}, creator, zerolog.Nop(), WithLimiter(limiter)).Router()

	rec := postJSON(h, `{"scenes":["Draw a circle"]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if creator.calls != 0 {
		t.Fatalf("rate limited request must not create a job")
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "203.0.113.7" {
		t.Fatalf("expected limiter keyed by client ip, got %v", limiter.keys)
	}

	limiter.allow = true
	if rec := postJSON(h, `{"scenes":["Draw a circle"]}`); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 once allowed, got %d", rec.Code)
	}

	limiter.err = errors.New("redis down")
	if rec := postJSON(h, `{"scenes":["Draw a circle"]}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on limiter error, got %d", rec.Code)
	}
}

func TestGetAndListAnimations(t *testing.T) {
	now := time.Now()
	video := "/videos/b/Scene1.mp4"
	h := newTestServer(t,
		models.Job{ID: "a", Status: models.StatusFailed, ErrorMessage: models.StringPtr("render exit code 1"), CreatedAt: now.Add(-time.Minute)},
		models.Job{ID: "b", Status: models.StatusCompleted, VideoPath: &video, CreatedAt: now},
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/animations/a", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"errorMessage":"render exit code 1"`) {
		t.Fatalf("unexpected get response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/animations/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/animations", nil))
	var jobs []models.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "b" || jobs[1].ID != "a" {
		t.Fatalf("expected newest first, got %+v", jobs)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"videoPath":"/videos/b/Scene1.mp4"`)) {
		t.Fatalf("expected camelCase videoPath in %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	healthy := New(&fakeJobs{}, &fakeCreator{}, zerolog.Nop()).Router()
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := New(&fakeJobs{}, &fakeCreator{}, zerolog.Nop(), WithHealthCheck(func(context.Context) error {
		return errors.New("db down")
	})).Router()
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := New(&fakeJobs{}, &fakeCreator{}, zerolog.Nop(), WithAllowedOrigin("http://localhost:3000")).Router()
	req := httptest.NewRequest(http.MethodOptions, "/animations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("missing CORS header: %v", rec.Header())
	}
}
