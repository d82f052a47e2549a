package janitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"manim-studio/internal/models"
	"manim-studio/internal/store"
)

// JobLookup resolves the job that owns a working directory.
type JobLookup interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
}

// Result summarizes one sweep.
type Result struct {
	Removed int
	Skipped int
}

// Janitor removes per-job working directories once they age past the retention
// period. Directories of jobs that are still pending or processing are kept.
// Job records are never touched.
type Janitor struct {
	root      string
	retention time.Duration
	jobs      JobLookup
	log       zerolog.Logger
	now       func() time.Time
}

func New(root string, retention time.Duration, jobs JobLookup, log zerolog.Logger) *Janitor {
	return &Janitor{
		root:      root,
		retention: retention,
		jobs:      jobs,
		log:       log.With().Str("component", "janitor").Logger(),
		now:       time.Now,
	}
}

// Sweep makes one pass over the working directory.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	var res Result
	entries, err := os.ReadDir(j.root)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read work dir: %w", err)
	}

	cutoff := j.now().Add(-j.retention)
	for _, e := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		// Loose files such as the shared media tree of older layouts are left alone.
		if !e.IsDir() || e.Name() == "media" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			res.Skipped++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if !j.removable(ctx, e.Name()) {
			res.Skipped++
			continue
		}
		dir := filepath.Join(j.root, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			j.log.Warn().Err(err).Str("dir", dir).Msg("remove job dir")
			res.Skipped++
			continue
		}
		j.log.Info().Str("job_id", e.Name()).Time("modified", info.ModTime()).Msg("removed job dir")
		res.Removed++
	}
	return res, nil
}

func (j *Janitor) removable(ctx context.Context, jobID string) bool {
	if j.jobs == nil {
		return true
	}
	job, err := j.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		j.log.Warn().Err(err).Str("job_id", jobID).Msg("lookup job")
		return false
	}
	return job.Status.Terminal()
}

// Run sweeps every interval until ctx is done. A zero interval sweeps once.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) error {
	for {
		res, err := j.Sweep(ctx)
		if err != nil {
			return err
		}
		j.log.Info().Int("removed", res.Removed).Int("skipped", res.Skipped).Msg("sweep finished")
		if interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
