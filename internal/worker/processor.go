package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"manim-studio/internal/codegen"
	"manim-studio/internal/lease"
	"manim-studio/internal/models"
	"manim-studio/internal/render"
	"manim-studio/internal/store"
	"manim-studio/internal/telemetry"
)

const maxErrorMessage = 2000

var (
	// ErrAlreadyRunning is returned when another run holds the job.
	ErrAlreadyRunning = errors.New("worker: job is already being processed")
	// ErrNotPending is returned when a run is requested for a job that already left pending.
	ErrNotPending = errors.New("worker: job is not pending")
)

// ValidationError rejects a create request before anything is persisted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// JobStore persists jobs. Updates touch only the provided columns of one row.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) error
	ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error)
}

// Generator turns a prompt into raw model output.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Renderer writes generated source and runs the render tool over it.
type Renderer interface {
	WriteSource(jobID, source string) (string, error)
	Run(ctx context.Context, jobID string) (render.Result, error)
}

// Mirror copies a finished artifact somewhere addressable by URL.
type Mirror interface {
	Upload(ctx context.Context, jobID, localPath string) (string, error)
}

// RunLease guards a job across processes.
type RunLease interface {
	Acquire(ctx context.Context, jobID string) (bool, error)
	Extend(ctx context.Context, jobID string) (bool, error)
	Release(ctx context.Context, jobID string) error
	Held(ctx context.Context, jobID string) (bool, error)
	TTL() time.Duration
}

// Option configures optional collaborators.
type Option func(*Processor)

// WithLease backs the in-process claim set with a shared lease.
func WithLease(l RunLease) Option {
	return func(p *Processor) { p.lease = l }
}

// WithMirror uploads completed artifacts.
func WithMirror(m Mirror) Option {
	return func(p *Processor) { p.mirror = m }
}

// Processor drives each job from pending to a terminal state.
type Processor struct {
	store    JobStore
	gen      Generator
	renderer Renderer
	mirror   Mirror
	lease    RunLease
	claims   *lease.Claims
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewProcessor(st JobStore, gen Generator, renderer Renderer, log zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:    st,
		gen:      gen,
		renderer: renderer,
		claims:   lease.NewClaims(),
		log:      log.With().Str("component", "processor").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create validates and persists a job, then starts its run in the background. The
// run outlives ctx; its errors are recorded on the job, never returned here.
func (p *Processor) Create(ctx context.Context, title *string, scenes []string) (models.Job, error) {
	if len(scenes) == 0 {
		return models.Job{}, &ValidationError{Message: "at least one scene is required"}
	}
	cleaned := make([]string, len(scenes))
	for i, s := range scenes {
		s = strings.TrimSpace(s)
		if s == "" {
			return models.Job{}, &ValidationError{Message: fmt.Sprintf("scene %d is empty", i+1)}
		}
		cleaned[i] = s
	}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			title = nil
		} else {
			title = &t
		}
	}

	job, err := p.store.CreateJob(ctx, store.CreateJobParams{Title: title, Scenes: cleaned})
	if err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	telemetry.JobsCreated.Inc()
	p.log.Info().Str("job_id", job.ID).Int("scenes", len(cleaned)).Msg("job created")

	p.Start(context.WithoutCancel(ctx), job.ID)
	return job, nil
}

// Start launches Run in a tracked goroutine.
func (p *Processor) Start(ctx context.Context, jobID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.Run(ctx, jobID)
		if errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrNotPending) {
			p.log.Warn().Err(err).Str("job_id", jobID).Msg("run not started")
		}
	}()
}

// Wait blocks until every started run returns or ctx is done.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the pipeline for one pending job. It returns an error only when the
// run could not start; pipeline failures are recorded on the job as failed.
func (p *Processor) Run(ctx context.Context, jobID string) error {
	if !p.claims.Claim(jobID) {
		return ErrAlreadyRunning
	}
	defer p.claims.Release(jobID)

	if p.lease != nil {
		ok, err := p.lease.Acquire(ctx, jobID)
		if err != nil {
			return p.startFailed(jobID, fmt.Errorf("acquire lease: %w", err))
		}
		if !ok {
			return ErrAlreadyRunning
		}
		stop := p.keepAlive(ctx, jobID)
		defer func() {
			stop()
			if err := p.lease.Release(context.WithoutCancel(ctx), jobID); err != nil {
				p.log.Warn().Err(err).Str("job_id", jobID).Msg("release lease")
			}
		}()
	}

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return p.startFailed(jobID, fmt.Errorf("load job: %w", err))
	}
	if job.Status != models.StatusPending {
		return ErrNotPending
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	log := p.log.With().Str("job_id", jobID).Logger()
	stage := "start"
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, log, jobID, stage, fmt.Errorf("panic during %s: %v", stage, r))
		}
	}()

	if err := p.store.UpdateJob(ctx, jobID, models.JobUpdate{Status: models.StatusPtr(models.StatusProcessing)}); err != nil {
		p.fail(ctx, log, jobID, stage, fmt.Errorf("mark processing: %w", err))
		return nil
	}
	log.Info().Msg("processing started")

	videoPath, videoURL, err := p.pipeline(ctx, log, job, &stage)
	if err != nil {
		p.fail(ctx, log, jobID, stage, err)
		return nil
	}

	stage = "complete"
	update := models.JobUpdate{
		Status:    models.StatusPtr(models.StatusCompleted),
		VideoPath: &videoPath,
	}
	if videoURL != "" {
		update.VideoURL = &videoURL
	}
	if err := p.store.UpdateJob(ctx, jobID, update); err != nil {
		p.fail(ctx, log, jobID, stage, fmt.Errorf("mark completed: %w", err))
		return nil
	}
	telemetry.JobsCompleted.Inc()
	log.Info().Str("video_path", videoPath).Msg("job completed")
	return nil
}

// pipeline runs the stages in order and returns the located artifact. stage is
// kept current so the caller can attribute a failure or panic.
func (p *Processor) pipeline(ctx context.Context, log zerolog.Logger, job models.Job, stage *string) (string, string, error) {
	*stage = "prompt"
	prompt, err := codegen.BuildPrompt(job.Scenes)
	if err != nil {
		return "", "", err
	}

	*stage = "codegen"
	var raw string
	err = timed(*stage, func() error {
		var err error
		raw, err = p.gen.Complete(ctx, prompt)
		return err
	})
	if err != nil {
		return "", "", err
	}

	*stage = "sanitize"
	code, err := codegen.Sanitize(raw)
	if err != nil {
		return "", "", err
	}
	if err := p.store.UpdateJob(ctx, job.ID, models.JobUpdate{ManimCode: &code}); err != nil {
		return "", "", fmt.Errorf("save generated code: %w", err)
	}
	log.Debug().Int("code_bytes", len(code)).Msg("code generated")

	*stage = "write"
	sourcePath, err := p.renderer.WriteSource(job.ID, code)
	if err != nil {
		return "", "", err
	}
	if err := p.store.UpdateJob(ctx, job.ID, models.JobUpdate{ManimFilePath: &sourcePath}); err != nil {
		return "", "", fmt.Errorf("save source path: %w", err)
	}

	*stage = "render"
	var res render.Result
	err = timed(*stage, func() error {
		var err error
		res, err = p.renderer.Run(ctx, job.ID)
		return err
	})
	if err != nil {
		return "", "", err
	}
	log.Debug().Dur("render_duration", res.Duration).Msg("render finished")

	*stage = "locate"
	videoPath, ok, err := render.Locate(res.Dir, codegen.SceneClass)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", &render.ArtifactNotFoundError{Root: res.Dir, Name: codegen.SceneClass}
	}

	var videoURL string
	if p.mirror != nil {
		*stage = "mirror"
		err := timed(*stage, func() error {
			var err error
			videoURL, err = p.mirror.Upload(ctx, job.ID, videoPath)
			return err
		})
		if err != nil {
			telemetry.MirrorFailures.Inc()
			log.Warn().Err(err).Msg("artifact mirror failed")
			videoURL = ""
		}
	}
	return videoPath, videoURL, nil
}

// startFailed reports a run that could not begin. The job stays pending until
// RecoverInterrupted fails it on the next start.
func (p *Processor) startFailed(jobID string, err error) error {
	telemetry.JobsFailed.WithLabelValues("start").Inc()
	p.log.Error().Err(err).Str("job_id", jobID).Msg("run could not start; job left pending")
	return err
}

func (p *Processor) fail(ctx context.Context, log zerolog.Logger, jobID, stage string, cause error) {
	msg := truncate(cause.Error(), maxErrorMessage)
	telemetry.JobsFailed.WithLabelValues(stage).Inc()
	log.Error().Err(cause).Str("stage", stage).Msg("job failed")

	err := p.store.UpdateJob(context.WithoutCancel(ctx), jobID, models.JobUpdate{
		Status:       models.StatusPtr(models.StatusFailed),
		ErrorMessage: &msg,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to record job failure")
	}
}

// keepAlive extends the lease until the returned stop func is called.
func (p *Processor) keepAlive(ctx context.Context, jobID string) func() {
	interval := p.lease.TTL() / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if ok, err := p.lease.Extend(ctx, jobID); err != nil || !ok {
					p.log.Warn().Err(err).Str("job_id", jobID).Bool("held", ok).Msg("extend lease")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// RecoverInterrupted fails jobs left pending or processing by a previous process.
// Jobs running here or leased by another process are left alone.
func (p *Processor) RecoverInterrupted(ctx context.Context) (int, error) {
	jobs, err := p.store.ListJobsByStatus(ctx, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}
	recovered := 0
	for _, job := range jobs {
		if p.claims.Held(job.ID) {
			continue
		}
		if p.lease != nil {
			held, err := p.lease.Held(ctx, job.ID)
			if err != nil {
				return recovered, err
			}
			if held {
				continue
			}
		}
		msg := "interrupted before completion"
		err := p.store.UpdateJob(ctx, job.ID, models.JobUpdate{
			Status:       models.StatusPtr(models.StatusFailed),
			ErrorMessage: &msg,
		})
		if errors.Is(err, store.ErrTerminal) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		telemetry.JobsFailed.WithLabelValues("interrupted").Inc()
		p.log.Warn().Str("job_id", job.ID).Str("previous_status", string(job.Status)).Msg("marked interrupted job failed")
		recovered++
	}
	return recovered, nil
}

func timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	telemetry.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
