package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"manim-studio/internal/models"
)

var (
	// ErrNotFound is returned when no job has the requested id.
	ErrNotFound = errors.New("store: job not found")
	// ErrTerminal is returned when an update targets a job that already completed or failed.
	ErrTerminal = errors.New("store: job already in a terminal state")
)

// Store wraps pgxpool for Postgres persistence of jobs and their scenes.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, log: log.With().Str("component", "store").Logger()}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	Title  *string
	Scenes []string
}

// CreateJob inserts a pending job and its scenes in one transaction. Scene order
// follows the slice order.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if len(p.Scenes) == 0 {
		return models.Job{}, errors.New("create job: at least one scene is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO animations (id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, id, p.Title, string(models.StatusPending), now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	scenes := make([]models.Scene, 0, len(p.Scenes))
	for i, content := range p.Scenes {
		scene := models.Scene{ID: uuid.New().String(), JobID: id, Content: content, OrderIndex: i}
		if _, err := tx.Exec(ctx, `
			INSERT INTO scenes (id, animation_id, content, order_index)
			VALUES ($1, $2, $3, $4)
		`, scene.ID, scene.JobID, scene.Content, scene.OrderIndex); err != nil {
			return models.Job{}, fmt.Errorf("insert scene %d: %w", i, err)
		}
		scenes = append(scenes, scene)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:        id,
		Title:     p.Title,
		Status:    models.StatusPending,
		Scenes:    scenes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const jobColumns = `id, title, status, manim_code, manim_file_path, video_path, video_url, error_message, created_at, updated_at`

// GetJob fetches a job and its scenes ordered by order index.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM animations WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	scenes, err := s.scenesFor(ctx, []string{id})
	if err != nil {
		return models.Job{}, err
	}
	job.Scenes = scenes[id]
	if job.Scenes == nil {
		job.Scenes = []models.Scene{}
	}
	return job, nil
}

// ListJobs returns every job newest first, scenes included.
func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	return s.listWhere(ctx, "", nil)
}

// ListJobsByStatus returns jobs in any of the given states, newest first.
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error) {
	if len(statuses) == 0 {
		return []models.Job{}, nil
	}
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	return s.listWhere(ctx, "WHERE status = ANY($1)", []any{values})
}

func (s *Store) listWhere(ctx context.Context, where string, args []any) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM animations `+where+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	ids := []string{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	if len(ids) == 0 {
		return jobs, nil
	}

	scenes, err := s.scenesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].Scenes = scenes[jobs[i].ID]
		if jobs[i].Scenes == nil {
			jobs[i].Scenes = []models.Scene{}
		}
	}
	return jobs, nil
}

func (s *Store) scenesFor(ctx context.Context, jobIDs []string) (map[string][]models.Scene, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, animation_id, content, order_index
		FROM scenes WHERE animation_id = ANY($1)
		ORDER BY animation_id, order_index
	`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Scene, len(jobIDs))
	for rows.Next() {
		var sc models.Scene
		if err := rows.Scan(&sc.ID, &sc.JobID, &sc.Content, &sc.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		out[sc.JobID] = append(out[sc.JobID], sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenes: %w", err)
	}
	return out, nil
}

// UpdateJob writes only the non-nil columns of u plus updated_at. Jobs already in a
// terminal state are never modified; ErrTerminal is returned instead.
func (s *Store) UpdateJob(ctx context.Context, id string, u models.JobUpdate) error {
	if u.Empty() {
		return nil
	}
	sql, args := buildUpdate(id, u)
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status models.JobStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM animations WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check job %s: %w", id, err)
	}
	return ErrTerminal
}

// buildUpdate renders the UPDATE statement for the columns set in u.
func buildUpdate(id string, u models.JobUpdate) (string, []any) {
	var sets []string
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.ManimCode != nil {
		add("manim_code", *u.ManimCode)
	}
	if u.ManimFilePath != nil {
		add("manim_file_path", *u.ManimFilePath)
	}
	if u.VideoPath != nil {
		add("video_path", *u.VideoPath)
	}
	if u.VideoURL != nil {
		add("video_url", *u.VideoURL)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	sets = append(sets, "updated_at = NOW()")

	sql := fmt.Sprintf(
		`UPDATE animations SET %s WHERE id = $1 AND status NOT IN ('%s', '%s')`,
		strings.Join(sets, ", "), models.StatusCompleted, models.StatusFailed,
	)
	return sql, args
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var title, code, filePath, videoPath, videoURL, errMsg pgtype.Text
	var status string
	if err := row.Scan(&job.ID, &title, &status, &code, &filePath, &videoPath, &videoURL, &errMsg, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	job.Status = models.JobStatus(status)
	job.Title = textPtr(title)
	job.ManimCode = textPtr(code)
	job.ManimFilePath = textPtr(filePath)
	job.VideoPath = textPtr(videoPath)
	job.VideoURL = textPtr(videoURL)
	job.ErrorMessage = textPtr(errMsg)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
