package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions may leave the status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one request to turn an ordered list of scenes into a rendered video.
type Job struct {
	ID            string    `json:"id"`
	Title         *string   `json:"title"`
	Status        JobStatus `json:"status"`
	ManimCode     *string   `json:"manimCode,omitempty"`
	ManimFilePath *string   `json:"manimFilePath,omitempty"`
	VideoPath     *string   `json:"videoPath,omitempty"`
	VideoURL      *string   `json:"videoUrl,omitempty"`
	ErrorMessage  *string   `json:"errorMessage,omitempty"`
	Scenes        []Scene   `json:"scenes"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Scene is one natural-language description owned by a job.
type Scene struct {
	ID         string `json:"id"`
	JobID      string `json:"animationId"`
	Content    string `json:"content"`
	OrderIndex int    `json:"orderIndex"`
}

// JobUpdate carries the columns a pipeline step wants to change. Nil fields are left untouched.
type JobUpdate struct {
	Status        *JobStatus
	ManimCode     *string
	ManimFilePath *string
	VideoPath     *string
	VideoURL      *string
	ErrorMessage  *string
}

// Empty reports whether the update would not change any column.
func (u JobUpdate) Empty() bool {
	return u.Status == nil && u.ManimCode == nil && u.ManimFilePath == nil &&
		u.VideoPath == nil && u.VideoURL == nil && u.ErrorMessage == nil
}

// Apply copies the non-nil fields of u onto job.
func (u JobUpdate) Apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.ManimCode != nil {
		job.ManimCode = u.ManimCode
	}
	if u.ManimFilePath != nil {
		job.ManimFilePath = u.ManimFilePath
	}
	if u.VideoPath != nil {
		job.VideoPath = u.VideoPath
	}
	if u.VideoURL != nil {
		job.VideoURL = u.VideoURL
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = u.ErrorMessage
	}
}

// StatusPtr is a convenience for building updates.
func StatusPtr(s JobStatus) *JobStatus {
	return &s
}

// StringPtr is a convenience for building updates.
func StringPtr(s string) *string {
	return &s
}
