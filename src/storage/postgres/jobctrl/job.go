package jobctrl

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ocrqueue/src/core/job"
)

// jobRecord is the persisted shape of a job. All timestamps are milliseconds
// since epoch.
type jobRecord struct {
	JobID               string `gorm:"primaryKey;column:job_id"`
	Status              string `gorm:"not null;index"`
	InputKey            string `gorm:"not null;column:input_s3_key"`
	ResultKey           string `gorm:"not null;column:result_s3_key"`
	OriginalFilename    string
	ContentType         string
	WorkerID            string
	CreatedAt           int64 `gorm:"autoCreateTime:milli"`
	UpdatedAt           int64 `gorm:"autoUpdateTime:milli"`
	ProcessingStartedAt int64
	DurationMS          int64 `gorm:"column:duration_ms"`
	ErrorMessage        string
}

func (jobRecord) TableName() string {
	return "jobs"
}

// JobStore implements job.RecordStore on PostgreSQL. Conditional transitions
// are single-row UPDATEs guarded by a status predicate; RowsAffected carries
// the race outcome. The database requires gorm's TranslateError so duplicate
// inserts surface as gorm.ErrDuplicatedKey.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) (*JobStore, error) {
	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate jobs table: %w", err)
	}
	return &JobStore{db: db}, nil
}

func (s *JobStore) Insert(ctx context.Context, j *job.Job) error {
	rec := fromDomain(j)

	result := s.db.WithContext(ctx).Create(rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return job.ErrJobExists
		}
		return fmt.Errorf("insert job: %w", result.Error)
	}

	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*job.Job, error) {
	var rec jobRecord

	result := s.db.WithContext(ctx).First(&rec, "job_id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", result.Error)
	}

	return rec.toDomain(), nil
}

func (s *JobStore) Claim(ctx context.Context, jobID, workerID string, startedAt int64) error {
	result := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("job_id = ? AND status = ?", jobID, string(job.StatusQueued)).
		Updates(map[string]interface{}{
			"status":                string(job.StatusProcessing),
			"worker_id":             workerID,
			"processing_started_at": startedAt,
			"updated_at":            startedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("claim job: %w", result.Error)
	}
	// A missing record and a lost race are indistinguishable here; both mean
	// this worker must not proceed.
	if result.RowsAffected == 0 {
		return job.ErrNotQueued
	}

	return nil
}

func (s *JobStore) MarkDone(ctx context.Context, jobID string, durationMS int64) error {
	return s.update(ctx, jobID, map[string]interface{}{
		"status":        string(job.StatusDone),
		"duration_ms":   durationMS,
		"error_message": "",
		"updated_at":    job.NowMS(),
	})
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	return s.update(ctx, jobID, map[string]interface{}{
		"status":        string(job.StatusFailed),
		"error_message": errorMessage,
		"updated_at":    job.NowMS(),
	})
}

func (s *JobStore) update(ctx context.Context, jobID string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("job_id = ?", jobID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return job.ErrJobNotFound
	}

	return nil
}

func fromDomain(j *job.Job) *jobRecord {
	return &jobRecord{
		JobID:               j.JobID,
		Status:              string(j.Status),
		InputKey:            j.InputKey,
		ResultKey:           j.ResultKey,
		OriginalFilename:    j.OriginalFilename,
		ContentType:         j.ContentType,
		WorkerID:            j.WorkerID,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
		ProcessingStartedAt: j.ProcessingStartedAt,
		DurationMS:          j.DurationMS,
		ErrorMessage:        j.ErrorMessage,
	}
}

func (r *jobRecord) toDomain() *job.Job {
	return &job.Job{
		JobID:               r.JobID,
		Status:              job.Status(r.Status),
		InputKey:            r.InputKey,
		ResultKey:           r.ResultKey,
		OriginalFilename:    r.OriginalFilename,
		ContentType:         r.ContentType,
		WorkerID:            r.WorkerID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		ProcessingStartedAt: r.ProcessingStartedAt,
		DurationMS:          r.DurationMS,
		ErrorMessage:        r.ErrorMessage,
	}
}
