package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a job. A job starts as QUEUED, is moved to
// PROCESSING by exactly one worker, and ends as DONE or FAILED. DONE and
// FAILED are terminal.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")

	// ErrNotQueued is the condition-failed signal from Claim: the record is no
	// longer QUEUED, typically because another worker won the race or the job
	// already finished.
	ErrNotQueued = errors.New("job is not queued")
)

// Job is the coordination record for a single unit of work. Timestamps are
// milliseconds since epoch.
type Job struct {
	JobID               string `json:"job_id"`
	Status              Status `json:"status"`
	InputKey            string `json:"input_s3_key"`
	ResultKey           string `json:"result_s3_key"`
	OriginalFilename    string `json:"original_filename"`
	ContentType         string `json:"content_type"`
	WorkerID            string `json:"worker_id,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	UpdatedAt           int64  `json:"updated_at"`
	ProcessingStartedAt int64  `json:"processing_started_at,omitempty"`
	DurationMS          int64  `json:"duration_ms,omitempty"`
	ErrorMessage        string `json:"error_message,omitempty"`
}

// RecordStore persists job records with single-row conditional transitions.
// The conditional semantics of Insert and Claim are the coordination
// authority; callers never pre-check and must treat the returned sentinels as
// the outcome of the race.
type RecordStore interface {
	// Insert creates the record only if no record exists for the job id.
	// Returns ErrJobExists without mutating the existing record otherwise.
	Insert(ctx context.Context, j *Job) error

	// Get returns the current record or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Claim transitions QUEUED -> PROCESSING, stamping worker_id and
	// processing_started_at, conditioned on the stored status being QUEUED.
	// Returns ErrNotQueued when the condition does not hold (a missing record
	// surfaces the same way) and a plain error on infrastructure failure.
	Claim(ctx context.Context, jobID, workerID string, startedAt int64) error

	// MarkDone transitions to DONE unconditionally, stamping duration_ms and
	// clearing error_message. Only the claim holder may call it.
	MarkDone(ctx context.Context, jobID string, durationMS int64) error

	// MarkFailed transitions to FAILED unconditionally, stamping
	// error_message. Only the claim holder (or the submitter, for enqueue
	// failures) may call it.
	MarkFailed(ctx context.Context, jobID, errorMessage string) error
}

// ObjectStore is the durable blob storage for job inputs and results.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	DownloadToFile(ctx context.Context, bucket, key, path string) error
	Remove(ctx context.Context, bucket, key string) error
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// ClaimMessage is the queue message body carrying a job-claim event.
type ClaimMessage struct {
	JobID     string `json:"job_id"`
	Bucket    string `json:"bucket"`
	InputKey  string `json:"input_key"`
	ResultKey string `json:"result_key"`
	CreatedAt int64  `json:"created_at"`
}

// NowMS returns the current wall clock in milliseconds since epoch.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

// InputKeyFor derives the input blob key for a job. Keys are deterministic
// from the job id so that a claim message and the record always agree.
func InputKeyFor(jobID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s", jobID, SanitizeFilename(filename))
}

// ResultKeyFor derives the result blob key for a job. The result object at
// this key is the idempotency anchor: its existence proves the job completed.
func ResultKeyFor(jobID string) string {
	return fmt.Sprintf("results/%s/result.json", jobID)
}

// SanitizeFilename strips path separators from a client-supplied filename so
// it forms a single key segment.
func SanitizeFilename(name string) string {
	if name == "" {
		return "upload"
	}
	return strings.ReplaceAll(name, "/", "_")
}
