package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"ocrqueue/src/log"
)

// Config carries the externally configured policy and wiring values for the
// submission and status services.
type Config struct {
	// Bucket holds both input and result objects.
	Bucket string

	// Topic is the queue topic claim messages are published to.
	Topic string

	// MaxUploadBytes is the submission size ceiling. Zero disables the check.
	MaxUploadBytes int64

	// AllowedTypes are the accepted MIME types, matched against the sniffed
	// content of the upload, not the client-declared header.
	AllowedTypes []string

	// PresignExpiry is the validity window of result download URLs.
	PresignExpiry time.Duration
}

// SubmitRequest is one upload to turn into a job.
type SubmitRequest struct {
	Filename string
	Data     []byte
}

// StatusView is the read model returned to status callers.
type StatusView struct {
	JobID             string `json:"job_id"`
	Status            Status `json:"status"`
	InputKey          string `json:"input_s3_key"`
	ResultKey         string `json:"result_s3_key"`
	ErrorMessage      string `json:"error_message,omitempty"`
	UpdatedAt         int64  `json:"updated_at"`
	ResultDownloadURL string `json:"result_download_url,omitempty"`
}

// ValidationError rejects a submission before any side effect is performed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// EnqueueError reports that the job record exists but the claim message could
// not be published. The record has been marked FAILED; the caller should
// surface the job id so the failure is inspectable.
type EnqueueError struct {
	JobID string
	Err   error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue job %s: %v", e.JobID, e.Err)
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

// Service coordinates job submission and status reads across the record
// store, the object store and the work queue.
type Service struct {
	records   RecordStore
	objects   ObjectStore
	publisher message.Publisher
	cfg       Config

	newID func() string
	now   func() int64
}

func NewService(records RecordStore, objects ObjectStore, publisher message.Publisher, cfg Config) *Service {
	if cfg.Topic == "" {
		cfg.Topic = "jobs"
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}

	return &Service{
		records:   records,
		objects:   objects,
		publisher: publisher,
		cfg:       cfg,
		newID:     uuid.NewString,
		now:       NowMS,
	}
}

// Submit validates the upload and walks the strict side-effect order: blob
// write, conditional record insert, claim publish. Each step's failure
// triggers a best-effort compensation of the prior step only.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	contentType, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	jobID := s.newID()
	inputKey := InputKeyFor(jobID, req.Filename)
	resultKey := ResultKeyFor(jobID)
	now := s.now()

	if err := s.objects.Put(ctx, s.cfg.Bucket, inputKey, req.Data, contentType); err != nil {
		return nil, fmt.Errorf("upload input: %w", err)
	}

	j := &Job{
		JobID:            jobID,
		Status:           StatusQueued,
		InputKey:         inputKey,
		ResultKey:        resultKey,
		OriginalFilename: SanitizeFilename(req.Filename),
		ContentType:      contentType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.records.Insert(ctx, j); err != nil {
		// The upload has no record pointing at it; remove the orphan.
		if rmErr := s.objects.Remove(ctx, s.cfg.Bucket, inputKey); rmErr != nil {
			log.Error(rmErr, "failed to remove orphaned input blob", "job_id", jobID, "input_key", inputKey)
		}
		return nil, fmt.Errorf("insert job record: %w", err)
	}

	claim := ClaimMessage{
		JobID:     jobID,
		Bucket:    s.cfg.Bucket,
		InputKey:  inputKey,
		ResultKey: resultKey,
		CreatedAt: now,
	}
	payload, err := json.Marshal(claim)
	if err != nil {
		return nil, fmt.Errorf("marshal claim message: %w", err)
	}

	if err := s.publisher.Publish(s.cfg.Topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		// The record exists but no worker will ever see the job; mark it
		// FAILED instead of leaving it QUEUED forever. The blob stays.
		if mfErr := s.records.MarkFailed(ctx, jobID, "enqueue failed: "+err.Error()); mfErr != nil {
			log.Error(mfErr, "failed to mark unenqueued job as failed", "job_id", jobID)
		}
		return nil, &EnqueueError{JobID: jobID, Err: err}
	}

	return j, nil
}

// Status returns the current record view. When the job is DONE a time-limited
// download URL for the result object is attached.
func (s *Service) Status(ctx context.Context, jobID string) (*StatusView, error) {
	j, err := s.records.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		JobID:        j.JobID,
		Status:       j.Status,
		InputKey:     j.InputKey,
		ResultKey:    j.ResultKey,
		ErrorMessage: j.ErrorMessage,
		UpdatedAt:    j.UpdatedAt,
	}

	if j.Status == StatusDone && j.ResultKey != "" {
		url, err := s.objects.PresignGet(ctx, s.cfg.Bucket, j.ResultKey, s.cfg.PresignExpiry)
		if err != nil {
			return nil, fmt.Errorf("presign result url: %w", err)
		}
		view.ResultDownloadURL = url
	}

	return view, nil
}

func (s *Service) validate(req SubmitRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", &ValidationError{Reason: "file is empty"}
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(req.Data)) > s.cfg.MaxUploadBytes {
		return "", &ValidationError{Reason: fmt.Sprintf("file too large (max %d bytes)", s.cfg.MaxUploadBytes)}
	}

	detected := mimetype.Detect(req.Data)
	for _, allowed := range s.cfg.AllowedTypes {
		if detected.Is(allowed) {
			return detected.String(), nil
		}
	}
	return "", &ValidationError{Reason: fmt.Sprintf("unsupported content type: %s", detected.String())}
}
