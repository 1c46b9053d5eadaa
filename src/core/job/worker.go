package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ThreeDotsLabs/watermill/message"

	"ocrqueue/src/log"
)

// Worker runs the per-message coordination sequence: idempotency pre-check,
// atomic claim, execution, outcome recording, acknowledgement. Any number of
// Worker instances may run concurrently against the same stores; the
// conditional claim in the record store is the only ordering enforcement
// point.
type Worker struct {
	records    RecordStore
	objects    ObjectStore
	processor  Processor
	workerID   string
	scratchDir string

	now func() int64
}

// NewWorker builds a worker. An empty workerID defaults to the hostname, an
// empty scratchDir to the system temp directory.
func NewWorker(records RecordStore, objects ObjectStore, processor Processor, workerID, scratchDir string) *Worker {
	if workerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker-unknown"
		}
		workerID = host
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}

	return &Worker{
		records:    records,
		objects:    objects,
		processor:  processor,
		workerID:   workerID,
		scratchDir: scratchDir,
		now:        NowMS,
	}
}

// WorkerID returns the identity stamped onto claimed records.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Handle processes one claim message. Returning nil acknowledges the message;
// returning an error nacks it so the delivery can be retried or dropped by
// the queue policy. Handle never returns an error once this worker holds the
// claim and the failure is an execution failure: those are recorded on the
// job and acknowledged.
func (w *Worker) Handle(msg *message.Message) error {
	ctx := context.Background()

	var claim ClaimMessage
	if err := json.Unmarshal(msg.Payload, &claim); err != nil || claim.JobID == "" {
		// A message that cannot be decoded can never succeed; drop it.
		log.Error(err, "discarding malformed claim message", "message_id", msg.UUID)
		return nil
	}

	// Idempotency pre-check: an existing result object proves a previous run
	// completed, even if it crashed before the record or queue bookkeeping
	// caught up. A transient head failure is inconclusive; fall through to
	// the claim instead of stalling.
	exists, err := w.objects.Exists(ctx, claim.Bucket, claim.ResultKey)
	if err != nil {
		log.Error(err, "result existence check failed, proceeding to claim", "job_id", claim.JobID)
	} else if exists {
		log.Info("result already present, acknowledging", "job_id", claim.JobID)
		return nil
	}

	// Atomic claim. A condition failure means another worker holds or held
	// the job; that is a benign race outcome, not an error. Anything else is
	// an infrastructure failure and must propagate so the worker restarts
	// instead of silently dropping work.
	if err := w.records.Claim(ctx, claim.JobID, w.workerID, w.now()); err != nil {
		if errors.Is(err, ErrNotQueued) || errors.Is(err, ErrJobNotFound) {
			log.Info("job not claimable, acknowledging", "job_id", claim.JobID)
			return nil
		}
		return fmt.Errorf("claim job %s: %w", claim.JobID, err)
	}

	return w.execute(ctx, claim)
}

func (w *Worker) execute(ctx context.Context, claim ClaimMessage) error {
	inPath := filepath.Join(w.scratchDir, claim.JobID+".bin")
	outPath := filepath.Join(w.scratchDir, claim.JobID+".json")
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	durationMS, err := w.run(ctx, claim, inPath, outPath)
	if err != nil {
		// FAILED is terminal for this subsystem; record it and acknowledge.
		if mfErr := w.records.MarkFailed(ctx, claim.JobID, err.Error()); mfErr != nil {
			log.Error(mfErr, "failed to record job failure", "job_id", claim.JobID)
		}
		log.Info("job failed", "job_id", claim.JobID, "worker_id", w.workerID, "error", err.Error())
		return nil
	}

	if err := w.records.MarkDone(ctx, claim.JobID, durationMS); err != nil {
		// The result object is already durable, so a redelivery resolves
		// through the pre-check. Do not acknowledge before the record
		// reflects the outcome.
		return fmt.Errorf("mark job %s done: %w", claim.JobID, err)
	}

	log.Info("job done", "job_id", claim.JobID, "worker_id", w.workerID, "duration_ms", durationMS)
	return nil
}

// run performs download, processing and result upload, returning the
// processing duration. Errors carry a stage prefix so error_message stays a
// terse stage-plus-cause descriptor.
func (w *Worker) run(ctx context.Context, claim ClaimMessage, inPath, outPath string) (int64, error) {
	if err := w.objects.DownloadToFile(ctx, claim.Bucket, claim.InputKey, inPath); err != nil {
		return 0, fmt.Errorf("download input: %w", err)
	}

	start := w.now()
	result, err := w.processor.Process(ctx, inPath)
	if err != nil {
		return 0, fmt.Errorf("process: %w", err)
	}
	durationMS := w.now() - start

	envelope := struct {
		JobID      string     `json:"job_id"`
		Status     Status     `json:"status"`
		DurationMS int64      `json:"duration_ms"`
		Result     *OCRResult `json:"result"`
	}{
		JobID:      claim.JobID,
		Status:     StatusDone,
		DurationMS: durationMS,
		Result:     result,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		return 0, fmt.Errorf("write result: %w", err)
	}

	if err := w.objects.Put(ctx, claim.Bucket, claim.ResultKey, data, "application/json"); err != nil {
		return 0, fmt.Errorf("upload result: %w", err)
	}

	return durationMS, nil
}
