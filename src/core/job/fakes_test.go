package job

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// memStore implements RecordStore in memory with the same conditional
// semantics the PostgreSQL store gets from guarded single-row updates.
type memStore struct {
	mu            sync.Mutex
	jobs          map[string]*Job
	claimsGranted int

	claimErr error
	doneErr  error
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*Job)}
}

func (s *memStore) Insert(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.JobID]; ok {
		return ErrJobExists
	}
	clone := *j
	s.jobs[j.JobID] = &clone
	return nil
}

func (s *memStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *j
	return &clone, nil
}

func (s *memStore) Claim(ctx context.Context, jobID, workerID string, startedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return s.claimErr
	}

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusQueued {
		return ErrNotQueued
	}

	j.Status = StatusProcessing
	j.WorkerID = workerID
	j.ProcessingStartedAt = startedAt
	j.UpdatedAt = startedAt
	s.claimsGranted++
	return nil
}

func (s *memStore) MarkDone(ctx context.Context, jobID string, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doneErr != nil {
		return s.doneErr
	}

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = StatusDone
	j.DurationMS = durationMS
	j.ErrorMessage = ""
	j.UpdatedAt = NowMS()
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = StatusFailed
	j.ErrorMessage = errorMessage
	j.UpdatedAt = NowMS()
	return nil
}

// seed places a record directly, bypassing conditional checks.
func (s *memStore) seed(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *j
	s.jobs[j.JobID] = &clone
}

func (s *memStore) snapshot(jobID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	clone := *j
	return &clone
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// memObjects implements ObjectStore in memory.
type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte

	statErr    error
	putErr     error
	removeErr  error
	presignErr error
}

func newMemObjects() *memObjects {
	return &memObjects{data: make(map[string][]byte)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (o *memObjects) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.putErr != nil {
		return o.putErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	o.data[objectKey(bucket, key)] = buf
	return nil
}

func (o *memObjects) Exists(ctx context.Context, bucket, key string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.statErr != nil {
		return false, o.statErr
	}
	_, ok := o.data[objectKey(bucket, key)]
	return ok, nil
}

func (o *memObjects) DownloadToFile(ctx context.Context, bucket, key, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	data, ok := o.data[objectKey(bucket, key)]
	if !ok {
		return fmt.Errorf("object %s not found", objectKey(bucket, key))
	}
	return os.WriteFile(path, data, 0o600)
}

func (o *memObjects) Remove(ctx context.Context, bucket, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.removeErr != nil {
		return o.removeErr
	}
	delete(o.data, objectKey(bucket, key))
	return nil
}

func (o *memObjects) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.presignErr != nil {
		return "", o.presignErr
	}
	return fmt.Sprintf("https://objects.test/%s/%s?expires=%d", bucket, key, int64(expiry.Seconds())), nil
}

func (o *memObjects) has(bucket, key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.data[objectKey(bucket, key)]
	return ok
}

func (o *memObjects) size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.data)
}

// memPublisher implements message.Publisher and records what it was given.
type memPublisher struct {
	mu       sync.Mutex
	err      error
	topics   []string
	messages []*message.Message
}

func (p *memPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *memPublisher) Close() error {
	return nil
}

func (p *memPublisher) published() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages...)
}

// pngPayload returns n bytes that sniff as image/png.
func pngPayload(n int) []byte {
	sig := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	if n < len(sig) {
		n = len(sig)
	}
	buf := make([]byte, n)
	copy(buf, sig)
	return buf
}

// pdfPayload returns n bytes that sniff as application/pdf.
func pdfPayload(n int) []byte {
	sig := []byte("%PDF-1.4\n")
	if n < len(sig) {
		n = len(sig)
	}
	buf := make([]byte, n)
	copy(buf, sig)
	return buf
}
