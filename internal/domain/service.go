package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingURL        = errors.New("missing URL")
	ErrInvalidURL        = errors.New("invalid URL")
	ErrJobNotFound       = errors.New("job not found")
	ErrDuplicateJob      = errors.New("job already submitted")
	ErrQueueFull         = errors.New("download queue is full")
	ErrUpstream          = errors.New("upstream failure")
	ErrInvalidTransition = errors.New("invalid status transition")

	errStaleSubmission = errors.New("stale submission")
)

// ResubmitPolicy decides what Submit does with a URL that already has a job.
type ResubmitPolicy string

const (
	// ResubmitAllow returns the in-flight job unchanged and replaces finished ones.
	ResubmitAllow ResubmitPolicy = "allow"
	// ResubmitReject fails with ErrDuplicateJob whenever a job exists.
	ResubmitReject ResubmitPolicy = "reject"
)

const interruptedReason = "interrupted by restart"

// JobService is the in-memory job registry keyed by source URL.
// A single mutex guards the job map and its insertion order.
type JobService struct {
	fetcher    MediaFetcher
	dispatcher Dispatcher
	journal    JobJournal
	observer   JobObserver
	policy     ResubmitPolicy
	now        func() time.Time

	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
}

// Option configures a JobService.
type Option func(*JobService)

// WithJournal mirrors every job change to j.
func WithJournal(j JobJournal) Option {
	return func(s *JobService) { s.journal = j }
}

// WithObserver reports lifecycle events to o.
func WithObserver(o JobObserver) Option {
	return func(s *JobService) { s.observer = o }
}

// WithResubmitPolicy sets the resubmission policy (default ResubmitAllow).
func WithResubmitPolicy(p ResubmitPolicy) Option {
	return func(s *JobService) {
		if p != "" {
			s.policy = p
		}
	}
}

// NewJobService creates a new JobService.
func NewJobService(fetcher MediaFetcher, dispatcher Dispatcher, opts ...Option) *JobService {
	s := &JobService{
		fetcher:    fetcher,
		dispatcher: dispatcher,
		policy:     ResubmitAllow,
		now:        time.Now,
		jobs:       make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit registers a job for rawURL, resolves its metadata and queues the download.
// The returned job is already Downloading; its artifact may not exist yet.
func (s *JobService) Submit(ctx context.Context, rawURL string) (*Job, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrMissingURL
	}
	if !validSourceURL(rawURL) {
		return nil, ErrInvalidURL
	}

	job, inFlight, err := s.register(rawURL)
	if err != nil {
		return nil, err
	}
	if inFlight {
		log.Printf("job %s: %s already %s, not starting another download", job.ID, rawURL, job.Status)
		return &job, nil
	}
	s.persist(ctx, job)
	if s.observer != nil {
		s.observer.JobSubmitted()
	}

	meta, err := s.fetcher.Metadata(ctx, rawURL)
	if err != nil {
		log.Printf("job %s: metadata error: %v", job.ID, err)
		s.setStatus(ctx, job.ID, rawURL, StatusError, err.Error())
		return nil, fmt.Errorf("%w: metadata for %s: %v", ErrUpstream, rawURL, err)
	}
	s.setMetadata(ctx, job.ID, rawURL, meta)

	// Downloading is recorded before dispatch so a fast outcome cannot be
	// overwritten by it.
	job, err = s.setStatus(ctx, job.ID, rawURL, StatusDownloading, "")
	if err != nil {
		return nil, err
	}

	task := DownloadTask{JobID: job.ID, URL: rawURL, Basename: job.Basename}
	if err := s.dispatcher.Dispatch(task); err != nil {
		log.Printf("job %s: dispatch failed: %v", job.ID, err)
		s.setStatus(ctx, job.ID, rawURL, StatusError, err.Error())
		return nil, err
	}

	log.Printf("job %s: queued %s as %s", job.ID, rawURL, job.Filename)
	return &job, nil
}

// validSourceURL accepts absolute http(s) URLs with a host.
func validSourceURL(rawURL string) bool {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// register inserts a Pending job or returns the in-flight one.
func (s *JobService) register(rawURL string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[rawURL]; ok {
		if s.policy == ResubmitReject {
			return Job{}, false, ErrDuplicateJob
		}
		if !existing.Status.IsTerminal() {
			return *existing, true, nil
		}
	} else {
		s.order = append(s.order, rawURL)
	}

	now := s.now()
	job := &Job{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Status:    StatusPending,
		Basename:  ArtifactBasename(rawURL),
		Filename:  ArtifactFilename(rawURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[rawURL] = job
	return *job, false, nil
}

func (s *JobService) setMetadata(ctx context.Context, id, rawURL string, meta *Metadata) {
	s.mu.Lock()
	job, ok := s.jobs[rawURL]
	if !ok || job.ID != id {
		s.mu.Unlock()
		return
	}
	job.Title = meta.Title
	if job.Title == "" {
		job.Title = "Unknown Title"
	}
	job.Thumbnail = meta.Thumbnail
	job.UpdatedAt = s.now()
	snapshot := *job
	s.mu.Unlock()

	s.persist(ctx, snapshot)
}

// MarkStatus sets the status of the current submission for rawURL.
// Repeating a status is a no-op; moving backwards returns ErrInvalidTransition.
func (s *JobService) MarkStatus(ctx context.Context, rawURL string, status JobStatus, reason string) error {
	_, err := s.setStatus(ctx, "", rawURL, status, reason)
	return err
}

// setStatus updates the job for rawURL. A non-empty id must match the
// current submission.
func (s *JobService) setStatus(ctx context.Context, id, rawURL string, status JobStatus, reason string) (Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[rawURL]
	if !ok {
		s.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if id != "" && job.ID != id {
		s.mu.Unlock()
		return Job{}, errStaleSubmission
	}
	if !job.Status.CanTransition(status) {
		from := job.Status
		s.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}
	prev := job.Status
	job.Status = status
	switch status {
	case StatusError:
		job.Error = reason
	case StatusDone:
		job.Error = ""
	}
	job.UpdatedAt = s.now()
	snapshot := *job
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	if s.observer != nil && status.IsTerminal() && !prev.IsTerminal() {
		s.observer.JobFinished(status)
	}
	return snapshot, nil
}

// GetStatus returns the status for rawURL or ErrJobNotFound.
func (s *JobService) GetStatus(ctx context.Context, rawURL string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[rawURL]
	if !ok {
		return StatusNotFound, ErrJobNotFound
	}
	return job.Status, nil
}

// Get returns a copy of the job for rawURL.
func (s *JobService) Get(ctx context.Context, rawURL string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[rawURL]
	if !ok {
		return nil, ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

// List returns a snapshot of all jobs in insertion order.
func (s *JobService) List(ctx context.Context) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0, len(s.order))
	for _, u := range s.order {
		jobs = append(jobs, *s.jobs[u])
	}
	return jobs
}

// Apply records a worker outcome. Outcomes of replaced submissions are dropped.
func (s *JobService) Apply(ctx context.Context, o Outcome) error {
	if !o.Status.IsTerminal() {
		return fmt.Errorf("%w: outcome status %q", ErrInvalidTransition, o.Status)
	}
	_, err := s.setStatus(ctx, o.JobID, o.URL, o.Status, o.Error)
	switch {
	case errors.Is(err, errStaleSubmission):
		log.Printf("job %s: ignoring outcome of replaced submission", o.JobID)
		return nil
	case err != nil:
		log.Printf("job %s: apply outcome: %v", o.JobID, err)
		return err
	}
	if o.Status == StatusError {
		log.Printf("job %s: failed: %s", o.JobID, o.Error)
	} else {
		log.Printf("job %s: done for %s", o.JobID, o.URL)
	}
	return nil
}

// ConsumeOutcomes applies outcomes until the channel is closed.
func (s *JobService) ConsumeOutcomes(ctx context.Context, outcomes <-chan Outcome) {
	for o := range outcomes {
		_ = s.Apply(ctx, o) // logged by Apply
	}
}

// Restore loads jobs from the journal. Jobs that were still in flight are
// marked as failed; their count is returned.
func (s *JobService) Restore(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	jobs, err := s.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})

	var interrupted []Job
	s.mu.Lock()
	for i, job := range jobs {
		if !job.Status.Valid() || job.URL == "" {
			continue
		}
		if !job.Status.IsTerminal() {
			job.Status = StatusError
			job.Error = interruptedReason
			// Journals drop writes older than the stored copy; the stored
			// clock may be ahead of ours.
			job.UpdatedAt = s.now()
			if !job.UpdatedAt.After(jobs[i].UpdatedAt) {
				job.UpdatedAt = jobs[i].UpdatedAt.Add(time.Nanosecond)
			}
			interrupted = append(interrupted, job)
		}
		if _, ok := s.jobs[job.URL]; !ok {
			s.order = append(s.order, job.URL)
		}
		s.jobs[job.URL] = &job
	}
	s.mu.Unlock()

	for _, job := range interrupted {
		s.persist(ctx, job)
	}
	log.Printf("restored %d job(s) from journal", len(jobs))
	return len(interrupted), nil
}

func (s *JobService) persist(ctx context.Context, job Job) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Save(ctx, job); err != nil {
		log.Printf("job %s: journal save failed: %v", job.ID, err)
	}
}
