package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockFetcher implements MediaFetcher for testing.
type mockFetcher struct {
	mu      sync.Mutex
	metaErr error
	calls   []string
}

func (m *mockFetcher) Metadata(ctx context.Context, url string) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, url)
	if m.metaErr != nil {
		return nil, m.metaErr
	}
	return &Metadata{Title: "Title of " + url, Thumbnail: "https://img.example.com/t.jpg"}, nil
}

func (m *mockFetcher) Download(ctx context.Context, url, basename string) error {
	return nil
}

// mockDispatcher implements Dispatcher for testing.
type mockDispatcher struct {
	mu    sync.Mutex
	tasks []DownloadTask
	err   error
}

func (m *mockDispatcher) Dispatch(task DownloadTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *mockDispatcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// mockJournal implements JobJournal for testing.
type mockJournal struct {
	mu      sync.Mutex
	saved   map[string]Job
	loadErr error
}

func newMockJournal(jobs ...Job) *mockJournal {
	j := &mockJournal{saved: make(map[string]Job)}
	for _, job := range jobs {
		j.saved[job.ID] = job
	}
	return j
}

func (m *mockJournal) Save(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[job.ID] = job
	return nil
}

func (m *mockJournal) Load(ctx context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var jobs []Job
	for _, job := range m.saved {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (m *mockJournal) get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.saved[id]
	return job, ok
}

func setupService(opts ...Option) (*JobService, *mockFetcher, *mockDispatcher) {
	fetcher := &mockFetcher{}
	dispatcher := &mockDispatcher{}
	return NewJobService(fetcher, dispatcher, opts...), fetcher, dispatcher
}

func TestJobService_Submit(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{name: "valid URL", url: "https://example.com/x", wantErr: nil},
		{name: "empty URL", url: "", wantErr: ErrMissingURL},
		{name: "blank URL", url: "   ", wantErr: ErrMissingURL},
		{name: "invalid URL", url: "not a url", wantErr: ErrInvalidURL},
		{name: "relative path", url: "/watch?v=1", wantErr: ErrInvalidURL},
		{name: "ftp scheme", url: "ftp://example.com/x.mp3", wantErr: ErrInvalidURL},
		{name: "missing host", url: "https:///x", wantErr: ErrInvalidURL},
		{name: "http URL", url: "http://example.com/x", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, dispatcher := setupService()

			job, err := svc.Submit(context.Background(), tt.url)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if dispatcher.count() != 0 {
					t.Errorf("dispatched %d tasks, want 0", dispatcher.count())
				}
				return
			}
			if job.Status != StatusDownloading {
				t.Errorf("Status = %q, want %q", job.Status, StatusDownloading)
			}
			if job.Title != "Title of "+tt.url {
				t.Errorf("Title = %q", job.Title)
			}
			if want := ArtifactFilename(tt.url); job.Filename != want {
				t.Errorf("Filename = %q, want %q", job.Filename, want)
			}
			if job.ID == "" {
				t.Error("ID is empty")
			}
			if dispatcher.count() != 1 {
				t.Fatalf("dispatched %d tasks, want 1", dispatcher.count())
			}
			task := dispatcher.tasks[0]
			if task.JobID != job.ID || task.Basename != ArtifactBasename(tt.url) {
				t.Errorf("task = %+v", task)
			}
		})
	}
}

func TestJobService_Submit_MetadataFailure(t *testing.T) {
	svc, fetcher, dispatcher := setupService()
	fetcher.metaErr = errors.New("yt-dlp exploded")
	ctx := context.Background()

	_, err := svc.Submit(ctx, "https://example.com/x")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Submit() error = %v, want %v", err, ErrUpstream)
	}
	if dispatcher.count() != 0 {
		t.Errorf("dispatched %d tasks, want 0", dispatcher.count())
	}

	job, err := svc.Get(ctx, "https://example.com/x")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusError {
		t.Errorf("Status = %q, want %q", job.Status, StatusError)
	}
	if job.Error != "yt-dlp exploded" {
		t.Errorf("Error = %q", job.Error)
	}
}

func TestJobService_Submit_QueueFull(t *testing.T) {
	svc, _, dispatcher := setupService()
	dispatcher.err = ErrQueueFull
	ctx := context.Background()

	_, err := svc.Submit(ctx, "https://example.com/x")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want %v", err, ErrQueueFull)
	}

	status, _ := svc.GetStatus(ctx, "https://example.com/x")
	if status != StatusError {
		t.Errorf("Status = %q, want %q", status, StatusError)
	}
}

func TestJobService_Submit_InFlightIsNoop(t *testing.T) {
	svc, _, dispatcher := setupService()
	ctx := context.Background()

	first, err := svc.Submit(ctx, "https://example.com/x")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Submit(ctx, "https://example.com/x")
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second ID = %q, want %q", second.ID, first.ID)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d tasks, want 1", dispatcher.count())
	}
	if n := len(svc.List(ctx)); n != 1 {
		t.Errorf("List() len = %d, want 1", n)
	}
}

func TestJobService_Submit_ReplacesFinished(t *testing.T) {
	svc, _, dispatcher := setupService()
	ctx := context.Background()

	first, _ := svc.Submit(ctx, "https://example.com/a")
	svc.Submit(ctx, "https://example.com/b")
	svc.Apply(ctx, Outcome{JobID: first.ID, URL: first.URL, Status: StatusError, Error: "boom"})

	second, err := svc.Submit(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID {
		t.Error("resubmission reused the finished job ID")
	}
	if second.Status != StatusDownloading {
		t.Errorf("Status = %q, want %q", second.Status, StatusDownloading)
	}
	if dispatcher.count() != 3 {
		t.Errorf("dispatched %d tasks, want 3", dispatcher.count())
	}

	// Replaced job keeps its list position.
	jobs := svc.List(ctx)
	if len(jobs) != 2 || jobs[0].URL != "https://example.com/a" || jobs[0].ID != second.ID {
		t.Errorf("List() = %+v", jobs)
	}
}

func TestJobService_Submit_RejectPolicy(t *testing.T) {
	svc, _, _ := setupService(WithResubmitPolicy(ResubmitReject))
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "https://example.com/x"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Submit(ctx, "https://example.com/x")
	if !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("Submit() error = %v, want %v", err, ErrDuplicateJob)
	}
}

func TestJobService_GetStatus_NotFound(t *testing.T) {
	svc, _, _ := setupService()

	status, err := svc.GetStatus(context.Background(), "https://example.com/never")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetStatus() error = %v, want %v", err, ErrJobNotFound)
	}
	if status != StatusNotFound {
		t.Errorf("GetStatus() = %q, want %q", status, StatusNotFound)
	}
}

func TestJobService_MarkStatus_Monotonic(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	url := "https://example.com/x"
	svc.Submit(ctx, url)

	if err := svc.MarkStatus(ctx, url, StatusDone, ""); err != nil {
		t.Fatalf("MarkStatus(Done) error = %v", err)
	}
	if err := svc.MarkStatus(ctx, url, StatusDone, ""); err != nil {
		t.Errorf("repeated MarkStatus(Done) error = %v", err)
	}
	err := svc.MarkStatus(ctx, url, StatusDownloading, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkStatus(Downloading) error = %v, want %v", err, ErrInvalidTransition)
	}

	status, _ := svc.GetStatus(ctx, url)
	if status != StatusDone {
		t.Errorf("Status = %q, want %q", status, StatusDone)
	}

	if err := svc.MarkStatus(ctx, "https://example.com/other", StatusDone, ""); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("MarkStatus(unknown) error = %v, want %v", err, ErrJobNotFound)
	}
}

func TestJobService_Apply_StaleOutcome(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()
	url := "https://example.com/x"

	first, _ := svc.Submit(ctx, url)
	svc.Apply(ctx, Outcome{JobID: first.ID, URL: url, Status: StatusError, Error: "boom"})
	second, _ := svc.Submit(ctx, url)

	// A late outcome of the first submission must not touch the second.
	if err := svc.Apply(ctx, Outcome{JobID: first.ID, URL: url, Status: StatusDone}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	job, _ := svc.Get(ctx, url)
	if job.ID != second.ID || job.Status != StatusDownloading {
		t.Errorf("job = %+v, want second submission still downloading", job)
	}
}

func TestJobService_Apply_RejectsNonTerminal(t *testing.T) {
	svc, _, _ := setupService()
	err := svc.Apply(context.Background(), Outcome{JobID: "x", URL: "u", Status: StatusDownloading})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Apply() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestJobService_ConsumeOutcomes(t *testing.T) {
	svc, _, _ := setupService()
	ctx := context.Background()

	a, _ := svc.Submit(ctx, "https://example.com/a")
	b, _ := svc.Submit(ctx, "https://example.com/b")

	outcomes := make(chan Outcome, 2)
	outcomes <- Outcome{JobID: a.ID, URL: a.URL, Status: StatusDone}
	outcomes <- Outcome{JobID: b.ID, URL: b.URL, Status: StatusError, Error: "exit status 1"}
	close(outcomes)

	svc.ConsumeOutcomes(ctx, outcomes)

	if s, _ := svc.GetStatus(ctx, a.URL); s != StatusDone {
		t.Errorf("a status = %q, want %q", s, StatusDone)
	}
	job, _ := svc.Get(ctx, b.URL)
	if job.Status != StatusError || job.Error != "exit status 1" {
		t.Errorf("b = %+v", job)
	}
}

func TestJobService_ConcurrentSubmit(t *testing.T) {
	svc, _, dispatcher := setupService()
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Submit(ctx, fmt.Sprintf("https://example.com/%d", i)); err != nil {
				t.Errorf("Submit(%d) error = %v", i, err)
			}
		}()
	}
	wg.Wait()

	jobs := svc.List(ctx)
	if len(jobs) != n {
		t.Fatalf("List() len = %d, want %d", len(jobs), n)
	}
	seen := make(map[string]bool)
	for _, job := range jobs {
		if seen[job.URL] {
			t.Errorf("duplicate entry for %s", job.URL)
		}
		seen[job.URL] = true
	}
	if dispatcher.count() != n {
		t.Errorf("dispatched %d tasks, want %d", dispatcher.count(), n)
	}
}

func TestJobService_Journal(t *testing.T) {
	journal := newMockJournal()
	svc, _, _ := setupService(WithJournal(journal))
	ctx := context.Background()

	job, _ := svc.Submit(ctx, "https://example.com/x")
	saved, ok := journal.get(job.ID)
	if !ok {
		t.Fatal("job not saved to journal")
	}
	if saved.Status != StatusDownloading || saved.Title == "" {
		t.Errorf("saved = %+v", saved)
	}

	svc.Apply(ctx, Outcome{JobID: job.ID, URL: job.URL, Status: StatusDone})
	saved, _ = journal.get(job.ID)
	if saved.Status != StatusDone {
		t.Errorf("saved status = %q, want %q", saved.Status, StatusDone)
	}
}

func TestJobService_Restore(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	journal := newMockJournal(
		Job{ID: "1", URL: "https://example.com/a", Status: StatusDone, CreatedAt: base},
		Job{ID: "2", URL: "https://example.com/b", Status: StatusDownloading, CreatedAt: base.Add(time.Second)},
		Job{ID: "3", URL: "https://example.com/a", Status: StatusDone, CreatedAt: base.Add(2 * time.Second)},
		Job{ID: "4", URL: "https://example.com/c", Status: "bogus", CreatedAt: base},
	)
	svc, _, _ := setupService(WithJournal(journal))
	ctx := context.Background()

	interrupted, err := svc.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if interrupted != 1 {
		t.Errorf("Restore() interrupted = %d, want 1", interrupted)
	}

	jobs := svc.List(ctx)
	if len(jobs) != 2 {
		t.Fatalf("List() len = %d, want 2", len(jobs))
	}
	if jobs[0].URL != "https://example.com/a" || jobs[0].ID != "3" {
		t.Errorf("jobs[0] = %+v, want latest submission of a", jobs[0])
	}
	if jobs[1].Status != StatusError || jobs[1].Error != interruptedReason {
		t.Errorf("jobs[1] = %+v, want interrupted error", jobs[1])
	}
	if saved, _ := journal.get("2"); saved.Status != StatusError {
		t.Errorf("interrupted job not persisted: %+v", saved)
	}
}

func TestJobService_Restore_StoredClockAhead(t *testing.T) {
	ahead := time.Now().Add(time.Hour)
	journal := newMockJournal(
		Job{ID: "1", URL: "https://example.com/a", Status: StatusDownloading, CreatedAt: ahead, UpdatedAt: ahead},
	)
	svc, _, _ := setupService(WithJournal(journal))

	if _, err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	saved, _ := journal.get("1")
	if saved.Status != StatusError {
		t.Errorf("saved status = %q, want %q", saved.Status, StatusError)
	}
	if !saved.UpdatedAt.After(ahead) {
		t.Errorf("saved UpdatedAt = %v, want after stored %v", saved.UpdatedAt, ahead)
	}
}

func TestJobService_Restore_LoadError(t *testing.T) {
	journal := newMockJournal()
	journal.loadErr = errors.New("disk on fire")
	svc, _, _ := setupService(WithJournal(journal))

	if _, err := svc.Restore(context.Background()); err == nil {
		t.Error("Restore() error = nil, want error")
	}
}

func TestJobService_Restore_NoJournal(t *testing.T) {
	svc, _, _ := setupService()
	n, err := svc.Restore(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Restore() = %d, %v", n, err)
	}
}
