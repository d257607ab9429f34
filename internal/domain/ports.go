package domain

import "context"

// MediaFetcher is the driven port for resolving and downloading media.
type MediaFetcher interface {
	Metadata(ctx context.Context, url string) (*Metadata, error)
	Download(ctx context.Context, url, basename string) error
}

// Dispatcher hands download tasks to background workers.
// Dispatch must not block; a full queue returns ErrQueueFull.
type Dispatcher interface {
	Dispatch(task DownloadTask) error
}

// JobJournal is the optional driven port mirroring jobs to durable storage.
type JobJournal interface {
	Save(ctx context.Context, job Job) error
	Load(ctx context.Context) ([]Job, error)
}

// JobObserver receives job lifecycle events (metrics).
type JobObserver interface {
	JobSubmitted()
	JobFinished(status JobStatus)
}

// SearchProvider is a driven port for one external search service.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// ResultRanker asks an external ranking service to answer a prompt.
type ResultRanker interface {
	Rank(ctx context.Context, prompt string) (string, error)
}
