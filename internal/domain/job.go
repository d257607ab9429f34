package domain

import "time"

// JobStatus represents the download state of a job.
type JobStatus string

const (
	StatusPending     JobStatus = "Pending"
	StatusDownloading JobStatus = "Downloading"
	StatusDone        JobStatus = "Done"
	StatusError       JobStatus = "Error"
)

// StatusNotFound is reported for URLs that were never submitted. It is never
// stored on a job.
const StatusNotFound JobStatus = "Not found"

// IsTerminal returns true for Done and Error.
func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// Valid returns true if s is one of the stored job states.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusDone, StatusError:
		return true
	}
	return false
}

func (s JobStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusDownloading:
		return 1
	case StatusDone, StatusError:
		return 2
	}
	return -1
}

// CanTransition reports whether a job may move from s to next.
// Terminal states may overwrite each other (last writer wins).
func (s JobStatus) CanTransition(next JobStatus) bool {
	if !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Job is one submission of a source URL.
type Job struct {
	ID        string
	URL       string
	Status    JobStatus
	Title     string
	Thumbnail string
	Filename  string
	Basename  string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metadata is what a MediaFetcher resolves without downloading.
type Metadata struct {
	Title     string
	Thumbnail string
}

// DownloadTask is handed to the worker pool.
type DownloadTask struct {
	JobID    string
	URL      string
	Basename string
}

// Outcome is the terminal result of a DownloadTask.
type Outcome struct {
	JobID  string
	URL    string
	Status JobStatus
	Error  string
}
