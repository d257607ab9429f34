package worker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cwygoda/audiodrop/internal/domain"
)

// Reporter receives queue and activity updates.
type Reporter interface {
	SetQueueDepth(n int)
	TaskStarted()
	TaskFinished()
}

type nopReporter struct{}

func (nopReporter) SetQueueDepth(int) {}
func (nopReporter) TaskStarted()      {}
func (nopReporter) TaskFinished()     {}

// Pool runs download tasks on a fixed number of workers and reports each
// outcome on a channel.
type Pool struct {
	fetcher  domain.MediaFetcher
	size     int
	queue    chan domain.DownloadTask
	outcomes chan domain.Outcome
	reporter Reporter
}

// New creates a pool with size workers and a queue of the given capacity.
func New(fetcher domain.MediaFetcher, size, capacity int, reporter Reporter) *Pool {
	if size < 1 {
		size = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Pool{
		fetcher:  fetcher,
		size:     size,
		queue:    make(chan domain.DownloadTask, capacity),
		outcomes: make(chan domain.Outcome, size),
		reporter: reporter,
	}
}

// Dispatch queues a task without blocking.
func (p *Pool) Dispatch(task domain.DownloadTask) error {
	select {
	case p.queue <- task:
		p.reporter.SetQueueDepth(len(p.queue))
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Outcomes returns the channel that receives one outcome per processed task.
// It is closed when Run returns.
func (p *Pool) Outcomes() <-chan domain.Outcome {
	return p.outcomes
}

// Run starts the workers and blocks until ctx is cancelled and all running
// tasks have reported.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("worker pool started with %d worker(s)", p.size)

	var wg sync.WaitGroup
	for i := 1; i <= p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, i)
		}()
	}
	wg.Wait()

	// Tasks still queued will never run.
drain:
	for {
		select {
		case task := <-p.queue:
			p.outcomes <- domain.Outcome{
				JobID:  task.JobID,
				URL:    task.URL,
				Status: domain.StatusError,
				Error:  "cancelled by shutdown",
			}
		default:
			break drain
		}
	}
	p.reporter.SetQueueDepth(0)

	close(p.outcomes)
	log.Println("worker pool shutting down")
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue:
			p.reporter.SetQueueDepth(len(p.queue))
			p.outcomes <- p.process(ctx, id, task)
		}
	}
}

func (p *Pool) process(ctx context.Context, id int, task domain.DownloadTask) (out domain.Outcome) {
	p.reporter.TaskStarted()
	defer p.reporter.TaskFinished()

	out = domain.Outcome{JobID: task.JobID, URL: task.URL, Status: domain.StatusDone}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("job %s: worker %d panic: %v", task.JobID, id, r)
			out.Status = domain.StatusError
			out.Error = fmt.Sprintf("download panicked: %v", r)
		}
	}()

	log.Printf("job %s: worker %d downloading %s", task.JobID, id, task.URL)
	if err := p.fetcher.Download(ctx, task.URL, task.Basename); err != nil {
		log.Printf("job %s: download error: %v", task.JobID, err)
		out.Status = domain.StatusError
		out.Error = err.Error()
		return out
	}
	log.Printf("job %s: downloaded %s", task.JobID, task.Basename)
	return out
}
