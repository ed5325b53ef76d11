// Package jobs runs queued index jobs in the background.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// JobProcessor handles one batch of queued work per call.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker calls its processor on every poll tick and whenever Notify is called,
// so a freshly queued job does not wait out the interval. Polls never overlap.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Notify asks for a poll as soon as the current one, if any, finishes.
// It never blocks; notifications that arrive during a poll coalesce.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start polls once immediately, then until ctx is cancelled or Stop is
// called. It blocks; run it in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	log.Printf("worker: polling every %s", w.pollInterval)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("worker: stopped")
			return
		case <-ticker.C:
		case <-w.wake:
			ticker.Reset(w.pollInterval)
		}
		w.poll(ctx)
	}
}

func (w *Worker) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := w.processor.ProcessJobs(ctx); err != nil && ctx.Err() == nil {
		log.Printf("worker: poll failed: %v", err)
	}
}

// Stop cancels the in-flight poll and waits for Start to return. It is safe
// to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
