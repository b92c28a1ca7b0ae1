// Package worker runs similarity scoring tasks on dedicated goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/metrics"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/pairs"
)

var (
	// ErrTaskFailed is returned when scoring a task panicked.
	ErrTaskFailed = errors.New("scoring task failed")
	// ErrWorkerClosed is returned when submitting to a closed worker.
	ErrWorkerClosed = errors.New("worker closed")
)

// Reply is the outcome of one task: the complete result or an error, never both.
type Reply struct {
	Pairs models.PairSet
	Err   error
}

type job struct {
	task  models.Task
	reply chan Reply
}

// Worker consumes tasks one at a time on its own goroutine.
type Worker struct {
	jobs     chan job
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
	newPairs bool
	logger   *zap.Logger
	recorder metrics.Recorder
	name     string
	score    func(task models.Task, newPairs bool) (models.PairSet, error)
}

// Option configures a Worker or Pool.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	recorder metrics.Recorder
	newPairs bool
	queue    int
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithNewPairs enables scoring new embeddings against each other within a task.
func WithNewPairs(enabled bool) Option {
	return func(o *options) {
		o.newPairs = enabled
	}
}

// WithQueueSize sets how many submitted tasks may wait behind the running one.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.queue = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		recorder: metrics.NewNoopRecorder(),
		queue:    16,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New starts a worker goroutine.
func New(opts ...Option) *Worker {
	o := buildOptions(opts)
	return newWorker("worker-0", o)
}

func newWorker(name string, o options) *Worker {
	w := &Worker{
		jobs:     make(chan job, o.queue),
		done:     make(chan struct{}),
		newPairs: o.newPairs,
		logger:   o.logger.With(zap.String("worker", name)),
		recorder: o.recorder,
		name:     name,
		score:    scoreTask,
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		j.reply <- w.process(j.task)
	}
}

func (w *Worker) process(task models.Task) (r Reply) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("Scoring task panicked", zap.Any("panic", p))
			r = Reply{Err: fmt.Errorf("%w: %v", ErrTaskFailed, p)}
		}
		w.recorder.ObserveTask(time.Since(start), len(r.Pairs), r.Err)
	}()
	result, err := w.score(task, w.newPairs)
	if err != nil {
		return Reply{Err: err}
	}
	w.logger.Debug("Scored task",
		zap.Int("current", task.Embeddings.Len()),
		zap.Int("new", task.NewEmbeddings.Len()),
		zap.Int("pairs", len(result)),
		zap.Duration("took", time.Since(start)))
	return Reply{Pairs: result}
}

func scoreTask(task models.Task, newPairs bool) (models.PairSet, error) {
	return pairs.Collect(pairs.New(task.Embeddings, task.NewEmbeddings, pairs.WithNewPairs(newPairs)))
}

// Submit hands a deep copy of task to the worker. The returned channel receives exactly one reply.
// The caller may drop the channel; the worker never blocks on an unread reply.
// Submit blocks while the queue is full.
func (w *Worker) Submit(task models.Task) (<-chan Reply, error) {
	return w.submit(context.Background(), task)
}

func (w *Worker) submit(ctx context.Context, task models.Task) (<-chan Reply, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrWorkerClosed
	}
	reply := make(chan Reply, 1)
	select {
	case w.jobs <- job{task: task.Clone(), reply: reply}:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Score submits task and waits for its reply. Cancelling ctx abandons a queued submit or the wait;
// a task already handed to the worker still runs to completion.
func (w *Worker) Score(ctx context.Context, task models.Task) (models.PairSet, error) {
	reply, err := w.submit(ctx, task)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.Pairs, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued tasks to finish.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.done
	return nil
}
