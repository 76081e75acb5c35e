package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/pkg/worker"
)

const (
	defaultQueueWorkers = 4
	defaultQueueSize    = 1000
)

// Handler processes one subject end to end
type Handler func(ctx context.Context, subject string) error

// job is one unit of queued work
type job struct {
	subject  string
	enqueued time.Time
}

// QueueConfig sizes the dispatch queue
type QueueConfig struct {
	Workers int
	Size    int
}

// Queue is a deduplicating job queue: at most one job per subject is queued
// or running at any time. Enqueuing a subject that already has a job in
// flight coalesces into it, which is what makes cascading redispatch
// terminate.
type Queue struct {
	mu       sync.Mutex
	inFlight map[string]struct{}

	pool     *worker.Pool[job]
	poolOpts []worker.Option[job]
	handler  Handler
	logger   *slog.Logger
	metrics  *metric.Metrics
	events   EventSink
}

// QueueOption configures a Queue
type QueueOption func(*Queue)

// WithQueueEventSink streams job lifecycle events to a sink
func WithQueueEventSink(sink EventSink) QueueOption {
	return func(q *Queue) {
		if sink != nil {
			q.events = sink
		}
	}
}

// WithQueueMetricsRegistry enables worker pool metrics on the given registry
func WithQueueMetricsRegistry(registry *metric.Registry) QueueOption {
	return func(q *Queue) {
		q.poolOpts = append(q.poolOpts, worker.WithMetricsRegistry[job](registry, "dispatch"))
	}
}

// NewQueue creates a stopped queue; Start launches the workers
func NewQueue(cfg QueueConfig, handler Handler, logger *slog.Logger, metrics *metric.Metrics, opts ...QueueOption) (*Queue, error) {
	if handler == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Queue", "NewQueue", "handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultQueueWorkers
	}
	if cfg.Size <= 0 {
		cfg.Size = defaultQueueSize
	}

	q := &Queue{
		inFlight: make(map[string]struct{}),
		handler:  handler,
		logger:   logger,
		metrics:  metrics,
		events:   nopSink{},
	}
	for _, opt := range opts {
		opt(q)
	}

	q.pool = worker.NewPool(cfg.Workers, cfg.Size, q.process, q.poolOpts...)
	return q, nil
}

// EnqueueIfAbsent queues a dispatch job for the subject unless one is already
// queued or running. Returns true when a new job was accepted, false when the
// attempt coalesced into an existing job.
func (q *Queue) EnqueueIfAbsent(subject string) (bool, error) {
	q.mu.Lock()
	if _, exists := q.inFlight[subject]; exists {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.SubjectsCoalesced.Inc()
		}
		q.events.Publish(Event{Type: EventCoalesced, Subject: subject, Timestamp: time.Now()})
		return false, nil
	}
	q.inFlight[subject] = struct{}{}
	q.mu.Unlock()

	if err := q.pool.Submit(job{subject: subject, enqueued: time.Now()}); err != nil {
		q.remove(subject)
		return false, errors.WrapTransient(err, "Queue", "EnqueueIfAbsent", "submit job")
	}

	if q.metrics != nil {
		q.metrics.SubjectsEnqueued.Inc()
		q.metrics.InFlight.Inc()
	}
	q.events.Publish(Event{Type: EventEnqueued, Subject: subject, Timestamp: time.Now()})
	return true, nil
}

// HasJobFor reports whether a job for the subject is queued or running
func (q *Queue) HasJobFor(subject string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.inFlight[subject]
	return exists
}

// InFlight returns the number of subjects queued or running
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Start launches the queue workers
func (q *Queue) Start(ctx context.Context) error {
	if err := q.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Queue", "Start", "start worker pool")
	}
	return nil
}

// Stop drains the queue, waiting up to timeout for running jobs
func (q *Queue) Stop(timeout time.Duration) error {
	if err := q.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Queue", "Stop", "stop worker pool")
	}
	return nil
}

// Stats returns worker pool statistics
func (q *Queue) Stats() worker.PoolStats {
	return q.pool.Stats()
}

// process runs one job and releases the subject's in-flight slot afterwards,
// making the subject eligible for enqueuing again
func (q *Queue) process(ctx context.Context, j job) error {
	defer func() {
		q.remove(j.subject)
		if q.metrics != nil {
			q.metrics.InFlight.Dec()
		}
	}()

	q.events.Publish(Event{Type: EventStarted, Subject: j.subject, Timestamp: time.Now()})
	start := time.Now()

	err := q.handler(ctx, j.subject)

	status := "success"
	eventType := EventCompleted
	detail := ""
	if err != nil {
		status = "failed"
		eventType = EventFailed
		detail = err.Error()
		q.logger.Error("dispatch job failed",
			"subject", j.subject,
			"error", err,
			"queued_for", time.Since(j.enqueued))
	}
	if q.metrics != nil {
		q.metrics.JobsProcessed.WithLabelValues(status).Inc()
		q.metrics.ProcessingDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}
	q.events.Publish(Event{Type: eventType, Subject: j.subject, Detail: detail, Timestamp: time.Now()})

	return err
}

func (q *Queue) remove(subject string) {
	q.mu.Lock()
	delete(q.inFlight, subject)
	q.mu.Unlock()
}
