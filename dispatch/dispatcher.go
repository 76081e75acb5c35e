package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/pkg/retry"
	"github.com/lblod/contact-data-dispatcher-service/pkg/worker"
	"github.com/lblod/contact-data-dispatcher-service/rules"
)

// Config assembles the dispatching core
type Config struct {
	Queue       QueueConfig
	PublicGraph string
	// PrerequisiteBackoff schedules the readiness polling; zero value uses
	// the polling preset
	PrerequisiteBackoff retry.Config
}

// Dispatcher ties the prerequisite gate, the deduplicating queue and the
// routing engine together behind a single intake surface. Intake is always
// open: subjects accepted before the prerequisite holds simply wait in the
// queue.
type Dispatcher struct {
	queue   *Queue
	engine  *Engine
	prereq  *Prerequisite
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Dispatcher
type Option func(*options)

type options struct {
	sink     EventSink
	registry *metric.Registry
}

// WithEventSink streams the full dispatch lifecycle to a sink
func WithEventSink(sink EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithMetricsRegistry registers queue worker metrics on the given registry
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// NewDispatcher wires the dispatching core. The prerequisite check gates job
// processing; pass nil to start unblocked.
func NewDispatcher(
	cfg Config,
	st Store,
	rulebook *rules.Rulebook,
	check CheckFunc,
	logger *slog.Logger,
	metrics *metric.Metrics,
	opts ...Option,
) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	backoff := cfg.PrerequisiteBackoff
	if backoff.InitialDelay == 0 {
		backoff = retry.Polling()
	}

	d := &Dispatcher{
		logger:  logger,
		metrics: metrics,
	}

	if check == nil {
		check = func(context.Context) (bool, error) { return true, nil }
	}
	d.prereq = NewPrerequisite(check, backoff, logger, metrics)

	engineOpts := []EngineOption{
		WithRedispatch(d.enqueueDependent),
	}
	if o.sink != nil {
		engineOpts = append(engineOpts, WithEngineEventSink(o.sink))
	}
	engine, err := NewEngine(st, rulebook, cfg.PublicGraph, logger, metrics, engineOpts...)
	if err != nil {
		return nil, err
	}
	d.engine = engine

	queueOpts := []QueueOption{}
	if o.sink != nil {
		queueOpts = append(queueOpts, WithQueueEventSink(o.sink))
	}
	if o.registry != nil {
		queueOpts = append(queueOpts, WithQueueMetricsRegistry(o.registry))
	}
	queue, err := NewQueue(cfg.Queue, d.process, logger, metrics, queueOpts...)
	if err != nil {
		return nil, err
	}
	d.queue = queue

	return d, nil
}

// process gates one job on the prerequisite, then routes the subject
func (d *Dispatcher) process(ctx context.Context, subject string) error {
	if err := d.prereq.Wait(ctx); err != nil {
		return err
	}
	return d.engine.Process(ctx, subject)
}

// enqueueDependent feeds a dependent subject discovered mid-dispatch back
// into the queue. Coalescing and queue-full are both fine to ignore here: an
// in-flight job will see the moved data, and a full queue means the subject
// is picked up by a later delta.
func (d *Dispatcher) enqueueDependent(subject string) {
	if _, err := d.queue.EnqueueIfAbsent(subject); err != nil {
		d.logger.Warn("could not re-enqueue dependent subject",
			"subject", subject,
			"error", err)
	}
}

// Dispatch enqueues each subject, coalescing duplicates, and returns the
// number of newly accepted jobs
func (d *Dispatcher) Dispatch(subjects []string) (int, error) {
	accepted := 0
	for _, subject := range subjects {
		ok, err := d.queue.EnqueueIfAbsent(subject)
		if err != nil {
			return accepted, errors.Wrap(err, "Dispatcher", "Dispatch", "enqueue subject")
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

// Start launches the prerequisite poller and the queue workers
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.prereq.Start(ctx); err != nil {
		return err
	}
	if err := d.queue.Start(ctx); err != nil {
		return err
	}
	d.logger.Info("dispatcher started")
	return nil
}

// Stop drains the queue, waiting up to timeout for running jobs
func (d *Dispatcher) Stop(timeout time.Duration) error {
	if err := d.queue.Stop(timeout); err != nil {
		return err
	}
	d.logger.Info("dispatcher stopped")
	return nil
}

// Ready reports whether the prerequisite holds
func (d *Dispatcher) Ready() bool {
	return d.prereq.Satisfied()
}

// InFlight returns the number of subjects queued or running
func (d *Dispatcher) InFlight() int {
	return d.queue.InFlight()
}

// Stats returns queue worker statistics
func (d *Dispatcher) Stats() worker.PoolStats {
	return d.queue.Stats()
}
