package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/pkg/retry"
)

// CheckFunc probes whether the dispatch prerequisite currently holds
type CheckFunc func(ctx context.Context) (bool, error)

// Prerequisite gates job processing on an external readiness condition, such
// as the initial sync having completed. A single background poller probes the
// condition on a backoff schedule; once it holds, it holds for the lifetime of
// the process and all waiters are released.
type Prerequisite struct {
	check   CheckFunc
	backoff retry.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	started atomic.Bool
	done    chan struct{}
}

// NewPrerequisite creates an unsatisfied prerequisite around a check
func NewPrerequisite(check CheckFunc, backoff retry.Config, logger *slog.Logger, metrics *metric.Metrics) *Prerequisite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prerequisite{
		check:   check,
		backoff: backoff,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start launches the background poller. The poller keeps probing through
// check failures; only context cancellation stops it.
func (p *Prerequisite) Start(ctx context.Context) error {
	if p.check == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Prerequisite", "Start", "check function is required")
	}
	if !p.started.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Prerequisite", "Start", "already polling")
	}

	go p.poll(ctx)
	return nil
}

func (p *Prerequisite) poll(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		ok, err := p.check(ctx)
		if err != nil {
			p.logger.Warn("prerequisite check failed, retrying",
				"error", err,
				"attempt", attempt+1)
		} else if ok {
			p.logger.Info("prerequisite satisfied, dispatching unblocked")
			if p.metrics != nil {
				p.metrics.PrerequisiteSatisfied.Set(1)
			}
			close(p.done)
			return
		} else {
			p.logger.Info("prerequisite not satisfied yet",
				"attempt", attempt+1)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("prerequisite polling stopped", "reason", ctx.Err())
			return
		case <-time.After(p.backoff.DelayFor(attempt)):
		}
	}
}

// Satisfied reports whether the prerequisite has been observed to hold
func (p *Prerequisite) Satisfied() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the prerequisite holds or the context is cancelled.
// Returns immediately once satisfied.
func (p *Prerequisite) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Prerequisite", "Wait", "wait interrupted")
	}
}
