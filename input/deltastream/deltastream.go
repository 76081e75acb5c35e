// Package deltastream provides an optional NATS-based source of delta
// notifications, for deployments where the delta notifier publishes to a
// message broker instead of calling the HTTP gateway.
package deltastream

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lblod/contact-data-dispatcher-service/delta"
	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/natsclient"
)

// Dispatcher is the intake surface the source feeds
type Dispatcher interface {
	Dispatch(subjects []string) (int, error)
}

// Config holds the delta stream settings
type Config struct {
	// Subject is the NATS subject delta notifications arrive on
	Subject string `yaml:"subject"`
}

// Validate checks the delta stream configuration
func (c Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"subject is required")
	}
	return nil
}

// Source subscribes to delta notifications on NATS and feeds their subjects
// into the dispatcher. Delivery is fire-and-forget: a delta that cannot be
// enqueued is dropped and picked up by a later notification.
type Source struct {
	config     Config
	client     *natsclient.Client
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metric.Metrics

	running atomic.Bool

	messagesReceived atomic.Int64
	messagesDropped  atomic.Int64
}

// NewSource creates a delta stream source over an existing NATS client
func NewSource(config Config, client *natsclient.Client, dispatcher Dispatcher, logger *slog.Logger, metrics *metric.Metrics) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Source", "NewSource",
			"NATS client is required")
	}
	if dispatcher == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Source", "NewSource",
			"dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		config:     config,
		client:     client,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Start subscribes to the delta subject
func (s *Source) Start(_ context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Source", "Start",
			"source already running")
	}

	if _, err := s.client.Subscribe(s.config.Subject, s.handleMessage); err != nil {
		s.running.Store(false)
		return errors.Wrap(err, "Source", "Start", "subscribe to delta subject")
	}

	s.logger.Info("delta stream started", "subject", s.config.Subject)
	return nil
}

// Stop marks the source stopped; the subscription itself is drained when the
// NATS client closes
func (s *Source) Stop(_ time.Duration) error {
	s.running.Store(false)
	return nil
}

// handleMessage decodes one delta notification and enqueues its subjects
func (s *Source) handleMessage(msg *nats.Msg) {
	s.messagesReceived.Add(1)
	if s.metrics != nil {
		s.metrics.DeltasReceived.WithLabelValues("nats").Inc()
	}

	message, err := delta.Decode(msg.Data)
	if err != nil {
		s.messagesDropped.Add(1)
		s.logger.Warn("dropping malformed delta message",
			"subject", msg.Subject,
			"error", err)
		return
	}

	subjects := message.Subjects()
	accepted, err := s.dispatcher.Dispatch(subjects)
	if err != nil {
		s.messagesDropped.Add(1)
		s.logger.Warn("dropping delta, dispatch queue full",
			"subjects", len(subjects),
			"error", err)
		return
	}

	s.logger.Debug("delta accepted from stream",
		"subjects", len(subjects),
		"accepted", accepted)
}

// Stats reports message counts
func (s *Source) Stats() (received, dropped int64) {
	return s.messagesReceived.Load(), s.messagesDropped.Load()
}
