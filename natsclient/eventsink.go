package natsclient

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/lblod/contact-data-dispatcher-service/dispatch"
	"github.com/lblod/contact-data-dispatcher-service/errors"
)

// EventPublisher forwards dispatch lifecycle events onto a NATS subject so
// other services can follow the dispatcher's progress. Publishing is best
// effort: events raised while the connection is down are counted and dropped.
type EventPublisher struct {
	client  *Client
	subject string
	logger  *slog.Logger

	dropped atomic.Uint64
}

// NewEventPublisher creates a publisher for dispatch events
func NewEventPublisher(client *Client, subject string, logger *slog.Logger) (*EventPublisher, error) {
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "EventPublisher", "NewEventPublisher",
			"client is required")
	}
	if subject == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "EventPublisher", "NewEventPublisher",
			"subject is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		client:  client,
		subject: subject,
		logger:  logger,
	}, nil
}

// Publish marshals the event and sends it on the configured subject
func (p *EventPublisher) Publish(event dispatch.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("could not marshal dispatch event",
			"type", event.Type,
			"error", err)
		return
	}

	if err := p.client.Publish(p.subject, data); err != nil {
		p.dropped.Add(1)
		p.logger.Debug("dispatch event not published",
			"subject", p.subject,
			"error", err)
	}
}

// Dropped returns the number of events that could not be published
func (p *EventPublisher) Dropped() uint64 {
	return p.dropped.Load()
}
