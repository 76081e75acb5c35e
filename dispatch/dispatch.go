// Package dispatch implements the reactive dispatching core: a deduplicating
// per-subject job queue, a prerequisite gate on the initial sync, and the
// routing engine that moves subjects between graphs and cascades to their
// dependents.
package dispatch

import (
	"context"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/rules"
	"github.com/lblod/contact-data-dispatcher-service/store"
)

// Store is the slice of the store client the dispatching core depends on
type Store interface {
	TypesForSubject(ctx context.Context, subject string) ([]string, error)
	MatchesFilter(ctx context.Context, subject string, rule rules.PublicRule) (bool, error)
	OrganizationForSubject(ctx context.Context, subject string, rule rules.OrgRule) (string, error)
	DestinationGraphs(ctx context.Context, organization string) ([]string, error)
	RelatedSubjectsForOrganization(ctx context.Context, organization string, rule rules.OrgRule, destinationGraphs []string) ([]string, error)
	SubjectsToRedispatch(ctx context.Context, ingestedSubject, trigger string) ([]string, error)
	MoveSubjectData(ctx context.Context, subject string, destinationGraphs []string) error
	RecordError(ctx context.Context, alert store.Alert)
}

// EventType classifies a dispatch lifecycle event
type EventType string

const (
	EventEnqueued     EventType = "enqueued"
	EventCoalesced    EventType = "coalesced"
	EventStarted      EventType = "started"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
	EventMoved        EventType = "moved"
	EventRedispatched EventType = "redispatched"
)

// Event describes one step in a subject's dispatch lifecycle
type Event struct {
	Type      EventType `json:"type"`
	Subject   string    `json:"subject"`
	Rule      string    `json:"rule,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives dispatch lifecycle events. Implementations must not
// block; slow consumers drop events.
type EventSink interface {
	Publish(event Event)
}

// nopSink discards events
type nopSink struct{}

func (nopSink) Publish(Event) {}

// MultiSink fans every event out to each sink in order, skipping nil sinks
func MultiSink(sinks ...EventSink) EventSink {
	combined := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			combined = append(combined, s)
		}
	}
	if len(combined) == 0 {
		return nopSink{}
	}
	if len(combined) == 1 {
		return combined[0]
	}
	return combined
}

type multiSink []EventSink

func (m multiSink) Publish(event Event) {
	for _, s := range m {
		s.Publish(event)
	}
}
