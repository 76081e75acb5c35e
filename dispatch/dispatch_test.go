package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lblod/contact-data-dispatcher-service/rules"
	"github.com/lblod/contact-data-dispatcher-service/store"
)

// fakeStore is a concurrency-safe in-memory stand-in for the store client
type fakeStore struct {
	mu sync.Mutex

	types      map[string][]string
	filterFail map[string]bool
	orgs       map[string]string
	destGraphs map[string][]string
	related    map[string][]string // organization -> subjects needing a move
	dependents map[string][]string // subject|trigger -> dependents

	moves            []move
	alerts           []store.Alert
	relatedRuleTypes []string // rule types the related-subject sweep was asked about

	typesErr error
	moveErr  error
}

type move struct {
	subject      string
	destinations []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		types:      make(map[string][]string),
		filterFail: make(map[string]bool),
		orgs:       make(map[string]string),
		destGraphs: make(map[string][]string),
		related:    make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

func (f *fakeStore) TypesForSubject(_ context.Context, subject string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typesErr != nil {
		return nil, f.typesErr
	}
	return f.types[subject], nil
}

func (f *fakeStore) MatchesFilter(_ context.Context, subject string, _ rules.PublicRule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.filterFail[subject], nil
}

func (f *fakeStore) OrganizationForSubject(_ context.Context, subject string, _ rules.OrgRule) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orgs[subject], nil
}

func (f *fakeStore) DestinationGraphs(_ context.Context, organization string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destGraphs[organization], nil
}

func (f *fakeStore) RelatedSubjectsForOrganization(_ context.Context, organization string, rule rules.OrgRule, _ []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relatedRuleTypes = append(f.relatedRuleTypes, rule.Type)
	return f.related[organization], nil
}

func (f *fakeStore) SubjectsToRedispatch(_ context.Context, ingestedSubject, trigger string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dependents[ingestedSubject+"|"+trigger], nil
}

func (f *fakeStore) MoveSubjectData(_ context.Context, subject string, destinationGraphs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, move{subject: subject, destinations: destinationGraphs})
	return nil
}

func (f *fakeStore) RecordError(_ context.Context, alert store.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
}

func (f *fakeStore) movedSubjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	subjects := make([]string, len(f.moves))
	for i, m := range f.moves {
		subjects[i] = m.subject
	}
	return subjects
}

func (f *fakeStore) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moves)
}

func (f *fakeStore) sweptRuleTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.relatedRuleTypes...)
}

func (f *fakeStore) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

const (
	publicGraph      = "http://mu.semte.ch/graphs/public"
	contactPointType = "http://schema.org/ContactPoint"
	siteType         = "http://www.w3.org/ns/org#Site"
	contactTrigger   = "?subject <http://schema.org/contactPoint> ?ingestedSubject."
)

func testRulebook() *rules.Rulebook {
	return &rules.Rulebook{
		Public: []rules.PublicRule{
			{
				Type:               contactPointType,
				RedispatchTriggers: []string{contactTrigger},
			},
		},
		Organization: []rules.OrgRule{
			{
				Type:               siteType,
				PathToOrganization: "?organization <http://www.w3.org/ns/org#hasSite> ?subject.",
			},
		},
	}
}

// collectSink gathers published events
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func subjectURI(n int) string {
	return fmt.Sprintf("http://example.org/subjects/%d", n)
}

func TestMultiSink_FansOutToEverySink(t *testing.T) {
	first := &collectSink{}
	second := &collectSink{}

	sink := MultiSink(first, nil, second)
	sink.Publish(Event{Type: EventMoved, Subject: subjectURI(1)})

	assert.Len(t, first.byType(EventMoved), 1)
	assert.Len(t, second.byType(EventMoved), 1)
}

func TestMultiSink_EmptyIsSafe(t *testing.T) {
	sink := MultiSink()
	assert.NotPanics(t, func() {
		sink.Publish(Event{Type: EventEnqueued, Subject: subjectURI(1)})
	})
}
