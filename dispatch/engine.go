package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/rules"
	"github.com/lblod/contact-data-dispatcher-service/store"
)

// Engine routes one subject at a time: it classifies the subject by its
// declared types, applies every matching public and organization rule, and
// hands dependent subjects back for re-enqueuing. The engine never recurses;
// cascading happens through the queue.
type Engine struct {
	store       Store
	rules       *rules.Rulebook
	publicGraph string
	logger      *slog.Logger
	metrics     *metric.Metrics
	events      EventSink

	// redispatch hands a dependent subject back to the queue
	redispatch func(subject string)
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithRedispatch wires the callback used to re-enqueue dependent subjects.
// Without it, cascading is disabled.
func WithRedispatch(fn func(subject string)) EngineOption {
	return func(e *Engine) {
		e.redispatch = fn
	}
}

// WithEngineEventSink streams move and redispatch events to a sink
func WithEngineEventSink(sink EventSink) EngineOption {
	return func(e *Engine) {
		if sink != nil {
			e.events = sink
		}
	}
}

// NewEngine creates a routing engine over a store and a rulebook
func NewEngine(st Store, rulebook *rules.Rulebook, publicGraph string, logger *slog.Logger, metrics *metric.Metrics, opts ...EngineOption) (*Engine, error) {
	if st == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Engine", "NewEngine", "store is required")
	}
	if rulebook == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Engine", "NewEngine", "rulebook is required")
	}
	if publicGraph == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Engine", "NewEngine", "public graph is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:       st,
		rules:       rulebook,
		publicGraph: publicGraph,
		logger:      logger,
		metrics:     metrics,
		events:      nopSink{},
		redispatch:  func(string) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Process dispatches a single subject. A failure anywhere in the pipeline
// aborts the subject's job, records an error alert in the store, and leaves
// already executed moves in place; moves are idempotent, so a later retry
// converges.
func (e *Engine) Process(ctx context.Context, subject string) error {
	publicRules, orgRules, err := e.classify(ctx, subject)
	if err != nil {
		return e.fail(ctx, subject, err)
	}
	if len(publicRules) == 0 && len(orgRules) == 0 {
		return nil
	}

	for _, rule := range publicRules {
		if err := e.dispatchPublic(ctx, subject, rule); err != nil {
			return e.fail(ctx, subject, err)
		}
	}

	for _, rule := range orgRules {
		if err := e.dispatchOrganization(ctx, subject, rule); err != nil {
			return e.fail(ctx, subject, err)
		}
	}

	return nil
}

// classify looks up the subject's declared types and returns the matching
// public and organization rules. Additional-filter evaluation happens later,
// at dispatch time.
func (e *Engine) classify(ctx context.Context, subject string) ([]rules.PublicRule, []rules.OrgRule, error) {
	types, err := e.store.TypesForSubject(ctx, subject)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Engine", "classify", "look up types")
	}

	publicRules := e.rules.MatchPublic(types)
	orgRules := e.rules.MatchOrganization(types)
	if len(publicRules) == 0 && len(orgRules) == 0 {
		e.logger.Debug("subject matches no dispatch rule, skipping",
			"subject", subject,
			"types", types)
	}
	return publicRules, orgRules, nil
}

// dispatchPublic moves a subject to the public graph and re-enqueues its
// dependents per the rule's redispatch triggers
func (e *Engine) dispatchPublic(ctx context.Context, subject string, rule rules.PublicRule) error {
	ok, err := e.store.MatchesFilter(ctx, subject, rule)
	if err != nil {
		return errors.Wrap(err, "Engine", "dispatchPublic", "evaluate filter")
	}
	if !ok {
		e.logger.Debug("subject does not pass rule filter",
			"subject", subject,
			"type", rule.Type)
		return nil
	}

	if err := e.moveSubject(ctx, subject, []string{e.publicGraph}, "public"); err != nil {
		return err
	}

	for _, trigger := range rule.RedispatchTriggers {
		dependents, err := e.store.SubjectsToRedispatch(ctx, subject, trigger)
		if err != nil {
			return errors.Wrap(err, "Engine", "dispatchPublic", "discover dependents")
		}
		for _, dependent := range dependents {
			if dependent == subject {
				continue
			}
			e.logger.Info("re-enqueuing dependent subject",
				"subject", dependent,
				"cause", subject)
			if e.metrics != nil {
				e.metrics.SubjectsRedispatched.Inc()
			}
			e.events.Publish(Event{
				Type:      EventRedispatched,
				Subject:   dependent,
				Detail:    subject,
				Timestamp: time.Now(),
			})
			e.redispatch(dependent)
		}
	}

	return nil
}

// dispatchOrganization resolves the owning organization, derives its
// destination graphs, and moves every related subject there. The sweep covers
// all organization-scoped types, not just the triggering one, so a delta on a
// single entity also pulls its siblings into the right graphs. The triggering
// subject is part of the related set when it still has ingested data.
func (e *Engine) dispatchOrganization(ctx context.Context, subject string, rule rules.OrgRule) error {
	organization, err := e.store.OrganizationForSubject(ctx, subject, rule)
	if err != nil {
		return errors.Wrap(err, "Engine", "dispatchOrganization", "resolve organization")
	}
	if organization == "" {
		// The owning organization may arrive in a later delta; a trigger on
		// another rule will pick this subject up again.
		e.logger.Warn("no organization found for subject, leaving in place",
			"subject", subject,
			"type", rule.Type)
		return nil
	}

	destinationGraphs, err := e.store.DestinationGraphs(ctx, organization)
	if err != nil {
		return errors.Wrap(err, "Engine", "dispatchOrganization", "derive destination graphs")
	}
	if len(destinationGraphs) == 0 {
		// Without graphs there is nothing to move; a move with an empty
		// destination set would only retract the subject's data.
		e.logger.Warn("organization has no destination graphs, leaving subject in place",
			"subject", subject,
			"organization", organization)
		return nil
	}

	var related []string
	seen := make(map[string]struct{})
	for _, orgRule := range e.rules.Organization {
		subjects, err := e.store.RelatedSubjectsForOrganization(ctx, organization, orgRule, destinationGraphs)
		if err != nil {
			return errors.Wrap(err, "Engine", "dispatchOrganization", "find related subjects")
		}
		for _, s := range subjects {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			related = append(related, s)
		}
	}

	e.logger.Info("dispatching to organization graphs",
		"subject", subject,
		"organization", organization,
		"graphs", len(destinationGraphs),
		"related_subjects", len(related))

	for _, s := range related {
		if err := e.moveSubject(ctx, s, destinationGraphs, "organization"); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) moveSubject(ctx context.Context, subject string, destinationGraphs []string, ruleKind string) error {
	start := time.Now()
	if err := e.store.MoveSubjectData(ctx, subject, destinationGraphs); err != nil {
		return errors.Wrap(err, "Engine", "moveSubject", "move subject data")
	}
	if e.metrics != nil {
		e.metrics.MovesExecuted.WithLabelValues(ruleKind).Inc()
		e.metrics.ProcessingDuration.WithLabelValues("move").Observe(time.Since(start).Seconds())
	}
	e.events.Publish(Event{
		Type:      EventMoved,
		Subject:   subject,
		Rule:      ruleKind,
		Timestamp: time.Now(),
	})
	return nil
}

// fail records an error alert for operational follow-up and returns the
// original error. Recording is best effort.
func (e *Engine) fail(ctx context.Context, subject string, err error) error {
	e.store.RecordError(ctx, store.Alert{
		Message:   fmt.Sprintf("Something went wrong while dispatching data for subject %s", subject),
		Detail:    err.Error(),
		Reference: subject,
	})
	return err
}
