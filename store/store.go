// Package store implements the dispatcher's access layer to the remote
// triplestore: type lookups, organization resolution, graph moves, redispatch
// discovery, readiness checks and error records. All pattern fragments coming
// from the rulebook are passed through opaquely; this package only composes
// them into protocol requests.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/rules"
	"github.com/lblod/contact-data-dispatcher-service/sparql"
	"github.com/lblod/contact-data-dispatcher-service/vocabulary"
)

// Config describes the graph topology the dispatcher operates on
type Config struct {
	// IngestGraph is the canonical graph holding freshly received data
	IngestGraph string
	// LandingZoneGraphs are additional protected transient graphs never
	// touched by a move
	LandingZoneGraphs []string
	// PublicGraph receives publicly dispatched data
	PublicGraph string
	// ErrorGraph receives error records
	ErrorGraph string
	// OrgGraphPrefix is the namespace destination graph URIs are derived
	// under, e.g. "http://mu.semte.ch/graphs/organizations/"
	OrgGraphPrefix string
	// CreatorURI identifies this service in error records
	CreatorURI string
	// SyncOperations are the job operation URIs whose successful completion
	// gates dispatching
	SyncOperations []string
}

// Validate checks required configuration
func (c Config) Validate() error {
	if c.IngestGraph == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "ingest graph is required")
	}
	if c.PublicGraph == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "public graph is required")
	}
	if c.OrgGraphPrefix == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "organization graph prefix is required")
	}
	return nil
}

// Alert is an error record destined for the error graph
type Alert struct {
	Message   string
	Detail    string
	Reference string
}

// Client executes the dispatcher's store operations
type Client struct {
	exec    sparql.Executor
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewClient creates a store client on top of a SPARQL executor
func NewClient(exec sparql.Executor, cfg Config, logger *slog.Logger, metrics *metric.Metrics) (*Client, error) {
	if exec == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Client", "NewClient", "executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		exec:    exec,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// observe records duration and failure metrics for one store round trip
func (c *Client) observe(operation string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.StoreRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.StoreErrors.WithLabelValues(operation).Inc()
	}
}

// TypesForSubject lists the distinct declared types of a subject
func (c *Client) TypesForSubject(ctx context.Context, subject string) (types []string, err error) {
	defer func(start time.Time) { c.observe("types", start, err) }(time.Now())

	results, err := c.exec.Select(ctx, typesQuery(subject))
	if err != nil {
		return nil, errors.Wrap(err, "Store", "TypesForSubject", "query types")
	}
	return results.Values("type"), nil
}

// MatchesFilter reports whether a public rule's additional filter holds for
// the subject. A rule without a filter always matches.
func (c *Client) MatchesFilter(ctx context.Context, subject string, rule rules.PublicRule) (ok bool, err error) {
	if rule.AdditionalFilter == "" {
		return true, nil
	}

	defer func(start time.Time) { c.observe("filter", start, err) }(time.Now())

	ok, err = c.exec.Ask(ctx, filterQuery(subject, rule))
	if err != nil {
		return false, errors.Wrap(err, "Store", "MatchesFilter", "evaluate filter")
	}
	return ok, nil
}

// OrganizationForSubject resolves the organization owning a subject via the
// rule's path. Returns "" when no organization is reachable. When several
// organizations match, the first binding is taken.
func (c *Client) OrganizationForSubject(ctx context.Context, subject string, rule rules.OrgRule) (org string, err error) {
	defer func(start time.Time) { c.observe("organization", start, err) }(time.Now())

	results, err := c.exec.Select(ctx, organizationQuery(subject, rule))
	if err != nil {
		return "", errors.Wrap(err, "Store", "OrganizationForSubject", "resolve organization")
	}

	org, _ = results.First("organization")
	return org, nil
}

// DestinationGraphs derives the destination graph URIs for an organization
// from its stored identifier. An organization without an identifier yields an
// empty set, meaning nothing to move. Graphs are recomputed per dispatch to
// avoid staleness.
func (c *Client) DestinationGraphs(ctx context.Context, organization string) (graphs []string, err error) {
	defer func(start time.Time) { c.observe("destination_graphs", start, err) }(time.Now())

	results, err := c.exec.Select(ctx, destinationGraphsQuery(organization, c.cfg.OrgGraphPrefix))
	if err != nil {
		return nil, errors.Wrap(err, "Store", "DestinationGraphs", "derive graphs")
	}
	return results.Values("graph"), nil
}

// RelatedSubjectsForOrganization finds every subject of the rule's type linked
// to the organization that needs moving: mis-placed, newly ingested, or stale.
func (c *Client) RelatedSubjectsForOrganization(
	ctx context.Context,
	organization string,
	rule rules.OrgRule,
	destinationGraphs []string,
) (subjects []string, err error) {
	defer func(start time.Time) { c.observe("related_subjects", start, err) }(time.Now())

	q := relatedSubjectsQuery(organization, rule, destinationGraphs, c.cfg.IngestGraph, c.cfg.LandingZoneGraphs)
	results, err := c.exec.Select(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "Store", "RelatedSubjectsForOrganization", "query related subjects")
	}
	return results.Values("subject"), nil
}

// SubjectsToRedispatch finds subjects related to an ingested subject via a
// trigger pattern that still have data in the ingest graph
func (c *Client) SubjectsToRedispatch(ctx context.Context, ingestedSubject, trigger string) (subjects []string, err error) {
	defer func(start time.Time) { c.observe("redispatch", start, err) }(time.Now())

	results, err := c.exec.Select(ctx, redispatchQuery(ingestedSubject, trigger, c.cfg.IngestGraph))
	if err != nil {
		return nil, errors.Wrap(err, "Store", "SubjectsToRedispatch", "query dependents")
	}
	return results.Values("subject"), nil
}

// MoveSubjectData retracts a subject's triples from every graph outside the
// protected set and copies its ingest-graph triples into each destination
// graph. The two updates are issued sequentially, not atomically; per-subject
// serialization is the caller's responsibility. An empty destination set is
// legal and means retract-only.
func (c *Client) MoveSubjectData(ctx context.Context, subject string, destinationGraphs []string) (err error) {
	defer func(start time.Time) { c.observe("move", start, err) }(time.Now())

	if err = c.exec.Update(ctx, moveDeleteQuery(subject, c.cfg.IngestGraph, c.cfg.LandingZoneGraphs)); err != nil {
		return errors.Wrap(err, "Store", "MoveSubjectData", "delete stray placements")
	}

	if len(destinationGraphs) == 0 {
		return nil
	}

	if err = c.exec.Update(ctx, moveInsertQuery(subject, destinationGraphs, c.cfg.IngestGraph)); err != nil {
		return errors.Wrap(err, "Store", "MoveSubjectData", "insert into destinations")
	}

	return nil
}

// InitialSyncDone reports whether every configured sync operation has a
// successful job record in the store
func (c *Client) InitialSyncDone(ctx context.Context) (done bool, err error) {
	defer func(start time.Time) { c.observe("sync_status", start, err) }(time.Now())

	for _, operation := range c.cfg.SyncOperations {
		results, err := c.exec.Select(ctx, syncStatusQuery(operation))
		if err != nil {
			return false, errors.Wrap(err, "Store", "InitialSyncDone", "query job status")
		}
		if len(results.Bindings()) == 0 {
			c.logger.Info("initial sync not done yet", "operation", operation)
			return false, nil
		}
		c.logger.Debug("initial sync done", "operation", operation)
	}
	return true, nil
}

// RecordError stores an error alert for operational visibility. Recording is
// fire-and-forget: a failure to record is logged locally and swallowed.
func (c *Client) RecordError(ctx context.Context, alert Alert) {
	if alert.Message == "" {
		c.logger.Warn("refusing to record error alert without a message")
		return
	}

	id := uuid.New().String()
	uri := vocabulary.ErrorBase + id

	q := errorInsertQuery(alert, id, uri, c.cfg.ErrorGraph, c.cfg.CreatorURI, time.Now())
	if err := c.exec.Update(ctx, q); err != nil {
		c.logger.Error("failed to record error alert",
			"error", err,
			"message", alert.Message)
	}
}

// BulkDispatchPublic copies every ingested subject matching a public rule to
// the public graph in a single update. Used by the initial-dispatch
// maintenance mode against a direct database endpoint.
func (c *Client) BulkDispatchPublic(ctx context.Context, rule rules.PublicRule) (err error) {
	defer func(start time.Time) { c.observe("bulk_public", start, err) }(time.Now())

	if err = c.exec.Update(ctx, bulkPublicQuery(rule, c.cfg.PublicGraph, c.cfg.IngestGraph)); err != nil {
		return errors.Wrap(err, "Store", "BulkDispatchPublic", "bulk insert")
	}
	return nil
}

// BulkDispatchOrg copies every ingested subject matching an organization rule
// into its organization graph in a single update
func (c *Client) BulkDispatchOrg(ctx context.Context, rule rules.OrgRule) (err error) {
	defer func(start time.Time) { c.observe("bulk_org", start, err) }(time.Now())

	if err = c.exec.Update(ctx, bulkOrgQuery(rule, c.cfg.IngestGraph, c.cfg.OrgGraphPrefix)); err != nil {
		return errors.Wrap(err, "Store", "BulkDispatchOrg", "bulk insert")
	}
	return nil
}
