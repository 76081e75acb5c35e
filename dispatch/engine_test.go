package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblod/contact-data-dispatcher-service/rules"
)

func newTestEngine(t *testing.T, st Store, opts ...EngineOption) *Engine {
	t.Helper()
	engine, err := NewEngine(st, testRulebook(), publicGraph, nil, nil, opts...)
	require.NoError(t, err)
	return engine
}

func TestEngine_UnmatchedSubjectIsSkipped(t *testing.T) {
	st := newFakeStore()
	st.types["http://example.org/s"] = []string{"http://example.org/Unknown"}
	engine := newTestEngine(t, st)

	err := engine.Process(context.Background(), "http://example.org/s")
	require.NoError(t, err)
	assert.Zero(t, st.moveCount())
}

func TestEngine_PublicDispatch(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/contact/1"
	st.types[subject] = []string{contactPointType}

	engine := newTestEngine(t, st)
	require.NoError(t, engine.Process(context.Background(), subject))

	require.Len(t, st.moves, 1)
	assert.Equal(t, subject, st.moves[0].subject)
	assert.Equal(t, []string{publicGraph}, st.moves[0].destinations)
}

func TestEngine_PublicDispatch_FilterBlocksMove(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/contact/1"
	st.types[subject] = []string{contactPointType}
	st.filterFail[subject] = true

	engine := newTestEngine(t, st)
	require.NoError(t, engine.Process(context.Background(), subject))
	assert.Zero(t, st.moveCount())
}

func TestEngine_PublicDispatch_RedispatchesDependents(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/contact/1"
	dependent := "http://example.org/site/1"
	st.types[subject] = []string{contactPointType}
	st.dependents[subject+"|"+contactTrigger] = []string{dependent, subject}

	var redispatched []string
	engine := newTestEngine(t, st, WithRedispatch(func(s string) {
		redispatched = append(redispatched, s)
	}))

	require.NoError(t, engine.Process(context.Background(), subject))

	// the subject itself is never handed back to the queue
	assert.Equal(t, []string{dependent}, redispatched)
}

func TestEngine_OrganizationDispatch(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/site/1"
	org := "http://data.lblod.info/id/bestuurseenheden/1"
	graphs := []string{"http://mu.semte.ch/graphs/organizations/abc-123"}

	st.types[subject] = []string{siteType}
	st.orgs[subject] = org
	st.destGraphs[org] = graphs
	st.related[org] = []string{subject, "http://example.org/site/2"}

	engine := newTestEngine(t, st)
	require.NoError(t, engine.Process(context.Background(), subject))

	require.Len(t, st.moves, 2)
	for _, m := range st.moves {
		assert.Equal(t, graphs, m.destinations)
	}
	assert.ElementsMatch(t, []string{subject, "http://example.org/site/2"}, st.movedSubjects())
}

func TestEngine_OrganizationDispatch_SweepsAllConfiguredTypes(t *testing.T) {
	postType := "http://www.w3.org/ns/org#Post"
	rulebook := testRulebook()
	rulebook.Organization = append(rulebook.Organization, rules.OrgRule{
		Type:               postType,
		PathToOrganization: "?organization <http://www.w3.org/ns/org#hasPost> ?subject.",
	})

	st := newFakeStore()
	subject := "http://example.org/site/1"
	org := "http://data.lblod.info/id/bestuurseenheden/1"
	st.types[subject] = []string{siteType}
	st.orgs[subject] = org
	st.destGraphs[org] = []string{"http://mu.semte.ch/graphs/organizations/abc-123"}
	st.related[org] = []string{subject}

	engine, err := NewEngine(st, rulebook, publicGraph, nil, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Process(context.Background(), subject))

	// a delta on one type pulls entities of every organization-scoped type
	// along, and a subject surfacing under several rules moves only once
	assert.ElementsMatch(t, []string{siteType, postType}, st.sweptRuleTypes())
	assert.Equal(t, 1, st.moveCount())
}

func TestEngine_OrganizationDispatch_NoDestinationGraphsLeavesInPlace(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/site/1"
	org := "http://data.lblod.info/id/bestuurseenheden/1"
	st.types[subject] = []string{siteType}
	st.orgs[subject] = org
	st.related[org] = []string{subject}

	engine := newTestEngine(t, st)
	require.NoError(t, engine.Process(context.Background(), subject))

	// without destination graphs a move would only retract the subject's data
	assert.Zero(t, st.moveCount())
	assert.Zero(t, st.alertCount())
	assert.Empty(t, st.sweptRuleTypes())
}

func TestEngine_OrganizationDispatch_NoOrganizationLeavesInPlace(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/site/1"
	st.types[subject] = []string{siteType}

	engine := newTestEngine(t, st)
	require.NoError(t, engine.Process(context.Background(), subject))
	assert.Zero(t, st.moveCount())
	assert.Zero(t, st.alertCount())
}

func TestEngine_FailureRecordsAlert(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/contact/1"
	st.types[subject] = []string{contactPointType}
	st.moveErr = fmt.Errorf("store down")

	engine := newTestEngine(t, st)
	err := engine.Process(context.Background(), subject)
	require.Error(t, err)

	require.Len(t, st.alerts, 1)
	assert.Equal(t, subject, st.alerts[0].Reference)
	assert.Contains(t, st.alerts[0].Detail, "store down")
}

func TestEngine_EmitsMoveEvents(t *testing.T) {
	st := newFakeStore()
	subject := "http://example.org/contact/1"
	st.types[subject] = []string{contactPointType}

	sink := &collectSink{}
	engine := newTestEngine(t, st, WithEngineEventSink(sink))
	require.NoError(t, engine.Process(context.Background(), subject))

	moved := sink.byType(EventMoved)
	require.Len(t, moved, 1)
	assert.Equal(t, subject, moved[0].Subject)
	assert.Equal(t, "public", moved[0].Rule)
}
