package sparql

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblod/contact-data-dispatcher-service/errors"
	"github.com/lblod/contact-data-dispatcher-service/pkg/retry"
)

const selectResponse = `{
  "head": {"vars": ["type"]},
  "results": {"bindings": [
    {"type": {"type": "uri", "value": "http://www.w3.org/ns/org#Site"}},
    {"type": {"type": "uri", "value": "http://www.w3.org/ns/locn#Address"}}
  ]}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		QueryEndpoint: server.URL,
		Timeout:       5 * time.Second,
		Retry:         retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return client, server
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestSelect(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostFormValue("query")
		assert.Equal(t, "application/sparql-results+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/sparql-results+json")
		_, _ = w.Write([]byte(selectResponse))
	})

	results, err := client.Select(context.Background(), "SELECT DISTINCT ?type { <http://x> a ?type }")
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "SELECT DISTINCT ?type")

	types := results.Values("type")
	assert.Equal(t, []string{
		"http://www.w3.org/ns/org#Site",
		"http://www.w3.org/ns/locn#Address",
	}, types)

	first, ok := results.First("type")
	assert.True(t, ok)
	assert.Equal(t, "http://www.w3.org/ns/org#Site", first)

	_, ok = results.First("missing")
	assert.False(t, ok)
}

func TestAsk(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"head": {}, "boolean": true}`))
	})

	answer, err := client.Ask(context.Background(), "ASK { <http://x> a <http://t> }")
	require.NoError(t, err)
	assert.True(t, answer)
}

func TestAskMissingBoolean(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"head": {}, "results": {"bindings": []}}`))
	})

	_, err := client.Ask(context.Background(), "ASK {}")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUpdate(t *testing.T) {
	var gotUpdate string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotUpdate = r.PostFormValue("update")
		w.WriteHeader(http.StatusOK)
	})

	err := client.Update(context.Background(), "INSERT DATA { GRAPH <http://g> { <http://s> <http://p> <http://o> } }")
	require.NoError(t, err)
	assert.Contains(t, gotUpdate, "INSERT DATA")
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"head": {}, "boolean": false}`))
	})

	answer, err := client.Ask(context.Background(), "ASK {}")
	require.NoError(t, err)
	assert.False(t, answer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("syntax error near token"))
	})

	_, err := client.Select(context.Background(), "SELEC broken")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestMalformedResults(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := client.Select(context.Background(), "SELECT * {}")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUpdateEndpointFallsBackToQueryEndpoint(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	assert.Equal(t, server.URL, client.updateEndpoint)
}
