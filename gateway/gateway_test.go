package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblod/contact-data-dispatcher-service/pkg/worker"
)

// fakeDispatcher records dispatched subjects
type fakeDispatcher struct {
	mu       sync.Mutex
	subjects []string
	err      error
	ready    bool
}

func (f *fakeDispatcher) Dispatch(subjects []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.subjects = append(f.subjects, subjects...)
	return len(subjects), nil
}

func (f *fakeDispatcher) Ready() bool    { return f.ready }
func (f *fakeDispatcher) InFlight() int  { return 0 }
func (f *fakeDispatcher) Stats() worker.PoolStats {
	return worker.PoolStats{Workers: 2, QueueSize: 100}
}

func (f *fakeDispatcher) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func newTestGateway(t *testing.T, d Dispatcher) *Gateway {
	t.Helper()
	g, err := NewGateway(Config{Port: 8080}, d, nil, nil, nil)
	require.NoError(t, err)
	return g
}

const deltaPayload = `[
  {
    "inserts": [
      {
        "subject": {"type": "uri", "value": "http://example.org/contact/1"},
        "predicate": {"type": "uri", "value": "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"},
        "object": {"type": "uri", "value": "http://schema.org/ContactPoint"}
      }
    ],
    "deletes": []
  }
]`

func TestGateway_ConfigValidation(t *testing.T) {
	_, err := NewGateway(Config{Port: 0}, &fakeDispatcher{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewGateway(Config{Port: 8080}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestGateway_DeltaIntake(t *testing.T) {
	d := &fakeDispatcher{}
	g := newTestGateway(t, d)

	req := httptest.NewRequest(http.MethodPost, "/delta", strings.NewReader(deltaPayload))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"http://example.org/contact/1"}, d.dispatched())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["subjects"])
	assert.EqualValues(t, 1, body["accepted"])
}

func TestGateway_DeltaRejectsMalformedPayload(t *testing.T) {
	d := &fakeDispatcher{}
	g := newTestGateway(t, d)

	req := httptest.NewRequest(http.MethodPost, "/delta", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, d.dispatched())
}

func TestGateway_DeltaRejectsWrongMethod(t *testing.T) {
	g := newTestGateway(t, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/delta", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGateway_DeltaRejectsOversizedBody(t *testing.T) {
	d := &fakeDispatcher{}
	g, err := NewGateway(Config{Port: 8080, MaxRequestSize: 16}, d, nil, nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/delta", bytes.NewReader(make([]byte, 64)))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGateway_DeltaQueueFull(t *testing.T) {
	d := &fakeDispatcher{err: worker.ErrQueueFull}
	g := newTestGateway(t, d)

	req := httptest.NewRequest(http.MethodPost, "/delta", strings.NewReader(deltaPayload))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGateway_Health(t *testing.T) {
	d := &fakeDispatcher{ready: true}
	g := newTestGateway(t, d)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "up", body["status"])
	assert.Equal(t, true, body["ready"])
}

func TestGateway_Root(t *testing.T) {
	g := newTestGateway(t, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "contact-data-dispatcher-service")
}

func TestGateway_CORSPreflight(t *testing.T) {
	g, err := NewGateway(Config{
		Port:        8080,
		EnableCORS:  true,
		CORSOrigins: []string{"*"},
	}, &fakeDispatcher{}, nil, nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/delta", nil)
	req.Header.Set("Origin", "http://example.org")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
