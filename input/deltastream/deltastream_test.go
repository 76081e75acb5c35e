package deltastream

import (
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblod/contact-data-dispatcher-service/natsclient"
	"github.com/lblod/contact-data-dispatcher-service/pkg/worker"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	subjects []string
	err      error
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

func newTestSource(t *testing.T, d Dispatcher) *Source {
	t.Helper()
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	source, err := NewSource(Config{Subject: "delta.notifications"}, client, d, nil, nil)
	require.NoError(t, err)
	return source
}

func TestNewSource_Validation(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = NewSource(Config{}, client, &fakeDispatcher{}, nil, nil)
	assert.Error(t, err)

	_, err = NewSource(Config{Subject: "delta.notifications"}, nil, &fakeDispatcher{}, nil, nil)
	assert.Error(t, err)

	_, err = NewSource(Config{Subject: "delta.notifications"}, client, nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleMessage_DispatchesSubjects(t *testing.T) {
	d := &fakeDispatcher{}
	source := newTestSource(t, d)

	payload := `[
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
	source.handleMessage(&nats.Msg{Subject: "delta.notifications", Data: []byte(payload)})

	assert.Equal(t, []string{"http://example.org/contact/1"}, d.subjects)

	received, dropped := source.Stats()
	assert.EqualValues(t, 1, received)
	assert.Zero(t, dropped)
}

func TestHandleMessage_DropsMalformedPayload(t *testing.T) {
	d := &fakeDispatcher{}
	source := newTestSource(t, d)

	source.handleMessage(&nats.Msg{Subject: "delta.notifications", Data: []byte("not json")})

	assert.Empty(t, d.subjects)
	_, dropped := source.Stats()
	assert.EqualValues(t, 1, dropped)
}

func TestHandleMessage_DropsOnQueueFull(t *testing.T) {
	d := &fakeDispatcher{err: worker.ErrQueueFull}
	source := newTestSource(t, d)

	payload := `[{"inserts": [{"subject": {"type": "uri", "value": "http://example.org/s"},
	  "predicate": {"type": "uri", "value": "http://example.org/p"},
	  "object": {"type": "uri", "value": "http://example.org/o"}}], "deletes": []}]`
	source.handleMessage(&nats.Msg{Subject: "delta.notifications", Data: []byte(payload)})

	_, dropped := source.Stats()
	assert.EqualValues(t, 1, dropped)
}
