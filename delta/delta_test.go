package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblod/contact-data-dispatcher-service/errors"
)

const samplePayload = `[
  {
    "inserts": [
      {
        "subject": {"type": "uri", "value": "http://data.example.org/sites/1"},
        "predicate": {"type": "uri", "value": "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"},
        "object": {"type": "uri", "value": "http://www.w3.org/ns/org#Site"}
      },
      {
        "subject": {"type": "uri", "value": "http://data.example.org/sites/1"},
        "predicate": {"type": "uri", "value": "http://www.w3.org/ns/org#siteAddress"},
        "object": {"type": "uri", "value": "http://data.example.org/contact-points/7"}
      }
    ],
    "deletes": [
      {
        "subject": {"type": "uri", "value": "http://data.example.org/addresses/2"},
        "predicate": {"type": "uri", "value": "http://www.w3.org/ns/locn#postCode"},
        "object": {"type": "literal", "value": "9000"}
      }
    ]
  },
  {
    "inserts": [
      {
        "subject": {"type": "uri", "value": "http://data.example.org/sites/1"},
        "predicate": {"type": "uri", "value": "http://purl.org/dc/terms/modified"},
        "object": {"type": "literal", "value": "2024-03-15T10:30:00Z", "datatype": "http://www.w3.org/2001/XMLSchema#dateTime"}
      }
    ],
    "deletes": []
  }
]`

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(samplePayload))
	require.NoError(t, err)
	require.Len(t, msg, 2)
	assert.Len(t, msg[0].Inserts, 2)
	assert.Len(t, msg[0].Deletes, 1)
	assert.Equal(t, "http://www.w3.org/ns/org#Site", msg[0].Inserts[0].Object.Value)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte(`{"not": "an array"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	// the decoder's cause is carried along for diagnosis
	assert.Contains(t, err.Error(), "cannot unmarshal object")
}

func TestSubjectsDistinct(t *testing.T) {
	msg, err := Decode([]byte(samplePayload))
	require.NoError(t, err)

	// sites/1 appears three times across two change-sets but is reported once;
	// deleted subjects count too
	assert.Equal(t, []string{
		"http://data.example.org/sites/1",
		"http://data.example.org/addresses/2",
	}, msg.Subjects())
}

func TestSubjectsSkipsBlankNodes(t *testing.T) {
	msg := Message{
		{
			Inserts: []Triple{
				{
					Subject:   Term{Type: "bnode", Value: "b0"},
					Predicate: Term{Type: "uri", Value: "http://example.org/p"},
					Object:    Term{Type: "literal", Value: "x"},
				},
				{
					Subject:   Term{Type: "uri", Value: "http://example.org/s"},
					Predicate: Term{Type: "uri", Value: "http://example.org/p"},
					Object:    Term{Type: "literal", Value: "y"},
				},
			},
		},
	}
	assert.Equal(t, []string{"http://example.org/s"}, msg.Subjects())
}

func TestSubjectsEmptyMessage(t *testing.T) {
	msg := Message{}
	assert.Empty(t, msg.Subjects())
}
