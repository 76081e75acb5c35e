// Package delta decodes change notifications from the delta producer into
// the set of affected subject URIs.
package delta

import (
	"encoding/json"
	"fmt"

	"github.com/lblod/contact-data-dispatcher-service/errors"
)

// Term represents one position of a changed triple
type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// Triple is a single inserted or deleted statement
type Triple struct {
	Subject   Term `json:"subject"`
	Predicate Term `json:"predicate"`
	Object    Term `json:"object"`
}

// ChangeSet groups the triples of one transaction
type ChangeSet struct {
	Inserts []Triple `json:"inserts"`
	Deletes []Triple `json:"deletes"`
}

// Message is a full delta notification payload
type Message []ChangeSet

// Decode parses a raw delta notification body
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err),
			"Decoder", "Decode", "parse delta body")
	}
	return msg, nil
}

// Subjects returns the distinct subject URIs across all inserts and deletes,
// in first-seen order. Only the subject position matters for dispatch;
// object-position occurrences of a URI are irrelevant. Non-URI subjects
// (blank nodes) are skipped.
func (m Message) Subjects() []string {
	seen := make(map[string]struct{})
	var subjects []string

	add := func(triples []Triple) {
		for _, t := range triples {
			if t.Subject.Type != "uri" || t.Subject.Value == "" {
				continue
			}
			if _, ok := seen[t.Subject.Value]; ok {
				continue
			}
			seen[t.Subject.Value] = struct{}{}
			subjects = append(subjects, t.Subject.Value)
		}
	}

	for _, cs := range m {
		add(cs.Inserts)
		add(cs.Deletes)
	}

	return subjects
}
