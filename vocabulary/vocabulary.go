// Package vocabulary pins the RDF namespaces and well-known resources the
// dispatcher's queries are written against. Query builders compose their
// PREFIX prologues from these constants so a namespace is spelled exactly
// once in the codebase.
package vocabulary

// Namespace IRIs used across the dispatcher's queries
const (
	// Mu is the mu.semte.ch core vocabulary (uuid bookkeeping)
	Mu = "http://mu.semte.ch/vocabularies/core/"

	// Org is the W3C organization ontology
	Org = "http://www.w3.org/ns/org#"

	// Adms is the W3C asset description metadata schema (job statuses)
	Adms = "http://www.w3.org/ns/adms#"

	// DctTerms is the Dublin Core metadata terms namespace
	DctTerms = "http://purl.org/dc/terms/"

	// Task is the redpencil task vocabulary (sync job records)
	Task = "http://redpencil.data.gift/vocabularies/tasks/"

	// Cogs is the COGS job/process vocabulary
	Cogs = "http://vocab.deri.ie/cogs#"

	// Oslc is the OSLC core namespace (error reporting)
	Oslc = "http://open-services.net/ns/core#"
)

// Well-known resources
const (
	// JobStatusSuccess marks a completed background job in the store
	JobStatusSuccess = "http://redpencil.data.gift/id/concept/JobStatus/success"

	// ErrorBase is the IRI prefix under which error alerts are minted
	ErrorBase = "http://data.lblod.info/errors/"
)

// Prefix renders a single SPARQL PREFIX declaration
func Prefix(alias, namespace string) string {
	return "PREFIX " + alias + ": <" + namespace + ">"
}
