package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/rules"
	"github.com/lblod/contact-data-dispatcher-service/sparql"
	"github.com/lblod/contact-data-dispatcher-service/vocabulary"
)

// prologue renders the PREFIX declarations for the given alias/namespace pairs
func prologue(pairs ...[2]string) string {
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, vocabulary.Prefix(p[0], p[1]))
	}
	return strings.Join(lines, "\n")
}

var (
	orgPrologue = prologue(
		[2]string{"mu", vocabulary.Mu},
		[2]string{"org", vocabulary.Org})

	syncPrologue = prologue(
		[2]string{"mu", vocabulary.Mu},
		[2]string{"org", vocabulary.Org},
		[2]string{"adms", vocabulary.Adms},
		[2]string{"dct", vocabulary.DctTerms},
		[2]string{"task", vocabulary.Task},
		[2]string{"cogs", vocabulary.Cogs},
		[2]string{"oslc", vocabulary.Oslc})

	errorPrologue = prologue(
		[2]string{"mu", vocabulary.Mu},
		[2]string{"oslc", vocabulary.Oslc},
		[2]string{"dct", vocabulary.DctTerms})
)

// typesQuery lists the distinct declared types of a subject
func typesQuery(subject string) string {
	return fmt.Sprintf(`SELECT DISTINCT ?type {
  %s a ?type.
}`, sparql.EscapeURI(subject))
}

// filterQuery asks whether a public rule's additional filter holds for a subject
func filterQuery(subject string, rule rules.PublicRule) string {
	return fmt.Sprintf(`ASK {
  BIND(%s as ?subject)

  ?subject a %s.
  %s
}`, sparql.EscapeURI(subject), sparql.EscapeURI(rule.Type), rule.AdditionalFilter)
}

// organizationQuery finds the organization(s) reachable from a subject via a rule's path
func organizationQuery(subject string, rule rules.OrgRule) string {
	return fmt.Sprintf(`SELECT DISTINCT ?organization WHERE {
  BIND(%s as ?subject)

  ?subject a %s.
  %s
}`, sparql.EscapeURI(subject), sparql.EscapeURI(rule.Type), rule.PathToOrganization)
}

// destinationGraphsQuery derives an organization's graphs from its stored identifier
func destinationGraphsQuery(organization, graphPrefix string) string {
	return fmt.Sprintf(`%s

SELECT DISTINCT ?graph WHERE {
  {
    %s a org:Organization ;
      mu:uuid ?uuid .
  }
  BIND(IRI(CONCAT(%s, ?uuid)) AS ?graph)
}`, orgPrologue, sparql.EscapeURI(organization), sparql.EscapeString(graphPrefix))
}

// relatedSubjectsQuery finds every subject of a rule's type linked to the
// organization that needs a move: placed in a wrong graph, newly ingested but
// absent from the destination graphs, or present in a destination graph but
// no longer backed by ingest data.
func relatedSubjectsQuery(
	organization string,
	rule rules.OrgRule,
	destinationGraphs []string,
	ingestGraph string,
	landingZoneGraphs []string,
) string {
	exclude := make([]string, 0, len(destinationGraphs)+1+len(landingZoneGraphs))
	for _, g := range destinationGraphs {
		exclude = append(exclude, sparql.EscapeURI(g))
	}
	exclude = append(exclude, sparql.EscapeURI(ingestGraph))
	for _, g := range landingZoneGraphs {
		exclude = append(exclude, sparql.EscapeURI(g))
	}

	var destinationBlocks strings.Builder
	for _, g := range destinationGraphs {
		destinationBlocks.WriteString(fmt.Sprintf(`    GRAPH %s {
      ?subject ?p ?o .
    }
`, sparql.EscapeURI(g)))
	}

	return fmt.Sprintf(`SELECT DISTINCT ?subject WHERE {
  BIND(%s as ?organization)
  ?subject a %s.

  %s

  {
    GRAPH ?g {
      ?subject ?p ?o .
    }
    FILTER (?g NOT IN ( %s ))
  }
  UNION
  {
    GRAPH %s {
      ?subject ?p ?o .
    }
    MINUS
    {
%s    }
  }
  UNION
  {
    {
%s    }
    MINUS
    {
      GRAPH %s {
        ?subject ?p ?o .
      }
    }
  }
}`,
		sparql.EscapeURI(organization),
		sparql.EscapeURI(rule.Type),
		rule.PathToOrganization,
		strings.Join(exclude, ", "),
		sparql.EscapeURI(ingestGraph),
		destinationBlocks.String(),
		destinationBlocks.String(),
		sparql.EscapeURI(ingestGraph))
}

// redispatchQuery finds subjects related to an ingested subject via a trigger
// pattern that still have data in the ingest graph
func redispatchQuery(ingestedSubject, trigger, ingestGraph string) string {
	return fmt.Sprintf(`%s

SELECT DISTINCT ?subject WHERE {
  BIND(%s as ?ingestedSubject)

  %s

  GRAPH %s {
    ?subject ?p ?o .
  }
}`, orgPrologue, sparql.EscapeURI(ingestedSubject), trigger, sparql.EscapeURI(ingestGraph))
}

// moveDeleteQuery retracts a subject's triples from every graph outside the protected set
func moveDeleteQuery(subject, ingestGraph string, landingZoneGraphs []string) string {
	keep := make([]string, 0, 1+len(landingZoneGraphs))
	keep = append(keep, sparql.EscapeURI(ingestGraph))
	for _, g := range landingZoneGraphs {
		keep = append(keep, sparql.EscapeURI(g))
	}

	return fmt.Sprintf(`DELETE {
  GRAPH ?g {
    ?s ?p ?o .
  }
}
WHERE {
  GRAPH ?g {
    BIND(%s as ?s)
    ?s ?p ?o .
  }
  FILTER (?g NOT IN ( %s ))
}`, sparql.EscapeURI(subject), strings.Join(keep, ", "))
}

// moveInsertQuery copies a subject's ingest-graph triples into each destination graph
func moveInsertQuery(subject string, destinationGraphs []string, ingestGraph string) string {
	var insertBlocks strings.Builder
	for _, g := range destinationGraphs {
		insertBlocks.WriteString(fmt.Sprintf(`  GRAPH %s {
    ?s ?p ?o .
  }
`, sparql.EscapeURI(g)))
	}

	return fmt.Sprintf(`INSERT {
%s}
WHERE {
  GRAPH %s {
    BIND(%s as ?s)
    ?s ?p ?o .
  }
}`, insertBlocks.String(), sparql.EscapeURI(ingestGraph), sparql.EscapeURI(subject))
}

// syncStatusQuery finds the most recent successful job record for an operation
func syncStatusQuery(operation string) string {
	return fmt.Sprintf(`%s
SELECT DISTINCT ?s ?created WHERE {
  VALUES ?operation { %s }
  VALUES ?status { %s }

  ?s a cogs:Job ;
    task:operation ?operation ;
    adms:status ?status ;
    dct:created ?created.
}
ORDER BY DESC(?created)
LIMIT 1`, syncPrologue, sparql.EscapeURI(operation), sparql.EscapeURI(vocabulary.JobStatusSuccess))
}

// errorInsertQuery records an error alert in the error graph
func errorInsertQuery(alert Alert, id, uri, errorGraph, creator string, now time.Time) string {
	var optional strings.Builder
	if alert.Reference != "" {
		optional.WriteString(fmt.Sprintf("    %s dct:references %s .\n",
			sparql.EscapeURI(uri), sparql.EscapeURI(alert.Reference)))
	}
	if alert.Detail != "" {
		optional.WriteString(fmt.Sprintf("    %s oslc:largePreview %s .\n",
			sparql.EscapeURI(uri), sparql.EscapeString(alert.Detail)))
	}

	return fmt.Sprintf(`%s

INSERT DATA {
  GRAPH %s {
    %s a oslc:Error ;
      mu:uuid %s ;
      dct:subject %s ;
      oslc:message %s ;
      dct:created %s ;
      dct:creator %s .
%s  }
}`,
		errorPrologue,
		sparql.EscapeURI(errorGraph),
		sparql.EscapeURI(uri),
		sparql.EscapeString(id),
		sparql.EscapeString("Dispatch contact data"),
		sparql.EscapeString(alert.Message),
		sparql.EscapeDateTime(now),
		sparql.EscapeURI(creator),
		optional.String())
}

// bulkPublicQuery copies every ingested subject of a public rule's type into
// the public graph in one update, used by the initial-dispatch maintenance mode
func bulkPublicQuery(rule rules.PublicRule, publicGraph, ingestGraph string) string {
	filter := ""
	if rule.AdditionalFilter != "" {
		filter = "\n    " + rule.AdditionalFilter
	}
	return fmt.Sprintf(`INSERT {
  GRAPH %s {
    ?subject ?p ?o .
  }
} WHERE {
  GRAPH %s {
    ?subject a %s ;
      ?p ?o .%s
  }
}`, sparql.EscapeURI(publicGraph), sparql.EscapeURI(ingestGraph), sparql.EscapeURI(rule.Type), filter)
}

// bulkOrgQuery copies every ingested subject of an org rule's type into its
// organization graph in one update, used by the initial-dispatch maintenance mode
func bulkOrgQuery(rule rules.OrgRule, ingestGraph, graphPrefix string) string {
	return fmt.Sprintf(`%s

INSERT {
  GRAPH ?graph {
    ?subject ?p ?o .
  }
} WHERE {
  GRAPH %s {
    ?subject a %s ;
      ?p ?o .

    %s

    ?organization mu:uuid ?uuid .
  }

  BIND(IRI(CONCAT(%s, ?uuid)) AS ?graph)
}`, orgPrologue, sparql.EscapeURI(ingestGraph), sparql.EscapeURI(rule.Type), rule.PathToOrganization, sparql.EscapeString(graphPrefix))
}
