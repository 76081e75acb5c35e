// Package contactdispatcher documents the contact data dispatcher service: a
// reactive routing layer that moves ingested contact and organization data
// between named graphs in a remote SPARQL store.
//
// # Architecture
//
// Delta notifications about changed subjects arrive over HTTP or NATS. Each
// subject is enqueued at most once; a worker pool drains the queue, and for
// every subject the routing engine decides which graphs its triples belong
// in and moves them there. Moves can make further subjects eligible, so the
// engine feeds those dependents back into the queue until no more moves
// apply.
//
//	┌──────────┐   ┌──────────────┐
//	│ HTTP /   │   │ NATS delta   │
//	│ delta    │   │ stream       │
//	└────┬─────┘   └──────┬───────┘
//	     └───────┬────────┘
//	             ↓ subjects
//	     ┌───────────────┐
//	     │ Dedup queue   │◄──────────┐
//	     │ (worker pool) │           │ dependents
//	     └──────┬────────┘           │
//	            ↓                    │
//	     ┌───────────────┐   ┌───────┴──────┐
//	     │ Prerequisite  │   │  Routing     │
//	     │ gate          ├──►│  engine      │
//	     └───────────────┘   └───────┬──────┘
//	                                 ↓ queries and moves
//	                         ┌──────────────┐
//	                         │ SPARQL store │
//	                         └──────────────┘
//
// Processing is gated on an initial-sync prerequisite: jobs are accepted at
// any time but only run once the store reports the configured sync
// operations as completed.
//
// # Packages
//
// Intake:
//   - gateway: HTTP delta intake, health, and a WebSocket event feed
//   - input/deltastream: NATS delta subscription
//   - delta: delta message decoding
//
// Core:
//   - dispatch: queue, prerequisite gate, routing engine
//   - rules: the routing rulebook (YAML)
//   - store: triplestore access layer (queries, moves, error records)
//   - sparql: SPARQL 1.1 protocol client
//   - vocabulary: RDF namespaces the queries are written against
//
// Infrastructure:
//   - config: configuration loading and validation
//   - natsclient: NATS connection management
//   - metric: Prometheus metrics
//   - errors: structured error handling
//   - pkg/retry: backoff policies
//   - pkg/worker: generic worker pool
//
// # Binary
//
// cmd/dispatcher runs the service. Two maintenance modes exist alongside the
// normal reactive mode: --validate checks configuration and rules without
// starting anything, and --initial-dispatch performs a one-shot bulk routing
// of everything already ingested, then exits.
package contactdispatcher
