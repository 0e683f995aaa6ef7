/*
Package metrics provides Prometheus metrics collection and exposition for
ipfscached.

The metrics package defines and registers every ipfscached metric using
the Prometheus client library, giving observability into B-tree
structure, republish activity, and injector/client refresh behavior.
Metrics are exposed via an HTTP endpoint for scraping by Prometheus
servers, alongside component health registered through this same
package (see health.go).

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories               │          │
	│  │                                              │          │
	│  │  B-tree: inserts, store duration, node count│          │
	│  │  Republisher: publishes, duration, in-flight│          │
	│  │  Injector: root hash updates, key updates   │          │
	│  │  Client: refresh cycles, root hash changes, │          │
	│  │          GetContent duration                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

ipfscached_btree_inserts_total:
  - Type: Counter
  - Description: Total keys inserted into the B-tree across all store passes

ipfscached_btree_store_duration_seconds:
  - Type: Histogram
  - Description: Time to run one structural-insert-plus-serialize store pass

ipfscached_btree_node_count:
  - Type: Gauge
  - Description: Currently materialized node count, sampled by Collector

ipfscached_republish_total:
  - Type: Counter
  - Description: Total republish (Adapter.Publish) calls that succeeded

ipfscached_republish_duration_seconds:
  - Type: Histogram
  - Description: Duration of a single Adapter.Publish call

ipfscached_republish_in_flight:
  - Type: Gauge
  - Description: Whether a republish call is currently in flight (0/1)

ipfscached_injector_root_hash_updates_total:
  - Type: Counter
  - Description: Total times the Injector rewrote its persisted root-hash file

ipfscached_injector_updates_total{result}:
  - Type: CounterVec
  - Description: Total Update() calls by result ("ok"/"error")

ipfscached_client_refresh_total{result}:
  - Type: CounterVec
  - Description: Total Client refresh cycles by result ("ok"/"error")

ipfscached_client_root_hash_changes_total:
  - Type: Counter
  - Description: Total times the Client observed a new published root

ipfscached_client_get_content_duration_seconds:
  - Type: Histogram
  - Description: Time taken by GetContent (tree lookup plus cat)

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ClientGetContentDuration)

	metrics.InjectorUpdatesTotal.WithLabelValues("ok").Inc()

	http.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(":9090", nil)

# Integration Points

This package integrates with:

  - pkg/btree: records insert/store counts and duration, and is sampled
    by Collector via its LocalNodeCount method
  - pkg/republisher: records publish counts, duration, and in-flight state
  - pkg/injectordb, pkg/clientdb: record update/refresh outcomes
  - pkg/health: feeds component verdicts into this package's health
    registry (health.go), surfaced at /health and /ready
  - Prometheus: scrapes /metrics

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so metrics are available before main() runs.

Timer Pattern:
  - Create a Timer at operation start, defer ObserveDuration at the end.

Global Metrics:
  - Package-level variables, accessible from any ipfscached package,
    safe for concurrent use, no initialization required by callers.
*/
package metrics
