// Package metrics provides the Prometheus registry reference for the
// BagelDB client. All metrics are defined in their owning packages
// (client, pagination) to keep them next to the code they measure.
//
// This package documents the full metric set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the client.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - bageldb_requests_total{endpoint, status} (Counter): Requests by endpoint
//     and HTTP status ("network_error" for transport failures)
//   - bageldb_request_duration_seconds{endpoint} (Histogram): Request duration
//   - bageldb_errors_total{class} (Counter): Errors by class
//     (client, server, network, decode)
//
// Retry Metrics (pkg/client):
//   - bageldb_retries_total{error_class} (Counter): Retry attempts
//   - bageldb_retry_exhausted_total (Counter): Requests that exhausted the
//     retry budget
//
// Bulk Retrieval Metrics (pkg/pagination):
//   - bageldb_pages_fetched_total{strategy} (Counter): Pages fetched by
//     strategy (sequential, concurrent)
//   - bageldb_bulk_retrieval_duration_seconds{strategy} (Histogram): Whole
//     bulk call duration by strategy
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(bageldb_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(bageldb_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure
//   rate(bageldb_retries_total[5m])
