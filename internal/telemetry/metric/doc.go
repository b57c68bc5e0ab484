// Package metric provides Prometheus metrics for tidekv.
//
// This package implements metrics collection:
//
//   - journal.go: counters and histograms updated by the journal
//   - collector.go: a collector reporting live store statistics
//
// Metrics are registered on a caller-supplied prometheus.Registerer; tidekv
// never serves them itself.
package metric
