// Package sinks implements progress consumers: structured logs and
// Prometheus run metrics.
package sinks
