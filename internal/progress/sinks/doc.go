// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, job history persistence, and a websocket broadcaster.
package sinks
