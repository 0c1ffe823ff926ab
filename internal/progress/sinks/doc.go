// Package sinks implements progress consumers: Prometheus collectors, the run
// ledger, a structured log and an in-memory snapshot for the ops API.
package sinks
