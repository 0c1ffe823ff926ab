// Package progress carries run telemetry from the harvester to pluggable
// sinks. Emitters never block: events are buffered, batched on a background
// goroutine and fanned out to Prometheus, the run repository or the log.
package progress
