// Package metrics defines the observability sinks fed by the grid and meter
// engines. Sinks like PromSink and InfluxSink live in infra/metrics and are
// selected by type through the factory registry; NewSink wraps several of
// them in a MultiSink. Recording is best-effort: engines log sink errors and
// carry on.
package metrics
