// Package infra contains technical adapters: SQL storage, the MQTT bridge,
// the websocket server and the Prometheus/InfluxDB metric sinks.
// These packages should depend only on the interfaces defined in the
// core packages.
package infra
