// Package sensorstream ingests raw sensor readings, scores them against
// a per-sensor rolling baseline, persists them, and fans classified
// readings out to live subscribers.
//
// # Architecture
//
// Readings enter through two front doors and share one ingestion path:
//
//   - transport: a reconnecting line reader for TCP endpoints and
//     device files, decoding each line with a tolerant rule cascade
//   - gateway: an HTTP API accepting structured JSON readings
//
// Every reading flows through the pipeline package: decode or
// normalize, score against the sensor's recent history, persist, then
// broadcast. Classification fails open; a scorer outage degrades
// readings to Normal rather than blocking ingestion. Only a
// persistence failure is surfaced to the submitter.
//
// Persistence is NATS JetStream when configured, with an in-memory
// store as the fallback. Live subscribers attach over WebSocket or
// server-sent events and receive each classified reading at most once.
//
// # Package Layout
//
//   - decoder: tolerant wire-format cascade (JSON, CSV, key=value
//     pairs, whitespace pair) with synonym key resolution
//   - history: per-sensor rolling baseline window
//   - classifier: fail-open scoring with z-score and HTTP scorers
//   - pipeline: the canonical ingestion path
//   - store: JetStream and in-memory persistence
//   - broadcast: best-effort fan-out to subscriber sinks
//   - transport: reconnecting line reader
//   - gateway: HTTP API and event stream
//   - output/websocket: WebSocket delivery
//
// The cmd/sensorstream binary wires these together from a JSON
// configuration file.
package sensorstream
