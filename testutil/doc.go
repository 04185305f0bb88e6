// Package testutil provides shared fixtures and stubs for sensorstream
// tests: raw transport lines in every supported wire shape, a
// scriptable scorer, and an event-collecting broadcast sink.
package testutil
