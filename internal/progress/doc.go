// Package progress carries chunk lifecycle events from workers to pluggable
// sinks. Emitting never blocks a worker: events are buffered, batched on a
// background goroutine and dropped under backpressure.
package progress
