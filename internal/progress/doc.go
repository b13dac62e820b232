// Package progress carries job and chapter milestones from workers to
// observers. Workers emit Events into a non-blocking Hub, which batches them on
// a background goroutine and fans them out to sinks such as the log,
// Prometheus, the websocket stream, or the job history store.
package progress
