// Package progress defines the event, batch, and task primitives shared by
// the ingestion pipeline. Events arrive from the HTTP boundary, the
// dispatcher coalesces them into batches, and workers execute batches as
// tasks against the record store.
package progress
