// Command progressd runs the progress-event ingestion, batching, and
// aggregation service.
package main
