// Package api exposes the HTTP ingestion boundary of the pipeline: clients
// post raw progress events, operators flush the coalescing buffer, and
// readers fetch course rollups.
package api
