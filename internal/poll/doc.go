// Package poll implements the stateless polling engine: repeated full scans
// of the record store, grouping items by status, and bounded-concurrency
// dispatch of inline steps with intra-cycle chaining. Items at queued-step
// statuses are handed to the durable job queue instead of executed here.
package poll
