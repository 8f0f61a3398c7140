// Package jobqueue implements the durable execution strategy: named per-step
// job queues persisted in SQLite, worker pools sized to each step's external
// rate limit, and a dead-letter registry for failed jobs. Status on the work
// item is advanced only after a processor's side effects are durably
// complete, so a consumer never observes "done" before the data exists.
package jobqueue
