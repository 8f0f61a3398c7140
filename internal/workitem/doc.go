// Package workitem defines the record model shared by both engines: the
// WorkItem mirror of a record-store row, the ordered status vocabulary that
// drives the pipeline state machine, and the audit-trail helpers that keep
// failure context on the record itself.
package workitem
