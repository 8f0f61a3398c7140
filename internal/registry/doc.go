// Package registry holds the declarative step table: which step consumes each
// status, where success and failure transitions land, how a step executes
// (inline in a poll cycle or through the durable job queue), and the runtime
// branch decisions. All branching logic lives here so the engines stay
// branch-agnostic.
package registry
