// Package quality scores accumulated metadata to decide whether a work item
// carries enough context to continue autonomously or should pause for
// operator input. Scoring is pure: identical fields always produce the same
// score, verdict, and reasons.
package quality
