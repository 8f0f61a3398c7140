// Package recordstore is the HTTP client for the external record store that
// owns all work items. Every call runs through an explicit retry policy with
// exponential backoff, and an expired session token is refreshed and the call
// replayed once before the error surfaces to the step.
package recordstore
