// Package daemon coordinates the background processing engines and enforces
// single-instance execution with a file lock. It owns the poll engine's
// restart loop, the queued-step worker pools, and the maintenance operations
// exposed over the control socket.
package daemon
