// Package depgate withholds a parent item's step until all of its children
// satisfy a completion predicate. The gate keeps no counters: it is a pure
// function of current store state, so crashes and restarts need no
// reconciliation.
package depgate
