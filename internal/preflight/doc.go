// Package preflight provides readiness checks for the external services and
// filesystem paths the pipeline depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before starting the engines; failures are
//     reported through status output instead of surfacing mid-cycle.
//   - The CLI "curator status" command uses the individual check functions
//     to display service health.
package preflight
