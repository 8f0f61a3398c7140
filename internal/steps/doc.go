// Package steps contains the pipeline step processors and the builder that
// registers them. Each processor implements the registry Handler contract:
// Execute performs the step's side effects against one work item, and the
// engines advance the item's status only after Execute returns nil.
//
// Processors never write status themselves. Branch decisions (quality
// routing, skip rules) live in the registry definitions built by Build.
package steps
