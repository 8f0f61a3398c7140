// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The probe step uses it to extract duration, container format, and
// resolution from local media before any enrichment runs. The package has no
// curator-specific dependencies.
package ffprobe
