// Package notifications delivers pipeline events via ntfy push messages.
//
// The service publishes to the topic configured in config.toml and degrades
// to a no-op when no topic is set. Per-event toggles let operators subscribe
// to failures only, review requests only, or run summaries. All pipeline code
// depends only on the Service interface.
package notifications
