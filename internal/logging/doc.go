// Package logging provides slog construction helpers and the standardized
// structured field vocabulary shared across curator components.
package logging
