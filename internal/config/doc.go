// Package config loads, normalizes, and validates curator's TOML
// configuration. Defaults live in defaults.go; a documented sample file is
// embedded and written out by "curator config init".
package config
