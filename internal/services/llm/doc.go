// Package llm wraps the OpenRouter chat completion API used by the describe
// and tag steps. The client speaks JSON-only completions with deterministic
// sampling, retries transient HTTP failures with exponential backoff, and
// tolerates the formatting quirks providers wrap around JSON payloads.
package llm
