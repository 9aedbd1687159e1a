// Package resource enforces the process-wide budgets an environment hands
// out: background worker slots, write throughput, and memory-mapped file
// slots. A nil *Controller is valid and enforces nothing, so callers never
// need to special-case the unlimited configuration.
package resource
