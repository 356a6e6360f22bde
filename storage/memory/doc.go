// Package memory provides an in-memory implementation of every storage capability.
//
// It is suitable for development, testing and single-instance deployments. Expired
// authorization contexts, codes, external login states, logout contexts and sessions
// are removed by a background cleanup goroutine; call Stop to end it.
//
// Atomic operations (consuming a context, marking a code used) run under the
// store's write lock, so concurrent resumption of the same record yields exactly
// one winner.
package memory
