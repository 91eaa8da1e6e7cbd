// Package task executes accepted analysis tasks in the background.
// It decouples request handling from the (possibly slow, blocking) analysis
// engine: each accepted task runs in its own goroutine, waits for a free
// execution slot, and reports its outcome only through the task registry.
package task
