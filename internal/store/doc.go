// Package store defines the task registry contract and its in-memory
// implementation. The registry is the single source of truth for task
// status; every other component reads or mutates tasks through it.
package store
