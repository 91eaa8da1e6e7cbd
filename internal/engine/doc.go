// Package engine runs the PLIP command line tool for a single task and turns
// its XML report into the per binding-site result set consumed by the task
// runner.
package engine
