// Package domain defines the analysis task entity, its lifecycle state
// machine and the domain-level errors shared by the service, store and
// transport layers.
package domain
