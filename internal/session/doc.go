// Package session orchestrates the counting pipeline across contexts.
//
// A context is one (camera, conveyor) pair with its own tracker, counter
// and counting lines. The Registry owns all contexts and guarantees the
// single-writer rule: frames for one context are processed strictly one at
// a time, while different contexts process concurrently.
//
// The Manager runs batch counting jobs over recorded frame sequences
// through a bounded worker pool, reporting per-job progress and supporting
// cancellation at frame boundaries.
package session
