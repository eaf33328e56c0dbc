// Package app wires the lens components together: the upload pipeline, the
// polling engine that reconciles job status, the auto-export hook, and the
// command entry points used by the CLI.
package app
