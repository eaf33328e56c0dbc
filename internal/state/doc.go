// Package state holds the in-memory job store shared by the upload pipeline,
// the polling engine, and the dashboard. It is the single source of truth for
// job lifecycle state within a run.
package state
