// Package jobs is the orchestrator: it composes the job store, the timer
// registry, the safeguard gate and the generator into the job lifecycle
// operations served over HTTP.
package jobs
