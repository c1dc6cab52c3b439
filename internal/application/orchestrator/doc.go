// Package orchestrator drives workflow execution. The Manager accepts task
// submissions and control-plane calls; each live task gets one scheduler
// goroutine that resolves dependencies, dispatches ready steps to the shared
// worker pool, applies retry and backoff policy, and falls back to the
// degradation controller when the pipeline cannot complete.
package orchestrator
