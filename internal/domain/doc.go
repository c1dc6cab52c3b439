// Package domain holds the data model shared across the orchestrator:
// agent and workflow definitions, task instances with their per-step
// records and execution context, the error taxonomy, and lifecycle events.
package domain
