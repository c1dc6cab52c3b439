// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Task submission and management
//   - Workflow registry queries and reloads
//   - Statistics and health checks
//   - Prometheus metrics
package http
