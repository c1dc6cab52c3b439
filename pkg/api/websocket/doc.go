// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/tasks/:id/ws to receive real-time
// updates about task execution.
package websocket
