// Package ports defines the interfaces between the orchestration core and
// its adapters: task persistence, event publishing, agent invocation and
// metrics collection.
package ports
