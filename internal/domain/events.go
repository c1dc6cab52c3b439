package domain

import "time"

// EventType identifies a task lifecycle event.
type EventType string

const (
	EventTypeTaskQueued    EventType = "task.queued"
	EventTypeTaskStarted   EventType = "task.started"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"
	EventTypeTaskCancelled EventType = "task.cancelled"
	EventTypeTaskDegraded  EventType = "task.degraded"
	EventTypeTaskReset     EventType = "task.reset"

	EventTypeStepStarted   EventType = "step.started"
	EventTypeStepCompleted EventType = "step.completed"
	EventTypeStepFailed    EventType = "step.failed"
	EventTypeStepRetrying  EventType = "step.retrying"
	EventTypeStepSkipped   EventType = "step.skipped"

	EventTypeRegistryReloaded EventType = "registry.reloaded"
)

// TopicTaskEvents is the bus topic carrying all task lifecycle events.
const TopicTaskEvents = "task.events"

// Event is a task lifecycle notification published on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	TaskID    string                 `json:"task_id,omitempty"`
	Step      string                 `json:"step,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
