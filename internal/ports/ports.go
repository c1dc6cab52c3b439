package ports

import (
	"context"
	"time"

	"github.com/oteiza/mago/internal/domain"
)

// TaskStore persists task instances. Implementations return copies; mutating
// a returned task never affects stored state until it is saved again.
type TaskStore interface {
	Save(ctx context.Context, task *domain.TaskInstance) error
	Get(ctx context.Context, taskID string) (*domain.TaskInstance, error)
	Delete(ctx context.Context, taskID string) error
	List(ctx context.Context) ([]*domain.TaskInstance, error)
}

// EventHandler processes one event from the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers task lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// InvokeRequest is the input of one agent invocation.
type InvokeRequest struct {
	TaskID   string
	Workflow string
	Step     string
	Input    string
	Context  []domain.ContextEntry
}

// InvokeResult is the output of one agent invocation.
type InvokeResult struct {
	Output       string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// AgentInvoker performs one agent call. Implementations classify failures
// into the domain error kinds; timeouts are enforced by the caller through
// the context.
type AgentInvoker interface {
	Invoke(ctx context.Context, agent *domain.AgentDefinition, req InvokeRequest) (*InvokeResult, error)
}

// MetricsCollector records orchestration telemetry. It is side-effect only
// and never consulted for control decisions.
type MetricsCollector interface {
	RecordTaskSubmitted(workflow string)
	RecordTaskCompleted(state string, degraded bool, duration time.Duration)
	RecordStepExecuted(agent, outcome string, duration time.Duration)
	RecordStepRetry(agent string)
	RecordDegradation(workflow string)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveTasks(count int)
}
