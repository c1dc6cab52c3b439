package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/application/workers"
	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
	"github.com/oteiza/mago/internal/registry"
	"github.com/oteiza/mago/internal/statemachine"
)

// Manager is the orchestration entrypoint. It accepts task submissions,
// spawns one scheduler goroutine per task, and exposes the control-plane
// operations (status, cancel, reset, stats, reload, shutdown).
type Manager struct {
	registry *registry.Registry
	store    ports.TaskStore
	bus      ports.EventBus
	pool     *workers.Pool
	degrader *Degrader
	metrics  ports.MetricsCollector
	machine  *statemachine.Machine
	logger   *zap.Logger

	// tasks maps live task IDs to their cancel functions. An entry exists
	// only while the task's scheduler goroutine runs.
	tasks          sync.Map
	active         atomic.Int64
	globalFailures atomic.Int64

	wg         sync.WaitGroup
	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type taskHandle struct {
	cancel context.CancelFunc
}

// SubmitRequest is one task submission.
type SubmitRequest struct {
	TaskID   string
	Workflow string
	Input    string
	Priority domain.TaskPriority
}

// NewManager wires the orchestration core.
func NewManager(
	reg *registry.Registry,
	store ports.TaskStore,
	bus ports.EventBus,
	pool *workers.Pool,
	invoker ports.AgentInvoker,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:   reg,
		store:      store,
		bus:        bus,
		pool:       pool,
		degrader:   NewDegrader(invoker, logger),
		metrics:    metrics,
		machine:    statemachine.New(),
		logger:     logger,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Submit validates a submission, persists the queued task and starts its
// scheduler goroutine. The returned instance is a persisted copy.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.TaskInstance, error) {
	snap := m.registry.Snapshot()
	if snap == nil {
		return nil, domain.E(domain.KindConfig, "registry not loaded")
	}

	name := req.Workflow
	if name == "" {
		name = "default"
	}
	wf, ok := snap.Workflows[name]
	if !ok {
		return nil, domain.E(domain.KindUnknownWorkflow, "unknown workflow %q", name)
	}

	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !domain.ValidPriority(priority) {
		return nil, domain.E(domain.KindConfig, "invalid priority %q", priority)
	}

	id := req.TaskID
	if id == "" {
		id = uuid.New().String()
	}
	if _, live := m.tasks.Load(id); live {
		return nil, domain.E(domain.KindDuplicateTask, "task %s already exists", id)
	}
	// A stored task in idle is a reset one; resubmission re-queues it under
	// the same id. Any other stored state is a duplicate.
	if existing, err := m.store.Get(ctx, id); err == nil && existing != nil {
		if existing.State != domain.TaskStateIdle {
			return nil, domain.E(domain.KindDuplicateTask, "task %s already exists", id)
		}
	}

	task := domain.NewTaskInstance(id, wf, req.Input, priority)
	if err := m.machine.Fire(task, statemachine.TriggerStartTask); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, task); err != nil {
		return nil, err
	}
	m.publish(domain.Event{
		Type:   domain.EventTypeTaskQueued,
		TaskID: id,
		Data:   map[string]interface{}{"workflow": name, "priority": string(priority)},
	})
	m.metrics.RecordTaskSubmitted(name)

	taskCtx, cancel := context.WithCancel(m.rootCtx)
	m.tasks.Store(id, &taskHandle{cancel: cancel})
	m.active.Add(1)
	m.metrics.SetActiveTasks(int(m.active.Load()))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			m.tasks.Delete(id)
			m.active.Add(-1)
			m.metrics.SetActiveTasks(int(m.active.Load()))
		}()
		newTaskRun(m, task, snap, wf).run(taskCtx)
	}()

	m.logger.Info("task submitted",
		zap.String("task_id", id),
		zap.String("workflow", name),
		zap.String("priority", string(priority)))

	return m.store.Get(ctx, id)
}

// Status returns the persisted task instance.
func (m *Manager) Status(ctx context.Context, taskID string) (*domain.TaskInstance, error) {
	return m.store.Get(ctx, taskID)
}

// Result returns the terminal result of a task, or an error when the task
// has not finished yet.
func (m *Manager) Result(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.State.IsTerminal() {
		return nil, domain.E(domain.KindInvalidTransition,
			"task %s is still %s", taskID, task.State)
	}
	if task.Result == nil {
		return &domain.TaskResult{
			StepStatus:   task.StepStatusMap(),
			Degraded:     task.Degraded,
			ErrorType:    task.ErrorKind,
			ErrorMessage: task.ErrorMessage,
		}, nil
	}
	return task.Result, nil
}

// Cancel requests cancellation of a task. Live tasks are cancelled through
// their context and finalized by their scheduler goroutine; queued leftovers
// with no live goroutine are transitioned directly.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	if h, ok := m.tasks.Load(taskID); ok {
		h.(*taskHandle).cancel()
		m.logger.Info("task cancellation requested", zap.String("task_id", taskID))
		return nil
	}

	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if err := m.machine.Fire(task, statemachine.TriggerCancelTask); err != nil {
		return err
	}
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err := m.store.Save(ctx, task); err != nil {
		return err
	}
	m.publish(domain.Event{Type: domain.EventTypeTaskCancelled, TaskID: taskID})
	return nil
}

// Reset returns a terminal task to idle so it can be resubmitted. Resetting
// a live or non-terminal task is rejected by the state machine.
func (m *Manager) Reset(ctx context.Context, taskID string) (*domain.TaskInstance, error) {
	if _, live := m.tasks.Load(taskID); live {
		return nil, domain.E(domain.KindInvalidTransition,
			"task %s is still executing", taskID)
	}
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := m.machine.Fire(task, statemachine.TriggerResetTask); err != nil {
		return nil, err
	}
	task.Reset()
	if err := m.store.Save(ctx, task); err != nil {
		return nil, err
	}
	m.publish(domain.Event{Type: domain.EventTypeTaskReset, TaskID: taskID})
	return task, nil
}

// Stats aggregates counts over all persisted tasks.
func (m *Manager) Stats(ctx context.Context) (*domain.TaskStats, error) {
	tasks, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &domain.TaskStats{
		ByState:    make(map[string]int),
		ByPriority: make(map[string]int),
		ByWorkflow: make(map[string]int),
	}
	for _, t := range tasks {
		stats.Total++
		if !t.State.IsTerminal() {
			stats.Active++
		}
		stats.ByState[string(t.State)]++
		stats.ByPriority[string(t.Priority)]++
		stats.ByWorkflow[t.Workflow]++
	}
	return stats, nil
}

// List returns all persisted tasks.
func (m *Manager) List(ctx context.Context) ([]*domain.TaskInstance, error) {
	return m.store.List(ctx)
}

// Reload re-reads the rules document, publishes the new snapshot and resets
// the escalation counter. In-flight tasks keep their creation-time snapshot.
func (m *Manager) Reload(ctx context.Context) error {
	if err := m.registry.Load(); err != nil {
		return err
	}
	m.globalFailures.Store(0)
	snap := m.registry.Snapshot()
	m.publish(domain.Event{
		Type: domain.EventTypeRegistryReloaded,
		Data: map[string]interface{}{
			"version":   snap.Version,
			"agents":    len(snap.Agents),
			"workflows": len(snap.Workflows),
		},
	})
	return nil
}

// Registry exposes the current snapshot for read-only API surfaces.
func (m *Manager) Registry() *registry.Snapshot {
	return m.registry.Snapshot()
}

// Shutdown cancels every live task and waits for their scheduler goroutines
// to finalize, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator",
		zap.Int64("active_tasks", m.active.Load()))
	m.rootCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return domain.Wrap(domain.KindTimeout, ctx.Err(), "orchestrator shutdown timed out")
	}
}

// escalated reports whether the process-wide failure count has crossed the
// snapshot's escalation threshold.
func (m *Manager) escalated(rules domain.CollaborationRules) bool {
	threshold := rules.ErrorHandling.EscalationThreshold
	return threshold > 0 && m.globalFailures.Load() >= int64(threshold)
}

// publish emits a bus event. Publication failures are logged, never fatal;
// telemetry must not affect task outcomes.
func (m *Manager) publish(event domain.Event) {
	event.ID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.bus.Publish(ctx, domain.TopicTaskEvents, event); err != nil {
		m.logger.Warn("event publication failed",
			zap.String("type", string(event.Type)),
			zap.String("task_id", event.TaskID),
			zap.Error(err))
	}
}
