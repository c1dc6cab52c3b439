package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/application/workers"
	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
	"github.com/oteiza/mago/internal/registry"
	"github.com/oteiza/mago/internal/statemachine"
)

// taskRun is the scheduler for one task. Its goroutine is the single writer
// of the task instance: workers report results over channels and never touch
// the aggregate.
type taskRun struct {
	m     *Manager
	task  *domain.TaskInstance
	snap  *registry.Snapshot
	wf    *domain.WorkflowDefinition
	rules domain.CollaborationRules
	order []string

	results chan workers.StepResult
	retries chan string

	inFlight     map[string]bool
	waiting      map[string]bool
	totalRetries int
}

func newTaskRun(m *Manager, task *domain.TaskInstance, snap *registry.Snapshot, wf *domain.WorkflowDefinition) *taskRun {
	return &taskRun{
		m:        m,
		task:     task,
		snap:     snap,
		wf:       wf,
		rules:    snap.Rules,
		results:  make(chan workers.StepResult, len(wf.Steps)),
		retries:  make(chan string, len(wf.Steps)),
		inFlight: make(map[string]bool, len(wf.Steps)),
		waiting:  make(map[string]bool, len(wf.Steps)),
	}
}

// run drives the task from queued to a terminal state.
func (r *taskRun) run(ctx context.Context) {
	t := r.task

	if err := r.m.machine.Fire(t, statemachine.TriggerBeginExecution); err != nil {
		r.m.logger.Error("task cannot begin execution",
			zap.String("task_id", t.ID), zap.Error(err))
		return
	}
	now := time.Now().UTC()
	t.StartedAt = &now
	r.persist()
	r.m.publish(domain.Event{Type: domain.EventTypeTaskStarted, TaskID: t.ID})

	if r.m.escalated(r.rules) {
		r.m.logger.Warn("escalation threshold reached, forcing degraded path",
			zap.String("task_id", t.ID),
			zap.Int64("global_failures", r.m.globalFailures.Load()))
		r.degrade(ctx, domain.E(domain.KindCollaboration,
			"degradation escalation threshold reached (%d failures)", r.m.globalFailures.Load()))
		return
	}

	order, err := Order(r.wf)
	if err != nil {
		r.finalizeFailed(err)
		return
	}
	r.order = order

	for {
		if r.allTerminal() {
			r.finalizeCompleted()
			return
		}
		if err := r.dispatchReady(ctx); err != nil {
			r.finalizeCancelled()
			return
		}
		if r.hasBlockedPending() {
			r.fireIfCan(statemachine.TriggerWaitForDependency)
		}
		if len(r.inFlight) == 0 && len(r.waiting) == 0 {
			// No work in flight and no backoff pending, yet steps remain.
			r.finalizeFailed(domain.E(domain.KindInternal,
				"workflow %q stalled with unresolved steps", r.wf.Name))
			return
		}

		select {
		case res := <-r.results:
			if ctx.Err() != nil {
				r.finalizeCancelled()
				return
			}
			r.fireIfCan(statemachine.TriggerResumeExecution)
			if done := r.handleResult(ctx, res); done {
				return
			}
		case step := <-r.retries:
			delete(r.waiting, step)
			r.fireIfCan(statemachine.TriggerResumeExecution)
			if err := r.dispatchStep(ctx, step); err != nil {
				r.finalizeCancelled()
				return
			}
		case <-ctx.Done():
			r.finalizeCancelled()
			return
		}
	}
}

// dispatchReady walks the precomputed order and dispatches every pending
// step whose dependencies are all satisfied. Skipped dependencies count as
// satisfied; only required steps can fail, and a required failure never
// reaches this point.
func (r *taskRun) dispatchReady(ctx context.Context) error {
	for _, name := range r.order {
		rec := r.task.Steps[name]
		if rec.Status != domain.StepStatusPending || r.inFlight[name] || r.waiting[name] {
			continue
		}
		if !r.depsSatisfied(name) {
			continue
		}
		if err := r.dispatchStep(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *taskRun) depsSatisfied(name string) bool {
	for _, dep := range r.wf.Step(name).Dependencies {
		switch r.task.Steps[dep].Status {
		case domain.StepStatusSucceeded, domain.StepStatusSkipped:
		default:
			return false
		}
	}
	return true
}

// dispatchStep hands one step attempt to the worker pool. It blocks while
// the pool queue is full; a cancelled context surfaces as an error.
func (r *taskRun) dispatchStep(ctx context.Context, name string) error {
	t := r.task
	rec := t.Steps[name]
	step := r.wf.Step(name)

	rec.Attempts++
	rec.Status = domain.StepStatusRunning
	if rec.StartedAt == nil {
		now := time.Now().UTC()
		rec.StartedAt = &now
	}
	r.inFlight[name] = true

	if rec.Attempts == 1 {
		r.m.publish(domain.Event{
			Type: domain.EventTypeStepStarted, TaskID: t.ID, Step: name, Agent: step.Agent.Name,
		})
	}
	r.persist()

	d := &workers.Dispatch{
		TaskID:  t.ID,
		Step:    name,
		Attempt: rec.Attempts,
		Agent:   step.Agent,
		Request: r.buildRequest(name),
		Ctx:     ctx,
		Result:  r.results,
	}
	if err := r.m.pool.Submit(d); err != nil {
		delete(r.inFlight, name)
		return err
	}
	return nil
}

// buildRequest snapshots the execution context for a worker. Workers get a
// copy; only this goroutine appends to the live context.
func (r *taskRun) buildRequest(step string) ports.InvokeRequest {
	entries := make([]domain.ContextEntry, len(r.task.Context.Entries))
	copy(entries, r.task.Context.Entries)
	return ports.InvokeRequest{
		TaskID:   r.task.ID,
		Workflow: r.wf.Name,
		Step:     step,
		Input:    r.task.Input,
		Context:  entries,
	}
}

// handleResult applies one step outcome. It returns true when the task has
// been finalized.
func (r *taskRun) handleResult(ctx context.Context, res workers.StepResult) bool {
	t := r.task
	rec := t.Steps[res.Step]
	step := r.wf.Step(res.Step)
	delete(r.inFlight, res.Step)
	now := time.Now().UTC()

	if res.Err == nil {
		rec.Status = domain.StepStatusSucceeded
		rec.CompletedAt = &now

		output := res.Output.Output
		if max := r.rules.Communication.MaxMessageLength; max > 0 && len(output) > max {
			output = output[:max]
		}
		t.Context.Append(domain.ContextEntry{
			Step: res.Step, Agent: step.Agent.Name, Output: output, Timestamp: now,
		})

		r.m.publish(domain.Event{
			Type: domain.EventTypeStepCompleted, TaskID: t.ID, Step: res.Step, Agent: step.Agent.Name,
			Data: map[string]interface{}{"attempt": res.Attempt, "duration_ms": res.Duration.Milliseconds()},
		})
		r.m.metrics.RecordStepExecuted(step.Agent.Name, "succeeded", res.Duration)
		r.persist()
		return false
	}

	kind := domain.KindOf(res.Err)
	r.m.logger.Warn("step attempt failed",
		zap.String("task_id", t.ID),
		zap.String("step", res.Step),
		zap.String("agent", step.Agent.Name),
		zap.Int("attempt", res.Attempt),
		zap.String("kind", string(kind)),
		zap.Error(res.Err))

	if r.canRetry(step, rec, kind) {
		r.scheduleRetry(ctx, res.Step, rec.Attempts)
		return false
	}

	rec.CompletedAt = &now
	rec.Error = domain.TruncateMessage(res.Err.Error())
	rec.ErrorKind = string(kind)

	if !step.Required {
		rec.Status = domain.StepStatusSkipped
		if r.rules.Communication.RecordSkippedSteps {
			t.Context.Append(domain.ContextEntry{
				Step:    res.Step,
				Agent:   step.Agent.Name,
				Output:  fmt.Sprintf("[step %s skipped after %d attempts: %s]", res.Step, rec.Attempts, rec.Error),
				Skipped: true, Timestamp: now,
			})
		}
		r.m.publish(domain.Event{
			Type: domain.EventTypeStepSkipped, TaskID: t.ID, Step: res.Step, Agent: step.Agent.Name,
			Data: map[string]interface{}{"error": rec.Error, "error_kind": rec.ErrorKind},
		})
		r.m.metrics.RecordStepExecuted(step.Agent.Name, "skipped", res.Duration)
		r.persist()
		return false
	}

	rec.Status = domain.StepStatusFailed
	r.m.publish(domain.Event{
		Type: domain.EventTypeStepFailed, TaskID: t.ID, Step: res.Step, Agent: step.Agent.Name,
		Data: map[string]interface{}{"error": rec.Error, "error_kind": rec.ErrorKind},
	})
	r.m.metrics.RecordStepExecuted(step.Agent.Name, "failed", res.Duration)

	if domain.TriggersDegradation(kind) {
		r.m.globalFailures.Add(1)
		r.degrade(ctx, res.Err)
		return true
	}

	r.finalizeFailed(res.Err)
	return true
}

// canRetry gates one more attempt: retry must be enabled globally and on the
// step, the failure kind retryable, and neither the agent's attempt budget
// nor the per-task retry budget exhausted.
func (r *taskRun) canRetry(step *domain.StepDefinition, rec *domain.StepRecord, kind domain.ErrorKind) bool {
	if !r.rules.ErrorHandling.AutoRetry || !step.RetryOnFailure {
		return false
	}
	if !domain.IsRetryable(kind) {
		return false
	}
	if rec.Attempts >= step.Agent.MaxRetries {
		return false
	}
	if max := r.rules.ErrorHandling.MaxGlobalRetries; max > 0 && r.totalRetries >= max {
		return false
	}
	return true
}

// scheduleRetry arms a backoff timer for the next attempt. The step keeps
// its running record; the task drops into retrying when nothing else is
// progressing.
func (r *taskRun) scheduleRetry(ctx context.Context, name string, attempt int) {
	t := r.task
	step := r.wf.Step(name)
	delay := backoffDelay(r.rules.ErrorHandling, attempt)

	r.totalRetries++
	r.waiting[name] = true
	r.fireIfCan(statemachine.TriggerRetryTask)
	r.persist()

	r.m.publish(domain.Event{
		Type: domain.EventTypeStepRetrying, TaskID: t.ID, Step: name, Agent: step.Agent.Name,
		Data: map[string]interface{}{"attempt": attempt, "backoff_ms": delay.Milliseconds()},
	})
	r.m.metrics.RecordStepRetry(step.Agent.Name)

	time.AfterFunc(delay, func() {
		select {
		case r.retries <- name:
		case <-ctx.Done():
		}
	})
}

// backoffDelay is exponential in the attempt count, capped.
func backoffDelay(rules domain.ErrorHandlingRules, attempt int) time.Duration {
	delay := rules.RetryBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= rules.RetryBackoffMax {
			return rules.RetryBackoffMax
		}
	}
	if rules.RetryBackoffMax > 0 && delay > rules.RetryBackoffMax {
		delay = rules.RetryBackoffMax
	}
	return delay
}

// degrade hands the task to the degradation controller. A successful
// degraded call completes the task with the degraded marker; a failed one
// fails the task with both errors recorded.
func (r *taskRun) degrade(ctx context.Context, cause error) {
	t := r.task
	r.skipUnfinished()
	r.m.metrics.RecordDegradation(r.wf.Name)
	r.m.publish(domain.Event{
		Type: domain.EventTypeTaskDegraded, TaskID: t.ID,
		Data: map[string]interface{}{"error": domain.TruncateMessage(cause.Error()), "error_kind": string(domain.KindOf(cause))},
	})

	result, err := r.m.degrader.Run(ctx, t, r.wf, cause)
	if err != nil {
		t.Degraded = true
		r.finalizeFailed(err)
		return
	}

	t.Degraded = true
	t.Result = result
	t.ErrorKind = result.ErrorType
	t.ErrorMessage = result.ErrorMessage
	r.finalize(statemachine.TriggerCompleteTask, domain.EventTypeTaskCompleted)
}

// finalizeCompleted builds the normal result from the execution context and
// completes the task. The final response is the output of the last
// non-skipped step.
func (r *taskRun) finalizeCompleted() {
	t := r.task

	final := ""
	trace := make([]domain.TraceEntry, 0, len(t.Context.Entries))
	for _, entry := range t.Context.Entries {
		trace = append(trace, domain.TraceEntry{
			Step: entry.Step, Agent: entry.Agent, Content: entry.Output, Timestamp: entry.Timestamp,
		})
		if !entry.Skipped {
			final = entry.Output
		}
	}
	t.Result = &domain.TaskResult{
		FinalResponse: final,
		Trace:         trace,
		StepStatus:    t.StepStatusMap(),
	}
	r.finalize(statemachine.TriggerCompleteTask, domain.EventTypeTaskCompleted)
}

func (r *taskRun) finalizeFailed(cause error) {
	t := r.task
	r.skipUnfinished()
	t.ErrorKind = string(domain.KindOf(cause))
	t.ErrorMessage = domain.TruncateMessage(cause.Error())
	r.finalize(statemachine.TriggerFailTask, domain.EventTypeTaskFailed)
}

func (r *taskRun) finalizeCancelled() {
	r.skipUnfinished()
	r.finalize(statemachine.TriggerCancelTask, domain.EventTypeTaskCancelled)
}

// finalize fires the terminal transition, stamps completion, persists and
// publishes. Retrying and waiting states are resumed first so the trigger
// fires from a legal source.
func (r *taskRun) finalize(trigger statemachine.Trigger, eventType domain.EventType) {
	t := r.task

	if !r.m.machine.Can(t.State, trigger) {
		r.fireIfCan(statemachine.TriggerResumeExecution)
	}
	if err := r.m.machine.Fire(t, trigger); err != nil {
		r.m.logger.Error("terminal transition rejected",
			zap.String("task_id", t.ID),
			zap.String("trigger", string(trigger)),
			zap.String("state", string(t.State)),
			zap.Error(err))
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	r.persist()

	duration := time.Duration(0)
	if t.StartedAt != nil {
		duration = now.Sub(*t.StartedAt)
	}
	r.m.metrics.RecordTaskCompleted(string(t.State), t.Degraded, duration)
	r.m.publish(domain.Event{
		Type: eventType, TaskID: t.ID,
		Data: map[string]interface{}{"state": string(t.State), "degraded": t.Degraded},
	})
	r.m.logger.Info("task finalized",
		zap.String("task_id", t.ID),
		zap.String("state", string(t.State)),
		zap.Bool("degraded", t.Degraded),
		zap.Duration("duration", duration))
}

// skipUnfinished marks every step that never reached a terminal status as
// skipped. In-flight attempts are abandoned; their eventual results are
// discarded with the task context.
func (r *taskRun) skipUnfinished() {
	for _, rec := range r.task.Steps {
		if !rec.Status.IsTerminal() {
			rec.Status = domain.StepStatusSkipped
		}
	}
}

func (r *taskRun) allTerminal() bool {
	for _, rec := range r.task.Steps {
		if !rec.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// hasBlockedPending reports whether some step is still waiting on an
// unfinished dependency.
func (r *taskRun) hasBlockedPending() bool {
	for _, rec := range r.task.Steps {
		if rec.Status == domain.StepStatusPending && !r.waiting[rec.Step] && !r.depsSatisfied(rec.Step) {
			return true
		}
	}
	return false
}

func (r *taskRun) fireIfCan(trigger statemachine.Trigger) {
	if r.m.machine.Can(r.task.State, trigger) {
		if err := r.m.machine.Fire(r.task, trigger); err == nil {
			r.persist()
		}
	}
}

// persist saves the task under its own deadline; the task context may
// already be cancelled when a final state is written.
func (r *taskRun) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.m.store.Save(ctx, r.task); err != nil {
		r.m.logger.Error("task persistence failed",
			zap.String("task_id", r.task.ID), zap.Error(err))
	}
}
