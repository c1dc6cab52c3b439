package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
)

// degradedStepName labels the consolidated simulation entry in the trace.
const degradedStepName = "degraded_simulation"

// Degrader produces a best-effort result when the multi-agent pipeline
// cannot complete. It collapses the whole workflow into a single call to
// one agent, prompted to play every role in sequence, and marks the
// result as degraded.
type Degrader struct {
	invoker ports.AgentInvoker
	logger  *zap.Logger
}

// NewDegrader builds a degradation controller around an invoker.
func NewDegrader(invoker ports.AgentInvoker, logger *zap.Logger) *Degrader {
	return &Degrader{invoker: invoker, logger: logger}
}

// Run performs the consolidated single-call simulation for a task whose
// pipeline failed with cause. The returned result carries the degraded
// marker, the cause's kind and truncated message, and a trace holding the
// outputs of any steps that completed before the failure plus the single
// simulation entry. A nil result with an error means the degraded call
// itself failed.
func (d *Degrader) Run(ctx context.Context, task *domain.TaskInstance, wf *domain.WorkflowDefinition, cause error) (*domain.TaskResult, error) {
	agent := d.pickAgent(wf)
	if agent == nil {
		return nil, domain.E(domain.KindDegradationFailure,
			"workflow %q has no agent available for degraded simulation", wf.Name)
	}

	d.logger.Warn("entering degraded single-call simulation",
		zap.String("task_id", task.ID),
		zap.String("workflow", wf.Name),
		zap.String("agent", agent.Name),
		zap.Error(cause))

	req := ports.InvokeRequest{
		TaskID:   task.ID,
		Workflow: wf.Name,
		Step:     degradedStepName,
		Input:    buildSimulationPrompt(wf, task),
		Context:  nil,
	}

	callCtx, cancel := context.WithTimeout(ctx, agent.Timeout)
	out, err := d.invoker.Invoke(callCtx, agent, req)
	cancel()
	if err != nil {
		return nil, domain.Wrap(domain.KindDegradationFailure, err,
			"degraded simulation failed for task %s (original error: %s)",
			task.ID, domain.TruncateMessage(cause.Error()))
	}

	now := time.Now().UTC()
	trace := make([]domain.TraceEntry, 0, len(task.Context.Entries)+1)
	for _, entry := range task.Context.Entries {
		trace = append(trace, domain.TraceEntry{
			Step:      entry.Step,
			Agent:     entry.Agent,
			Content:   entry.Output,
			Timestamp: entry.Timestamp,
		})
	}
	trace = append(trace, domain.TraceEntry{
		Step:      degradedStepName,
		Agent:     agent.Name,
		Role:      "consolidated simulation",
		Content:   out.Output,
		Timestamp: now,
	})

	return &domain.TaskResult{
		FinalResponse: out.Output,
		Trace:         trace,
		StepStatus:    task.StepStatusMap(),
		Degraded:      true,
		ErrorType:     string(domain.KindOf(cause)),
		ErrorMessage:  domain.TruncateMessage(cause.Error()),
	}, nil
}

// pickAgent selects the executor for the consolidated call: the agent of
// the workflow's final step, falling back to the first step's agent.
func (d *Degrader) pickAgent(wf *domain.WorkflowDefinition) *domain.AgentDefinition {
	if len(wf.Steps) == 0 {
		return nil
	}
	return wf.Steps[len(wf.Steps)-1].Agent
}

// buildSimulationPrompt asks a single agent to emulate the full pipeline:
// each role described in step order, any already-completed outputs included
// as prior work, ending with the original request.
func buildSimulationPrompt(wf *domain.WorkflowDefinition, task *domain.TaskInstance) string {
	var b strings.Builder

	b.WriteString("The multi-agent pipeline for this request is unavailable. ")
	b.WriteString("Act as every agent below in order and produce the final response yourself.\n\n")
	b.WriteString("Roles to emulate:\n")
	for i, s := range wf.Steps {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, s.Agent.Name, s.Agent.Role, s.Agent.Description)
	}

	if len(task.Context.Entries) > 0 {
		b.WriteString("\nWork already completed by earlier steps:\n")
		for _, entry := range task.Context.Entries {
			if entry.Skipped {
				continue
			}
			fmt.Fprintf(&b, "--- %s (%s) ---\n%s\n", entry.Step, entry.Agent, entry.Output)
		}
	}

	b.WriteString("\nOriginal request:\n")
	b.WriteString(task.Input)
	b.WriteString("\n\nRespond with the final answer only.")

	return b.String()
}
