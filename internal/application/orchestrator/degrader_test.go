package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
)

func degraderFixture() (*domain.WorkflowDefinition, *domain.TaskInstance) {
	fetcher := testAgent("fetcher", 1)
	fetcher.Description = "retrieves source material"
	responder := testAgent("responder", 1)
	responder.Description = "writes the final answer"

	wf := domain.NewWorkflowDefinition("default", "", []*domain.StepDefinition{
		step("fetch", fetcher),
		step("respond", responder, "fetch"),
	})

	task := domain.NewTaskInstance("t1", wf, "what changed last week?", domain.PriorityNormal)
	task.Context.Append(domain.ContextEntry{
		Step:      "fetch",
		Agent:     "fetcher",
		Output:    "raw source text",
		Timestamp: time.Now().UTC(),
	})
	return wf, task
}

func TestDegraderRunBuildsDegradedResult(t *testing.T) {
	wf, task := degraderFixture()

	var prompt string
	var calledAgent string
	capture := invokerFunc(func(ctx context.Context, agent *domain.AgentDefinition, req ports.InvokeRequest) (*ports.InvokeResult, error) {
		prompt = req.Input
		calledAgent = agent.Name
		if req.Step != degradedStepName {
			t.Errorf("step = %q, want %q", req.Step, degradedStepName)
		}
		return &ports.InvokeResult{Output: "consolidated answer"}, nil
	})

	d := NewDegrader(capture, zap.NewNop())
	cause := domain.E(domain.KindResourceNotFound, "source repository deleted")

	res, err := d.Run(context.Background(), task, wf, cause)
	if err != nil {
		t.Fatal(err)
	}

	if calledAgent != "responder" {
		t.Errorf("simulation agent = %q, want the final step's agent", calledAgent)
	}
	for _, want := range []string{
		"fetcher", "retrieves source material",
		"responder", "writes the final answer",
		"raw source text",
		"what changed last week?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if !res.Degraded {
		t.Error("result not marked degraded")
	}
	if res.FinalResponse != "consolidated answer" {
		t.Errorf("final response = %q", res.FinalResponse)
	}
	if res.ErrorType != string(domain.KindResourceNotFound) {
		t.Errorf("errorType = %q", res.ErrorType)
	}
	if !strings.Contains(res.ErrorMessage, "source repository deleted") {
		t.Errorf("errorMessage = %q", res.ErrorMessage)
	}

	if len(res.Trace) != 2 {
		t.Fatalf("trace has %d entries, want completed step plus simulation", len(res.Trace))
	}
	last := res.Trace[len(res.Trace)-1]
	if last.Step != degradedStepName || last.Agent != "responder" {
		t.Errorf("simulation trace entry = %+v", last)
	}
}

func TestDegraderRunWrapsInvokerFailure(t *testing.T) {
	wf, task := degraderFixture()

	failing := invokerFunc(func(ctx context.Context, agent *domain.AgentDefinition, req ports.InvokeRequest) (*ports.InvokeResult, error) {
		return nil, domain.E(domain.KindCollaboration, "model unreachable")
	})

	d := NewDegrader(failing, zap.NewNop())
	cause := domain.E(domain.KindResourceNotFound, "source gone")

	res, err := d.Run(context.Background(), task, wf, cause)
	if res != nil {
		t.Fatalf("result = %+v, want nil on failure", res)
	}
	if !domain.IsKind(err, domain.KindDegradationFailure) {
		t.Fatalf("error kind = %s, want %s", domain.KindOf(err), domain.KindDegradationFailure)
	}
	if !strings.Contains(err.Error(), "source gone") {
		t.Errorf("error %q does not record the original cause", err)
	}
}

// invokerFunc adapts a function to ports.AgentInvoker.
type invokerFunc func(ctx context.Context, agent *domain.AgentDefinition, req ports.InvokeRequest) (*ports.InvokeResult, error)

func (f invokerFunc) Invoke(ctx context.Context, agent *domain.AgentDefinition, req ports.InvokeRequest) (*ports.InvokeResult, error) {
	return f(ctx, agent, req)
}
