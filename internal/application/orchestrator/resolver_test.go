package orchestrator

import (
	"testing"
	"time"

	"github.com/oteiza/mago/internal/domain"
)

func testAgent(name string, priority int) *domain.AgentDefinition {
	return &domain.AgentDefinition{
		Name:       name,
		Role:       name,
		MaxRetries: 3,
		Timeout:    time.Second,
		Priority:   priority,
	}
}

func step(name string, agent *domain.AgentDefinition, deps ...string) *domain.StepDefinition {
	return &domain.StepDefinition{
		Name:           name,
		Agent:          agent,
		Required:       true,
		RetryOnFailure: true,
		Dependencies:   deps,
	}
}

func TestOrderLinearChain(t *testing.T) {
	a := testAgent("a", 1)
	wf := domain.NewWorkflowDefinition("wf", "", []*domain.StepDefinition{
		step("fetch", a),
		step("summarize", a, "fetch"),
		step("respond", a, "summarize"),
	})

	order, err := Order(wf)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"fetch", "summarize", "respond"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestOrderPriorityTieBreak(t *testing.T) {
	high := testAgent("high", 1)
	low := testAgent("low", 5)

	// Declared low-priority first: agent priority must win over declaration
	// order, declaration order only breaks exact priority ties.
	wf := domain.NewWorkflowDefinition("wf", "", []*domain.StepDefinition{
		step("slow", low),
		step("fast", high),
		step("also_fast", high),
	})

	order, err := Order(wf)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"fast", "also_fast", "slow"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestOrderDiamond(t *testing.T) {
	a := testAgent("a", 1)
	wf := domain.NewWorkflowDefinition("wf", "", []*domain.StepDefinition{
		step("fetch", a),
		step("summarize", a, "fetch"),
		step("analyze", a, "fetch"),
		step("coordinate", a, "summarize", "analyze"),
	})

	order, err := Order(wf)
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	if pos["fetch"] != 0 {
		t.Errorf("fetch not first: %v", order)
	}
	if pos["coordinate"] != 3 {
		t.Errorf("coordinate not last: %v", order)
	}
	if pos["summarize"] > pos["coordinate"] || pos["analyze"] > pos["coordinate"] {
		t.Errorf("dependency violated: %v", order)
	}
}

func TestOrderRejectsCycle(t *testing.T) {
	a := testAgent("a", 1)
	wf := domain.NewWorkflowDefinition("wf", "", []*domain.StepDefinition{
		step("x", a, "y"),
		step("y", a, "x"),
	})

	if _, err := Order(wf); !domain.IsKind(err, domain.KindConfig) {
		t.Fatalf("cycle not rejected, err = %v", err)
	}
}
