package registry

import (
	"strings"
	"testing"
	"time"

	"github.com/oteiza/mago/internal/domain"
)

const validDoc = `
version: "1.0"
agents:
  - name: fetcher
    role: Information Retriever
    capabilities: [web_search]
    max_retries: 3
    timeout_seconds: 60
    priority: 1
  - name: responder
    role: Final Responder
    capabilities: [writing]
    max_retries: 2
    timeout_seconds: 30
    priority: 2
workflows:
  - name: default
    steps:
      - name: fetch
        agent: fetcher
      - name: respond
        agent: responder
        dependencies: [fetch]
collaboration_rules:
  task_assignment:
    max_concurrent_tasks: 3
  error_handling:
    retry_backoff_base_ms: 250
    escalation_threshold: 4
`

func TestParseValidDocument(t *testing.T) {
	snap, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if snap.Version != "1.0" {
		t.Errorf("version = %q", snap.Version)
	}
	if len(snap.Agents) != 2 || len(snap.Workflows) != 1 {
		t.Fatalf("got %d agents, %d workflows", len(snap.Agents), len(snap.Workflows))
	}

	fetcher := snap.Agents["fetcher"]
	if fetcher.Timeout != 60*time.Second || fetcher.MaxRetries != 3 {
		t.Errorf("fetcher = %+v", fetcher)
	}

	wf, err := snap.Workflow("default")
	if err != nil {
		t.Fatal(err)
	}
	respond := wf.Step("respond")
	if respond == nil {
		t.Fatal("respond step missing")
	}
	if respond.Agent != snap.Agents["responder"] {
		t.Error("step agent reference not resolved to the declared agent")
	}
	if !respond.Required || !respond.RetryOnFailure {
		t.Error("required and retry_on_failure should default to true")
	}

	if snap.Rules.TaskAssignment.MaxConcurrentTasks != 3 {
		t.Errorf("max_concurrent_tasks = %d", snap.Rules.TaskAssignment.MaxConcurrentTasks)
	}
	if snap.Rules.ErrorHandling.RetryBackoffBase != 250*time.Millisecond {
		t.Errorf("backoff base = %s", snap.Rules.ErrorHandling.RetryBackoffBase)
	}
	if snap.Rules.ErrorHandling.EscalationThreshold != 4 {
		t.Errorf("escalation threshold = %d", snap.Rules.ErrorHandling.EscalationThreshold)
	}

	// Unset knobs fall back to defaults.
	if snap.Rules.Communication.MaxMessageLength != 8192 {
		t.Errorf("max_message_length default = %d", snap.Rules.Communication.MaxMessageLength)
	}
	if !snap.Rules.ErrorHandling.AutoRetry {
		t.Error("auto_retry should default to true")
	}
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name: "undeclared agent reference",
			doc: `
agents:
  - name: fetcher
    role: r
workflows:
  - name: default
    steps:
      - name: fetch
        agent: ghost
`,
			wantMsg: `references undeclared agent "ghost"`,
		},
		{
			name: "undeclared dependency",
			doc: `
agents:
  - name: fetcher
    role: r
workflows:
  - name: default
    steps:
      - name: fetch
        agent: fetcher
        dependencies: [missing]
`,
			wantMsg: `depends on undeclared step "missing"`,
		},
		{
			name: "self dependency",
			doc: `
agents:
  - name: fetcher
    role: r
workflows:
  - name: default
    steps:
      - name: fetch
        agent: fetcher
        dependencies: [fetch]
`,
			wantMsg: "depends on itself",
		},
		{
			name: "dependency cycle",
			doc: `
agents:
  - name: fetcher
    role: r
workflows:
  - name: default
    steps:
      - name: a
        agent: fetcher
        dependencies: [c]
      - name: b
        agent: fetcher
        dependencies: [a]
      - name: c
        agent: fetcher
        dependencies: [b]
`,
			wantMsg: "dependency cycle",
		},
		{
			name: "missing default workflow",
			doc: `
agents:
  - name: fetcher
    role: r
workflows:
  - name: other
    steps:
      - name: fetch
        agent: fetcher
`,
			wantMsg: `"default" workflow must be declared`,
		},
		{
			name: "duplicate step",
			doc: `
agents:
  - name: fetcher
    role: r
workflows:
  - name: default
    steps:
      - name: fetch
        agent: fetcher
      - name: fetch
        agent: fetcher
`,
			wantMsg: `declares step "fetch" twice`,
		},
		{
			name:    "no agents",
			doc:     `workflows: [{name: default, steps: [{name: s, agent: a}]}]`,
			wantMsg: "at least one agent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse should fail")
			}
			if !domain.IsKind(err, domain.KindConfig) {
				t.Errorf("error kind = %s, want %s", domain.KindOf(err), domain.KindConfig)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseKeepsDiamondDependencies(t *testing.T) {
	doc := `
agents:
  - name: worker
    role: r
workflows:
  - name: default
    steps:
      - name: fetch
        agent: worker
      - name: summarize
        agent: worker
        dependencies: [fetch]
      - name: analyze
        agent: worker
        dependencies: [fetch]
      - name: coordinate
        agent: worker
        dependencies: [summarize, analyze]
`
	if _, err := Parse([]byte(doc)); err != nil {
		t.Fatalf("diamond dependency graph rejected: %v", err)
	}
}
