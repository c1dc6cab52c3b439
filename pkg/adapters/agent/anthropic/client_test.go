package anthropic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
)

func testClient(t *testing.T, temperature float64) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:      "test-key",
		Model:       "claude-3-5-sonnet-20241022",
		MaxTokens:   2048,
		Temperature: temperature,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBuildParamsCarriesModelSettings(t *testing.T) {
	c := testClient(t, 0.7)

	agent := &domain.AgentDefinition{Name: "summarizer", Role: "summarizer"}
	params := c.buildParams(agent, ports.InvokeRequest{Step: "summarize", Input: "text"})

	if string(params.Model) != "claude-3-5-sonnet-20241022" {
		t.Errorf("model = %q", params.Model)
	}
	if params.MaxTokens != 2048 {
		t.Errorf("max tokens = %d", params.MaxTokens)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.7 {
		t.Errorf("temperature = %+v, want 0.7 set", params.Temperature)
	}
	if len(params.System) != 1 || !strings.Contains(params.System[0].Text, "summarizer") {
		t.Errorf("system prompt = %+v", params.System)
	}
}

func TestBuildParamsOmitsZeroTemperature(t *testing.T) {
	c := testClient(t, 0)

	agent := &domain.AgentDefinition{Name: "fetcher", Role: "fetcher"}
	params := c.buildParams(agent, ports.InvokeRequest{Step: "fetch", Input: "q"})

	if params.Temperature.Valid() {
		t.Errorf("temperature = %+v, want unset so the API default applies", params.Temperature)
	}
}

func TestUserPromptThreadsContext(t *testing.T) {
	prompt := userPrompt(ports.InvokeRequest{
		Input: "what changed?",
		Context: []domain.ContextEntry{
			{Step: "fetch", Agent: "fetcher", Output: "raw text"},
			{Step: "analyze", Agent: "analyzer", Output: "", Skipped: true},
		},
	})

	if !strings.Contains(prompt, "raw text") {
		t.Error("prompt missing prior step output")
	}
	if strings.Contains(prompt, "analyze") {
		t.Error("skipped step leaked into the prompt")
	}
	if !strings.Contains(prompt, "what changed?") {
		t.Error("prompt missing the original request")
	}
}

func TestClassifyPassesContextErrorsThrough(t *testing.T) {
	agent := &domain.AgentDefinition{Name: "fetcher"}

	err := classify(agent, "fetch", context.DeadlineExceeded)
	if err != context.DeadlineExceeded {
		t.Errorf("deadline error was rewrapped: %v", err)
	}
	err = classify(agent, "fetch", context.Canceled)
	if err != context.Canceled {
		t.Errorf("cancel error was rewrapped: %v", err)
	}
}

func TestClassifyDefaultsToCollaboration(t *testing.T) {
	agent := &domain.AgentDefinition{Name: "fetcher"}

	err := classify(agent, "fetch", errors.New("connection reset"))
	if !domain.IsKind(err, domain.KindCollaboration) {
		t.Errorf("kind = %s, want %s", domain.KindOf(err), domain.KindCollaboration)
	}
}
