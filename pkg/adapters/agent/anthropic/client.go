package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
	"github.com/oteiza/mago/internal/ports"
)

// Client implements ports.AgentInvoker on the Anthropic Messages API. Each
// step invocation becomes one message call: the agent definition forms the
// system prompt, the execution context and task input form the user prompt.
type Client struct {
	inner       anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
	logger      *zap.Logger
}

// Config holds client settings.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
}

// NewClient creates an Anthropic-backed agent invoker.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaude3_5SonnetLatest
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Client{
		inner:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}, nil
}

// Invoke performs one agent call. Failures are classified into the domain
// error kinds so the scheduler can apply retry and degradation policy.
func (c *Client) Invoke(ctx context.Context, agent *domain.AgentDefinition, req ports.InvokeRequest) (*ports.InvokeResult, error) {
	resp, err := c.inner.Messages.New(ctx, c.buildParams(agent, req))
	if err != nil {
		return nil, classify(agent, req.Step, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	if text.Len() == 0 {
		return nil, domain.E(domain.KindCollaboration,
			"agent %s returned an empty response for step %s", agent.Name, req.Step)
	}

	c.logger.Debug("agent call completed",
		zap.String("agent", agent.Name),
		zap.String("step", req.Step),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))

	return &ports.InvokeResult{
		Output:       text.String(),
		Model:        string(resp.Model),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// buildParams assembles one message call from an agent definition and a
// step request.
func (c *Client) buildParams(agent *domain.AgentDefinition, req ports.InvokeRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(agent)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(req))),
		},
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}
	return params
}

// classify maps transport and API failures onto the domain error kinds.
// Context deadlines pass through untouched; the dispatching worker owns the
// timeout classification.
func classify(agent *domain.AgentDefinition, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 404:
			return domain.Wrap(domain.KindResourceNotFound, err,
				"agent %s: resource not found on step %s", agent.Name, step)
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return domain.Wrap(domain.KindCapabilityUnavailable, err,
				"agent %s temporarily unavailable on step %s", agent.Name, step)
		default:
			return domain.Wrap(domain.KindCollaboration, err,
				"agent %s rejected step %s", agent.Name, step)
		}
	}

	return domain.Wrap(domain.KindCollaboration, err,
		"agent %s call failed on step %s", agent.Name, step)
}

// systemPrompt renders the agent definition as the system message.
func systemPrompt(agent *domain.AgentDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the %s.\n", agent.Name, agent.Role)
	if agent.Description != "" {
		b.WriteString(agent.Description)
		b.WriteString("\n")
	}
	if len(agent.Capabilities) > 0 {
		fmt.Fprintf(&b, "Your capabilities: %s.\n", strings.Join(agent.Capabilities, ", "))
	}
	b.WriteString("Perform only your own role's work and respond with its output.")
	return b.String()
}

// userPrompt threads prior step outputs ahead of the original request.
func userPrompt(req ports.InvokeRequest) string {
	var b strings.Builder
	if len(req.Context) > 0 {
		b.WriteString("Output from earlier pipeline steps:\n")
		for _, entry := range req.Context {
			if entry.Skipped {
				continue
			}
			fmt.Fprintf(&b, "--- %s (%s) ---\n%s\n", entry.Step, entry.Agent, entry.Output)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Request:\n%s", req.Input)
	return b.String()
}
