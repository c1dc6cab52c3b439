package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/ports"
	"github.com/oteiza/mago/pkg/adapters/agent/anthropic"
)

// Config holds agent invoker configuration.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
}

// NewInvoker creates an agent invoker for the configured provider.
func NewInvoker(cfg *Config) (ports.AgentInvoker, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Logger:      cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported agent provider: %s", cfg.Provider)
	}
}
