package registry

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oteiza/mago/internal/domain"
)

// File schema of the collaboration rules document. Raw declarations are
// resolved into typed domain definitions during Parse; after a successful
// load no string lookup can fail at runtime.

type rulesFile struct {
	Version   string         `yaml:"version"`
	Agents    []agentDecl    `yaml:"agents"`
	Workflows []workflowDecl `yaml:"workflows"`
	Rules     rulesDecl      `yaml:"collaboration_rules"`
}

type agentDecl struct {
	Name           string   `yaml:"name"`
	Role           string   `yaml:"role"`
	Description    string   `yaml:"description"`
	Capabilities   []string `yaml:"capabilities"`
	MaxRetries     int      `yaml:"max_retries"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Priority       int      `yaml:"priority"`
}

type workflowDecl struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Steps       []stepDecl `yaml:"steps"`
}

type stepDecl struct {
	Name           string   `yaml:"name"`
	Agent          string   `yaml:"agent"`
	Required       *bool    `yaml:"required"`
	Dependencies   []string `yaml:"dependencies"`
	RetryOnFailure *bool    `yaml:"retry_on_failure"`
}

type rulesDecl struct {
	TaskAssignment struct {
		MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	} `yaml:"task_assignment"`
	Communication struct {
		MaxMessageLength   int  `yaml:"max_message_length"`
		RecordSkippedSteps bool `yaml:"record_skipped_steps"`
	} `yaml:"communication"`
	ErrorHandling struct {
		AutoRetry           *bool `yaml:"auto_retry"`
		MaxGlobalRetries    int   `yaml:"max_global_retries"`
		RetryBackoffBaseMS  int   `yaml:"retry_backoff_base_ms"`
		RetryBackoffMaxMS   int   `yaml:"retry_backoff_max_ms"`
		EscalationThreshold int   `yaml:"escalation_threshold"`
	} `yaml:"error_handling"`
	Monitoring struct {
		HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds"`
	} `yaml:"monitoring"`
}

// Parse unmarshals and validates a collaboration rules document, returning
// an immutable snapshot. Any declaration error rejects the load wholesale.
func Parse(data []byte) (*Snapshot, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.Wrap(domain.KindConfig, err, "invalid YAML in rules document")
	}

	if len(file.Agents) == 0 {
		return nil, domain.E(domain.KindConfig, "at least one agent must be declared")
	}
	if len(file.Workflows) == 0 {
		return nil, domain.E(domain.KindConfig, "at least one workflow must be declared")
	}

	agents := make(map[string]*domain.AgentDefinition, len(file.Agents))
	for _, a := range file.Agents {
		if a.Name == "" {
			return nil, domain.E(domain.KindConfig, "agent with empty name")
		}
		if _, dup := agents[a.Name]; dup {
			return nil, domain.E(domain.KindConfig, "duplicate agent %q", a.Name)
		}
		def := &domain.AgentDefinition{
			Name:         a.Name,
			Role:         a.Role,
			Description:  a.Description,
			Capabilities: a.Capabilities,
			MaxRetries:   a.MaxRetries,
			Timeout:      time.Duration(a.TimeoutSeconds) * time.Second,
			Priority:     a.Priority,
		}
		if def.MaxRetries <= 0 {
			def.MaxRetries = 3
		}
		if def.Timeout <= 0 {
			def.Timeout = 30 * time.Second
		}
		if def.Priority <= 0 {
			def.Priority = 1
		}
		agents[a.Name] = def
	}

	workflows := make(map[string]*domain.WorkflowDefinition, len(file.Workflows))
	for _, w := range file.Workflows {
		if w.Name == "" {
			return nil, domain.E(domain.KindConfig, "workflow with empty name")
		}
		if _, dup := workflows[w.Name]; dup {
			return nil, domain.E(domain.KindConfig, "duplicate workflow %q", w.Name)
		}
		wf, err := buildWorkflow(w, agents)
		if err != nil {
			return nil, err
		}
		workflows[w.Name] = wf
	}

	if _, ok := workflows["default"]; !ok {
		return nil, domain.E(domain.KindConfig, "a %q workflow must be declared", "default")
	}

	return &Snapshot{
		Version:   file.Version,
		Agents:    agents,
		Workflows: workflows,
		Rules:     buildRules(file.Rules),
		LoadedAt:  time.Now().UTC(),
	}, nil
}

func buildWorkflow(w workflowDecl, agents map[string]*domain.AgentDefinition) (*domain.WorkflowDefinition, error) {
	if len(w.Steps) == 0 {
		return nil, domain.E(domain.KindConfig, "workflow %q has no steps", w.Name)
	}

	declared := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.Name == "" {
			return nil, domain.E(domain.KindConfig, "workflow %q has a step with empty name", w.Name)
		}
		if declared[s.Name] {
			return nil, domain.E(domain.KindConfig, "workflow %q declares step %q twice", w.Name, s.Name)
		}
		declared[s.Name] = true
	}

	steps := make([]*domain.StepDefinition, 0, len(w.Steps))
	deps := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		agent, ok := agents[s.Agent]
		if !ok {
			return nil, domain.E(domain.KindConfig,
				"workflow %q step %q references undeclared agent %q", w.Name, s.Name, s.Agent)
		}
		for _, dep := range s.Dependencies {
			if !declared[dep] {
				return nil, domain.E(domain.KindConfig,
					"workflow %q step %q depends on undeclared step %q", w.Name, s.Name, dep)
			}
			if dep == s.Name {
				return nil, domain.E(domain.KindConfig,
					"workflow %q step %q depends on itself", w.Name, s.Name)
			}
		}
		deps[s.Name] = s.Dependencies
		steps = append(steps, &domain.StepDefinition{
			Name:           s.Name,
			Agent:          agent,
			Required:       boolOr(s.Required, true),
			Dependencies:   s.Dependencies,
			RetryOnFailure: boolOr(s.RetryOnFailure, true),
		})
	}

	if cycle := findCycle(declared, deps); cycle != "" {
		return nil, domain.E(domain.KindConfig,
			"workflow %q has a dependency cycle through step %q", w.Name, cycle)
	}

	return domain.NewWorkflowDefinition(w.Name, w.Description, steps), nil
}

// findCycle runs a depth-first traversal with a recursion-stack check and
// returns the name of a step on a cycle, or "".
func findCycle(steps map[string]bool, deps map[string][]string) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))

	var visit func(name string) string
	visit = func(name string) string {
		switch state[name] {
		case inStack:
			return name
		case done:
			return ""
		}
		state[name] = inStack
		for _, dep := range deps[name] {
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		state[name] = done
		return ""
	}

	for name := range steps {
		if hit := visit(name); hit != "" {
			return hit
		}
	}
	return ""
}

func buildRules(r rulesDecl) domain.CollaborationRules {
	rules := domain.CollaborationRules{
		TaskAssignment: domain.TaskAssignmentRules{
			MaxConcurrentTasks: r.TaskAssignment.MaxConcurrentTasks,
		},
		Communication: domain.CommunicationRules{
			MaxMessageLength:   r.Communication.MaxMessageLength,
			RecordSkippedSteps: r.Communication.RecordSkippedSteps,
		},
		ErrorHandling: domain.ErrorHandlingRules{
			AutoRetry:           boolOr(r.ErrorHandling.AutoRetry, true),
			MaxGlobalRetries:    r.ErrorHandling.MaxGlobalRetries,
			RetryBackoffBase:    time.Duration(r.ErrorHandling.RetryBackoffBaseMS) * time.Millisecond,
			RetryBackoffMax:     time.Duration(r.ErrorHandling.RetryBackoffMaxMS) * time.Millisecond,
			EscalationThreshold: r.ErrorHandling.EscalationThreshold,
		},
		Monitoring: domain.MonitoringRules{
			HealthCheckInterval: time.Duration(r.Monitoring.HealthCheckIntervalSeconds) * time.Second,
		},
	}

	if rules.TaskAssignment.MaxConcurrentTasks <= 0 {
		rules.TaskAssignment.MaxConcurrentTasks = 5
	}
	if rules.Communication.MaxMessageLength <= 0 {
		rules.Communication.MaxMessageLength = 8192
	}
	if rules.ErrorHandling.RetryBackoffBase <= 0 {
		rules.ErrorHandling.RetryBackoffBase = 500 * time.Millisecond
	}
	if rules.ErrorHandling.RetryBackoffMax <= 0 {
		rules.ErrorHandling.RetryBackoffMax = 30 * time.Second
	}
	if rules.Monitoring.HealthCheckInterval <= 0 {
		rules.Monitoring.HealthCheckInterval = 30 * time.Second
	}
	return rules
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
