package domain

import "time"

// AgentDefinition is the capability profile of one agent. Definitions are
// immutable once a registry snapshot is published.
type AgentDefinition struct {
	Name         string        `json:"name"`
	Role         string        `json:"role"`
	Description  string        `json:"description,omitempty"`
	Capabilities []string      `json:"capabilities"`
	MaxRetries   int           `json:"max_retries"`
	Timeout      time.Duration `json:"timeout"`
	Priority     int           `json:"priority"`
}

// StepDefinition is one unit of work within a workflow. Agent holds the
// resolved definition; references are validated once at load time so there
// are no runtime lookup failures.
type StepDefinition struct {
	Name           string           `json:"name"`
	Agent          *AgentDefinition `json:"agent"`
	Required       bool             `json:"required"`
	Dependencies   []string         `json:"dependencies"`
	RetryOnFailure bool             `json:"retry_on_failure"`

	// Index is the declaration order within the workflow, used as the final
	// tie-breaker when scheduling.
	Index int `json:"-"`
}

// WorkflowDefinition is a named, ordered set of steps with dependency edges.
type WorkflowDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Steps       []*StepDefinition `json:"steps"`

	steps map[string]*StepDefinition
}

// NewWorkflowDefinition builds a workflow and its step index.
func NewWorkflowDefinition(name, description string, steps []*StepDefinition) *WorkflowDefinition {
	wf := &WorkflowDefinition{
		Name:        name,
		Description: description,
		Steps:       steps,
		steps:       make(map[string]*StepDefinition, len(steps)),
	}
	for i, s := range steps {
		s.Index = i
		wf.steps[s.Name] = s
	}
	return wf
}

// Step returns the step with the given name, or nil.
func (w *WorkflowDefinition) Step(name string) *StepDefinition {
	return w.steps[name]
}

// CollaborationRules are the global policy knobs loaded alongside agent and
// workflow declarations.
type CollaborationRules struct {
	TaskAssignment TaskAssignmentRules `json:"task_assignment"`
	Communication  CommunicationRules  `json:"communication"`
	ErrorHandling  ErrorHandlingRules  `json:"error_handling"`
	Monitoring     MonitoringRules     `json:"monitoring"`
}

// TaskAssignmentRules bound concurrent step dispatch.
type TaskAssignmentRules struct {
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
}

// CommunicationRules govern the execution context threaded between steps.
type CommunicationRules struct {
	MaxMessageLength int `json:"max_message_length"`

	// RecordSkippedSteps controls whether a skipped optional step still
	// contributes a placeholder entry to the execution context.
	RecordSkippedSteps bool `json:"record_skipped_steps"`
}

// ErrorHandlingRules govern retry, backoff and degradation escalation.
type ErrorHandlingRules struct {
	AutoRetry        bool          `json:"auto_retry"`
	MaxGlobalRetries int           `json:"max_global_retries"`
	RetryBackoffBase time.Duration `json:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `json:"retry_backoff_max"`

	// EscalationThreshold is the number of degradation-class failures across
	// the process lifetime after which new tasks are forced straight onto the
	// degraded path. Zero disables escalation.
	EscalationThreshold int `json:"escalation_threshold"`
}

// MonitoringRules configure the health reporting loop.
type MonitoringRules struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}
