package domain

import "time"

// TaskState is the lifecycle state of a task instance.
type TaskState string

const (
	TaskStateIdle                 TaskState = "idle"
	TaskStateQueued               TaskState = "queued"
	TaskStateRunning              TaskState = "running"
	TaskStateWaitingForDependency TaskState = "waiting_for_dependency"
	TaskStateRetrying             TaskState = "retrying"
	TaskStateCompleted            TaskState = "completed"
	TaskStateFailed               TaskState = "failed"
	TaskStateCancelled            TaskState = "cancelled"
)

// IsTerminal reports whether the state is terminal until an explicit reset.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCancelled
}

// StepStatus is the per-step execution status within a task.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether the step has reached a final status.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusSkipped
}

// TaskPriority is the caller-supplied priority of a task submission.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// StepRecord tracks one step's execution within a task.
type StepRecord struct {
	Step        string     `json:"step"`
	Agent       string     `json:"agent"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
}

// ContextEntry is one step's contribution to the execution context.
type ContextEntry struct {
	Step      string    `json:"step"`
	Agent     string    `json:"agent"`
	Output    string    `json:"output"`
	Skipped   bool      `json:"skipped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionContext is the per-task accumulator threaded through steps. It is
// exclusively owned by its task and never shared across tasks.
type ExecutionContext struct {
	TaskID  string         `json:"task_id"`
	Entries []ContextEntry `json:"entries"`
}

// Append records a completed step's output.
func (c *ExecutionContext) Append(entry ContextEntry) {
	c.Entries = append(c.Entries, entry)
}

// TraceEntry is one line of the step-by-step trace in a task result.
type TraceEntry struct {
	Step      string    `json:"step"`
	Agent     string    `json:"agent"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskResult is the terminal result of a task. Degraded results carry the
// same structural contract as normal ones plus the degraded marker and the
// recorded error.
type TaskResult struct {
	FinalResponse string                `json:"final_response"`
	Trace         []TraceEntry          `json:"trace"`
	StepStatus    map[string]StepStatus `json:"step_status"`
	Degraded      bool                  `json:"degraded"`
	ErrorType     string                `json:"errorType,omitempty"`
	ErrorMessage  string                `json:"errorMessage,omitempty"`
}

// TaskInstance is one workflow execution. The scheduler goroutine owns all
// aggregate mutation while the task is live; readers see persisted copies.
type TaskInstance struct {
	ID        string       `json:"task_id"`
	Workflow  string       `json:"workflow"`
	Input     string       `json:"input"`
	Priority  TaskPriority `json:"priority"`
	State     TaskState    `json:"state"`
	Degraded  bool         `json:"degraded"`
	CreatedAt time.Time    `json:"created_at"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Steps   map[string]*StepRecord `json:"steps"`
	Context *ExecutionContext      `json:"context"`
	Result  *TaskResult            `json:"result,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
}

// NewTaskInstance creates a task in the idle state with pending step records
// for every step of the workflow.
func NewTaskInstance(id string, wf *WorkflowDefinition, input string, priority TaskPriority) *TaskInstance {
	t := &TaskInstance{
		ID:        id,
		Workflow:  wf.Name,
		Input:     input,
		Priority:  priority,
		State:     TaskStateIdle,
		CreatedAt: time.Now().UTC(),
		Steps:     make(map[string]*StepRecord, len(wf.Steps)),
		Context:   &ExecutionContext{TaskID: id},
	}
	for _, s := range wf.Steps {
		t.Steps[s.Name] = &StepRecord{
			Step:   s.Name,
			Agent:  s.Agent.Name,
			Status: StepStatusPending,
		}
	}
	return t
}

// StepStatusMap returns a snapshot of per-step statuses.
func (t *TaskInstance) StepStatusMap() map[string]StepStatus {
	statuses := make(map[string]StepStatus, len(t.Steps))
	for name, rec := range t.Steps {
		statuses[name] = rec.Status
	}
	return statuses
}

// Reset returns the task to idle, clearing all execution state. Step records
// are rebuilt as pending.
func (t *TaskInstance) Reset() {
	t.State = TaskStateIdle
	t.Degraded = false
	t.StartedAt = nil
	t.CompletedAt = nil
	t.Result = nil
	t.ErrorMessage = ""
	t.ErrorKind = ""
	t.Context = &ExecutionContext{TaskID: t.ID}
	for name, rec := range t.Steps {
		t.Steps[name] = &StepRecord{
			Step:   name,
			Agent:  rec.Agent,
			Status: StepStatusPending,
		}
	}
}

// TaskStats aggregates task counts for the stats endpoint.
type TaskStats struct {
	Total      int            `json:"total_tasks"`
	Active     int            `json:"active_tasks"`
	ByState    map[string]int `json:"by_state"`
	ByPriority map[string]int `json:"by_priority"`
	ByWorkflow map[string]int `json:"by_workflow"`
}
