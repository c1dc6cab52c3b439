package statemachine

import (
	"testing"

	"github.com/oteiza/mago/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.TaskState
		trigger Trigger
		to      domain.TaskState
	}{
		{"start queues an idle task", domain.TaskStateIdle, TriggerStartTask, domain.TaskStateQueued},
		{"begin runs a queued task", domain.TaskStateQueued, TriggerBeginExecution, domain.TaskStateRunning},
		{"running waits on dependency", domain.TaskStateRunning, TriggerWaitForDependency, domain.TaskStateWaitingForDependency},
		{"waiting resumes to running", domain.TaskStateWaitingForDependency, TriggerResumeExecution, domain.TaskStateRunning},
		{"running drops into retrying", domain.TaskStateRunning, TriggerRetryTask, domain.TaskStateRetrying},
		{"retrying resumes to running", domain.TaskStateRetrying, TriggerResumeExecution, domain.TaskStateRunning},
		{"running completes", domain.TaskStateRunning, TriggerCompleteTask, domain.TaskStateCompleted},
		{"running fails", domain.TaskStateRunning, TriggerFailTask, domain.TaskStateFailed},
		{"waiting fails", domain.TaskStateWaitingForDependency, TriggerFailTask, domain.TaskStateFailed},
		{"queued cancels", domain.TaskStateQueued, TriggerCancelTask, domain.TaskStateCancelled},
		{"running cancels", domain.TaskStateRunning, TriggerCancelTask, domain.TaskStateCancelled},
		{"waiting cancels", domain.TaskStateWaitingForDependency, TriggerCancelTask, domain.TaskStateCancelled},
		{"completed resets", domain.TaskStateCompleted, TriggerResetTask, domain.TaskStateIdle},
		{"failed resets", domain.TaskStateFailed, TriggerResetTask, domain.TaskStateIdle},
		{"cancelled resets", domain.TaskStateCancelled, TriggerResetTask, domain.TaskStateIdle},
	}

	m := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &domain.TaskInstance{ID: "t1", State: tt.from}
			if err := m.Fire(task, tt.trigger); err != nil {
				t.Fatalf("Fire(%s from %s) failed: %v", tt.trigger, tt.from, err)
			}
			if task.State != tt.to {
				t.Errorf("state = %s, want %s", task.State, tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.TaskState
		trigger Trigger
	}{
		{"cannot start a running task", domain.TaskStateRunning, TriggerStartTask},
		{"cannot begin an idle task", domain.TaskStateIdle, TriggerBeginExecution},
		{"cannot complete a queued task", domain.TaskStateQueued, TriggerCompleteTask},
		{"cannot cancel a completed task", domain.TaskStateCompleted, TriggerCancelTask},
		{"cannot cancel a retrying task directly", domain.TaskStateRetrying, TriggerCancelTask},
		{"cannot reset a running task", domain.TaskStateRunning, TriggerResetTask},
		{"cannot fail a completed task", domain.TaskStateCompleted, TriggerFailTask},
		{"cannot resume a running task", domain.TaskStateRunning, TriggerResumeExecution},
	}

	m := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &domain.TaskInstance{ID: "t1", State: tt.from}
			err := m.Fire(task, tt.trigger)
			if err == nil {
				t.Fatalf("Fire(%s from %s) should fail", tt.trigger, tt.from)
			}
			if !domain.IsKind(err, domain.KindInvalidTransition) {
				t.Errorf("error kind = %s, want %s", domain.KindOf(err), domain.KindInvalidTransition)
			}
			if task.State != tt.from {
				t.Errorf("rejected trigger mutated state to %s", task.State)
			}
		})
	}
}

func TestCan(t *testing.T) {
	m := New()
	if !m.Can(domain.TaskStateIdle, TriggerStartTask) {
		t.Error("Can(idle, start_task) = false")
	}
	if m.Can(domain.TaskStateIdle, TriggerCompleteTask) {
		t.Error("Can(idle, complete_task) = true")
	}
	if m.Can(domain.TaskStateRunning, Trigger("unknown")) {
		t.Error("Can with unknown trigger = true")
	}
}
