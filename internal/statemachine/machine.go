// Package statemachine owns the task lifecycle. The machine holds no
// business data; the scheduler queries it to gate every transition.
package statemachine

import (
	"github.com/oteiza/mago/internal/domain"
)

// Trigger names a lifecycle transition request.
type Trigger string

const (
	TriggerStartTask         Trigger = "start_task"
	TriggerBeginExecution    Trigger = "begin_execution"
	TriggerWaitForDependency Trigger = "wait_for_dependency"
	TriggerResumeExecution   Trigger = "resume_execution"
	TriggerRetryTask         Trigger = "retry_task"
	TriggerCompleteTask      Trigger = "complete_task"
	TriggerFailTask          Trigger = "fail_task"
	TriggerCancelTask        Trigger = "cancel_task"
	TriggerResetTask         Trigger = "reset_task"
)

type transition struct {
	sources map[domain.TaskState]bool
	dest    domain.TaskState
}

// Machine is the task lifecycle transition table.
type Machine struct {
	transitions map[Trigger]transition
}

// New builds the transition table.
func New() *Machine {
	t := func(dest domain.TaskState, sources ...domain.TaskState) transition {
		set := make(map[domain.TaskState]bool, len(sources))
		for _, s := range sources {
			set[s] = true
		}
		return transition{sources: set, dest: dest}
	}

	return &Machine{
		transitions: map[Trigger]transition{
			TriggerStartTask:      t(domain.TaskStateQueued, domain.TaskStateIdle),
			TriggerBeginExecution: t(domain.TaskStateRunning, domain.TaskStateQueued),
			TriggerWaitForDependency: t(domain.TaskStateWaitingForDependency,
				domain.TaskStateRunning),
			TriggerResumeExecution: t(domain.TaskStateRunning,
				domain.TaskStateWaitingForDependency, domain.TaskStateRetrying),
			TriggerRetryTask: t(domain.TaskStateRetrying,
				domain.TaskStateRunning),
			TriggerCompleteTask: t(domain.TaskStateCompleted,
				domain.TaskStateRunning),
			TriggerFailTask: t(domain.TaskStateFailed,
				domain.TaskStateRunning, domain.TaskStateWaitingForDependency),
			TriggerCancelTask: t(domain.TaskStateCancelled,
				domain.TaskStateQueued, domain.TaskStateRunning, domain.TaskStateWaitingForDependency),
			TriggerResetTask: t(domain.TaskStateIdle,
				domain.TaskStateCompleted, domain.TaskStateFailed, domain.TaskStateCancelled),
		},
	}
}

// Can reports whether trigger is legal from the given state.
func (m *Machine) Can(state domain.TaskState, trigger Trigger) bool {
	tr, ok := m.transitions[trigger]
	return ok && tr.sources[state]
}

// Fire applies trigger to the task. On an illegal trigger the task state is
// left unchanged and an InvalidTransitionError is returned; transitions are
// all-or-nothing.
func (m *Machine) Fire(task *domain.TaskInstance, trigger Trigger) error {
	tr, ok := m.transitions[trigger]
	if !ok {
		return domain.E(domain.KindInvalidTransition,
			"unknown trigger %q in state %q for task %s", trigger, task.State, task.ID)
	}
	if !tr.sources[task.State] {
		return domain.E(domain.KindInvalidTransition,
			"trigger %q not allowed from state %q for task %s", trigger, task.State, task.ID)
	}
	task.State = tr.dest
	return nil
}
