package memory

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
)

// TaskStore implements ports.TaskStore with an in-memory map. Tasks are
// stored and returned as deep copies via a JSON round trip so callers never
// share mutable state with the store.
type TaskStore struct {
	tasks  map[string][]byte
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewTaskStore creates an in-memory task store.
func NewTaskStore(logger *zap.Logger) *TaskStore {
	return &TaskStore{
		tasks:  make(map[string][]byte),
		logger: logger,
	}
}

// Save persists a task instance.
func (s *TaskStore) Save(ctx context.Context, task *domain.TaskInstance) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = data
	return nil
}

// Get retrieves a copy of a task instance.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*domain.TaskInstance, error) {
	s.mu.RLock()
	data, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.E(domain.KindNotFound, "task %s not found", taskID)
	}

	var task domain.TaskInstance
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Delete removes a task instance.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

// List returns copies of all stored task instances. Entries that no longer
// unmarshal are logged and skipped, as the Redis scan loop does with broken
// keys.
func (s *TaskStore) List(ctx context.Context) ([]*domain.TaskInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*domain.TaskInstance, 0, len(s.tasks))
	for id, data := range s.tasks {
		var task domain.TaskInstance
		if err := json.Unmarshal(data, &task); err != nil {
			s.logger.Warn("skipping unreadable task entry",
				zap.String("task_id", id),
				zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}
