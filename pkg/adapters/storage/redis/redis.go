package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
)

// TaskStore implements ports.TaskStore on Redis. Tasks are stored as JSON
// documents under a TTL so terminal tasks age out even without a sweep.
type TaskStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewTaskStore creates a Redis-backed task store.
func NewTaskStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *TaskStore {
	return &TaskStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a task instance.
func (s *TaskStore) Save(ctx context.Context, task *domain.TaskInstance) error {
	key := taskKey(task.ID)

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	s.logger.Debug("task saved",
		zap.String("task_id", task.ID),
		zap.String("state", string(task.State)))

	return nil
}

// Get retrieves a task instance. The unmarshalled value is a fresh copy.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*domain.TaskInstance, error) {
	data, err := s.client.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.E(domain.KindNotFound, "task %s not found", taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.TaskInstance
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// Delete removes a task instance.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, taskKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	s.logger.Debug("task deleted", zap.String("task_id", taskID))
	return nil
}

// List returns all stored task instances. Keys that disappear or fail to
// decode mid-scan are skipped.
func (s *TaskStore) List(ctx context.Context) ([]*domain.TaskInstance, error) {
	pattern := "mago:task:*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	tasks := make([]*domain.TaskInstance, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var task domain.TaskInstance
		if err := json.Unmarshal(data, &task); err != nil {
			continue
		}

		tasks = append(tasks, &task)
	}

	return tasks, nil
}

// taskKey returns the Redis key for a task instance.
func taskKey(taskID string) string {
	return fmt.Sprintf("mago:task:%s", taskID)
}
