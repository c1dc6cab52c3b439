package workers

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
	storagememory "github.com/oteiza/mago/pkg/adapters/storage/memory"
)

func saveTask(t *testing.T, store *storagememory.TaskStore, id string, state domain.TaskState, completedAgo time.Duration) {
	t.Helper()
	task := &domain.TaskInstance{
		ID:        id,
		Workflow:  "default",
		State:     state,
		CreatedAt: time.Now().UTC().Add(-completedAgo),
	}
	if completedAgo > 0 {
		done := time.Now().UTC().Add(-completedAgo)
		task.CompletedAt = &done
	}
	if err := store.Save(context.Background(), task); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesOnlyOldTerminalTasks(t *testing.T) {
	store := storagememory.NewTaskStore(zap.NewNop())
	saveTask(t, store, "old-completed", domain.TaskStateCompleted, 2*time.Hour)
	saveTask(t, store, "old-failed", domain.TaskStateFailed, 3*time.Hour)
	saveTask(t, store, "fresh-completed", domain.TaskStateCompleted, time.Minute)
	saveTask(t, store, "still-running", domain.TaskStateRunning, 0)

	sweeper := NewSweeper(store, time.Hour, time.Minute, zap.NewNop())
	removed := sweeper.Sweep(context.Background())
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	for _, id := range []string{"fresh-completed", "still-running"} {
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Errorf("task %s was swept: %v", id, err)
		}
	}
	for _, id := range []string{"old-completed", "old-failed"} {
		if _, err := store.Get(context.Background(), id); !domain.IsKind(err, domain.KindNotFound) {
			t.Errorf("task %s should be gone, got err %v", id, err)
		}
	}
}

func TestSweepKeepsTerminalTaskWithoutCompletionTime(t *testing.T) {
	store := storagememory.NewTaskStore(zap.NewNop())
	saveTask(t, store, "no-timestamp", domain.TaskStateCancelled, 0)

	sweeper := NewSweeper(store, time.Hour, time.Minute, zap.NewNop())
	if removed := sweeper.Sweep(context.Background()); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestSweeperStartStopIdempotent(t *testing.T) {
	store := storagememory.NewTaskStore(zap.NewNop())
	sweeper := NewSweeper(store, time.Hour, 10*time.Millisecond, zap.NewNop())

	sweeper.Start()
	sweeper.Start()
	sweeper.Stop()
	sweeper.Stop()
}
