// Package registry loads and validates the declarative agent and workflow
// configuration. Published snapshots are immutable; a reload swaps the whole
// set atomically so in-flight tasks keep the snapshot captured at their
// creation time.
package registry

import (
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/domain"
)

// Snapshot is one immutable, validated definition set.
type Snapshot struct {
	Version   string
	Agents    map[string]*domain.AgentDefinition
	Workflows map[string]*domain.WorkflowDefinition
	Rules     domain.CollaborationRules
	LoadedAt  time.Time
}

// Workflow returns the named workflow definition from this snapshot.
func (s *Snapshot) Workflow(name string) (*domain.WorkflowDefinition, error) {
	wf, ok := s.Workflows[name]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "workflow %q not found", name)
	}
	return wf, nil
}

// Registry holds the current snapshot. Reads take no locks.
type Registry struct {
	path   string
	logger *zap.Logger
	snap   atomic.Pointer[Snapshot]
}

// New creates a registry reading from the given rules document path. Load
// must succeed before the registry is usable.
func New(path string, logger *zap.Logger) *Registry {
	return &Registry{path: path, logger: logger}
}

// NewFromSnapshot creates a registry seeded with an already-parsed snapshot.
func NewFromSnapshot(snap *Snapshot, logger *zap.Logger) *Registry {
	r := &Registry{logger: logger}
	r.snap.Store(snap)
	return r
}

// Load reads, validates and atomically publishes the rules document. On any
// validation error the previous snapshot stays in place.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return domain.Wrap(domain.KindConfig, err, "cannot read rules document %s", r.path)
	}

	snap, err := Parse(data)
	if err != nil {
		return err
	}

	r.snap.Store(snap)
	r.logger.Info("collaboration rules loaded",
		zap.String("path", r.path),
		zap.String("version", snap.Version),
		zap.Int("agents", len(snap.Agents)),
		zap.Int("workflows", len(snap.Workflows)))
	return nil
}

// Snapshot returns the current definition set.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Get returns the named workflow from the current snapshot.
func (r *Registry) Get(workflowName string) (*domain.WorkflowDefinition, error) {
	snap := r.snap.Load()
	if snap == nil {
		return nil, domain.E(domain.KindConfig, "registry not loaded")
	}
	return snap.Workflow(workflowName)
}
