package engine

import (
	"context"

	"github.com/IshaanNene/specwatch/internal/types"
)

// CheckpointStore persists the supervisor's position in the model list so a
// relaunched process resumes where the last one stopped.
type CheckpointStore interface {
	Load(ctx context.Context) (types.Checkpoint, error)
	Save(ctx context.Context, cp types.Checkpoint) error
	Close() error
}

// RunHistory is implemented by checkpoint backends that also keep one row per
// campaign attempt.
type RunHistory interface {
	RecordRun(ctx context.Context, r types.RunRecord) error
}

// MemoryCheckpointStore keeps the checkpoint in memory. It backs one-shot
// runs that must not disturb the persisted campaign position.
type MemoryCheckpointStore struct {
	cp types.Checkpoint
}

func (m *MemoryCheckpointStore) Load(context.Context) (types.Checkpoint, error) { return m.cp, nil }

func (m *MemoryCheckpointStore) Save(_ context.Context, cp types.Checkpoint) error {
	m.cp = cp
	return nil
}

func (m *MemoryCheckpointStore) Close() error { return nil }
