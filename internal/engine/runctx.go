package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/storage"
)

// Options are the per-run parameters taken from flags or config.
type Options struct {
	MaxPages int  // 0 means use the computed page cap only
	DryRun   bool // build the digest but do not send it
	Audit    bool // capture DOM dumps, screenshots and per-page reports
}

// RunContext identifies one campaign attempt. It is built by the supervisor
// and passed explicitly to every component that needs to know which model it
// is working on.
type RunContext struct {
	RunID      string
	Model      string
	ModelIndex int
	Attempt    int
	Site       config.Site
	Paths      storage.Paths
	Options    Options
	StartedAt  time.Time
}

// NewRunID returns a fresh identifier shared by every attempt of one model.
func NewRunID() string { return uuid.NewString() }

// Logger returns logger annotated with the run's identity.
func (rc RunContext) Logger(logger *slog.Logger) *slog.Logger {
	return logger.With("run_id", rc.RunID, "model", rc.Model, "attempt", rc.Attempt)
}
