// Package storage persists campaign state: dedup sets, the ledger and its
// archive, the reprocess queue, plain-text run logs and the checkpoint.
package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/types"
)

// LedgerStore is a ledger backend.
type LedgerStore interface {
	LoadLedger(ctx context.Context) ([]types.LedgerEntry, error)
	SaveLedger(ctx context.Context, entries []types.LedgerEntry) error
	AppendArchive(ctx context.Context, entries []types.ArchiveEntry) error
	Name() string
	Close() error
}

// Paths derives every per-model file location. Audit logs are named by
// the audit package inside AuditDir.
type Paths struct {
	DataDir  string
	AuditDir string // per-model audit directory
	Safe     string
}

// NewPaths builds the file layout for model.
func NewPaths(dataDir, auditRoot, model string) Paths {
	safe := config.SafeName(model)
	return Paths{
		DataDir:  dataDir,
		AuditDir: filepath.Join(auditRoot, safe),
		Safe:     safe,
	}
}

func (p Paths) data(format string) string {
	return filepath.Join(p.DataDir, fmt.Sprintf(format, p.Safe))
}

func (p Paths) SeenIDs() string           { return p.data("seen_vehicles_%s.json") }
func (p Paths) SeenRegistrations() string { return p.data("seen_registrations_%s.json") }
func (p Paths) Ledger() string            { return p.data("output_%s.json") }
func (p Paths) LedgerCSV() string         { return p.data("output_%s.csv") }
func (p Paths) SkippedIDs() string        { return p.data("skipped_ids_%s.txt") }
func (p Paths) MissingVehicles() string   { return p.data("missing_vehicles_%s.txt") }
func (p Paths) Alerts() string            { return p.data("alerts_%s.txt") }

// LedgerBase holds the ledger as it stood before the current run's
// reconciliation, tagged with that run's id.
func (p Paths) LedgerBase() string { return p.data("ledger_base_%s.json") }

// Archive lives with the audit trail: it is history, not working state.
func (p Paths) Archive() string {
	return filepath.Join(p.AuditDir, fmt.Sprintf("removed_vehicles_%s.json", p.Safe))
}

// Shared across models.
func (p Paths) ReprocessQueue() string    { return filepath.Join(p.DataDir, "reprocess_queue.txt") }
func (p Paths) PermanentFailures() string { return filepath.Join(p.DataDir, "permanent_failures.txt") }
