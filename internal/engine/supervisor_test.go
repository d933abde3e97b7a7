package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/IshaanNene/specwatch/internal/audit"
	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/observability"
	"github.com/IshaanNene/specwatch/internal/storage"
	"github.com/IshaanNene/specwatch/internal/types"
)

// countingFactory wraps a factory and records which models it was asked to
// build for.
type countingFactory struct {
	mu     sync.Mutex
	models []string
	next   DepsFactory
}

func (f *countingFactory) build(ctx context.Context, rc RunContext) (*Deps, error) {
	f.mu.Lock()
	f.models = append(f.models, rc.Model)
	f.mu.Unlock()
	return f.next(ctx, rc)
}

func failingDeps(err error) DepsFactory {
	return func(context.Context, RunContext) (*Deps, error) { return nil, err }
}

func TestSupervisorStopsAfterRetryBound(t *testing.T) {
	cfg := testConfig(t, "X5")
	factory := &countingFactory{next: failingDeps(errors.New("browser crashed"))}
	store := &MemoryCheckpointStore{}
	metrics := observability.NewMetrics(discard())
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, store, factory.build, metrics, discard())

	err := sup.Run(context.Background())
	if !errors.Is(err, types.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if len(factory.models) != 3 {
		t.Errorf("attempts = %d, want 3", len(factory.models))
	}
	if got := metrics.CampaignFailures.Load(); got != 3 {
		t.Errorf("failures metric = %d", got)
	}

	logPath := filepath.Join(cfg.Storage.AuditDir, "X5", audit.RestartLog)
	data, rerr := os.ReadFile(logPath)
	if rerr != nil {
		t.Fatalf("restart log: %v", rerr)
	}
	if strings.Count(string(data), "Restarting due to: browser crashed") != 3 {
		t.Errorf("restart log = %q", data)
	}
	if !strings.Contains(string(data), "Aborted after 3 retries") {
		t.Errorf("restart log has no abort line: %q", data)
	}

	// The retry count is reset so the next launch tries the model again.
	cp, _ := store.Load(context.Background())
	if cp.ModelIndex != 0 || cp.RetryCount != 0 {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestSupervisorSpentBudgetAbortsImmediately(t *testing.T) {
	cfg := testConfig(t, "X5")
	factory := &countingFactory{next: failingDeps(errors.New("unused"))}
	store := &MemoryCheckpointStore{cp: types.Checkpoint{RetryCount: 3}}
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, store, factory.build, observability.NewMetrics(discard()), discard())

	if err := sup.Run(context.Background()); !errors.Is(err, types.ErrRetriesExhausted) {
		t.Fatalf("err = %v", err)
	}
	if len(factory.models) != 0 {
		t.Errorf("factory called %d times", len(factory.models))
	}
	if cp, _ := store.Load(context.Background()); cp.RetryCount != 0 {
		t.Errorf("retry count = %d, want reset", cp.RetryCount)
	}
}

func TestSupervisorUnknownModelIsFatal(t *testing.T) {
	cfg := testConfig(t, "M3")
	factory := &countingFactory{next: failingDeps(errors.New("unused"))}
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, &MemoryCheckpointStore{}, factory.build, observability.NewMetrics(discard()), discard())

	err := sup.Run(context.Background())
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) || !errors.Is(err, types.ErrUnknownModel) {
		t.Fatalf("err = %v, want unknown-model ConfigError", err)
	}
	if len(factory.models) != 0 {
		t.Errorf("factory called for an unknown model")
	}
}

func TestSupervisorNoModels(t *testing.T) {
	cfg := testConfig(t)
	sup := NewSupervisor(cfg, config.Sites{}, &MemoryCheckpointStore{}, failingDeps(nil), observability.NewMetrics(discard()), discard())
	if err := sup.Run(context.Background()); !types.IsFatal(err) {
		t.Errorf("err = %v, want ConfigError", err)
	}
}

func TestSupervisorRunsModelsInOrder(t *testing.T) {
	cfg := testConfig(t, "X5", "i4")
	sites := config.Sites{"X5": testSite("X5"), "i4": testSite("i4")}
	site := pagedSite(2, 23, listings(0, 2))
	factory := &countingFactory{next: fileDeps(site, &recordingNotifier{})}
	store := storage.NewFileCheckpointStore(filepath.Join(cfg.Storage.DataDir, "checkpoint.json"))
	sup := NewSupervisor(cfg, sites, store, factory.build, observability.NewMetrics(discard()), discard())

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(factory.models, ",") != "X5,i4" {
		t.Errorf("models = %v", factory.models)
	}
	cp, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cp.ModelIndex != 0 || cp.RetryCount != 0 {
		t.Errorf("checkpoint = %+v, want rewound", cp)
	}

	// Each model keeps its own ledger.
	for _, model := range []string{"X5", "i4"} {
		paths := storage.NewPaths(cfg.Storage.DataDir, cfg.Storage.AuditDir, model)
		entries, err := storage.NewFileLedger(paths, false, discard()).LoadLedger(context.Background())
		if err != nil || len(entries) != 2 {
			t.Errorf("%s ledger = %d entries (err %v)", model, len(entries), err)
		}
	}
}

func TestSupervisorResumesFromCheckpoint(t *testing.T) {
	cfg := testConfig(t, "X5", "i4")
	sites := config.Sites{"X5": testSite("X5"), "i4": testSite("i4")}
	site := pagedSite(1, 23, listings(0, 1))
	factory := &countingFactory{next: fileDeps(site, &recordingNotifier{})}
	store := &MemoryCheckpointStore{cp: types.Checkpoint{ModelIndex: 1, RetryCount: 1}}
	sup := NewSupervisor(cfg, sites, store, factory.build, observability.NewMetrics(discard()), discard())

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(factory.models, ",") != "i4" {
		t.Errorf("models = %v, want only i4", factory.models)
	}
}

func TestSupervisorRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig(t, "X5")
	site := pagedSite(1, 23, listings(0, 1))
	ok := fileDeps(site, &recordingNotifier{})
	calls := 0
	factory := func(ctx context.Context, rc RunContext) (*Deps, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("launch failed")
		}
		if rc.Attempt != 2 {
			t.Errorf("attempt = %d, want 2", rc.Attempt)
		}
		return ok(ctx, rc)
	}
	store := &MemoryCheckpointStore{}
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, store, factory, observability.NewMetrics(discard()), discard())

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if cp, _ := store.Load(context.Background()); cp.RetryCount != 0 {
		t.Errorf("retry count = %d after success", cp.RetryCount)
	}
}

func TestSupervisorRecordsHistory(t *testing.T) {
	cfg := testConfig(t, "X5")
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteCheckpointStore(filepath.Join(cfg.Storage.DataDir, "specwatch.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCheckpointStore: %v", err)
	}
	defer store.Close()

	site := pagedSite(3, 23, listings(0, 3))
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, store, fileDeps(site, &recordingNotifier{}), observability.NewMetrics(discard()), discard())
	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := store.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	r := runs[0]
	if r.Model != "X5" || r.Status != "ok" || r.Vehicles != 3 || r.Pages != 1 || r.RunID == "" {
		t.Errorf("run = %+v", r)
	}
}

func TestRunOneLeavesCheckpointAlone(t *testing.T) {
	cfg := testConfig(t, "X5", "i4")
	store := &MemoryCheckpointStore{cp: types.Checkpoint{ModelIndex: 1}}
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, store, failingDeps(errors.New("down")), observability.NewMetrics(discard()), discard())

	if err := sup.RunOne(context.Background(), "X5"); !errors.Is(err, types.ErrRetriesExhausted) {
		t.Fatalf("err = %v", err)
	}
	if cp, _ := store.Load(context.Background()); cp.ModelIndex != 1 || cp.RetryCount != 0 {
		t.Errorf("checkpoint changed: %+v", cp)
	}
}

// onFirstAttempt lets the first attempt of a run use broken collaborators.
func onFirstAttempt(next DepsFactory, breakDeps func(*Deps)) DepsFactory {
	return func(ctx context.Context, rc RunContext) (*Deps, error) {
		d, err := next(ctx, rc)
		if err == nil && rc.Attempt == 1 {
			breakDeps(d)
		}
		return d, err
	}
}

type archiveFails struct{ storage.LedgerStore }

func (archiveFails) AppendArchive(context.Context, []types.ArchiveEntry) error {
	return errors.New("archive volume full")
}

type saveSeenFails struct{ SeenStore }

func (saveSeenFails) SaveSeen(context.Context, []string, []string) error {
	return errors.New("seen volume full")
}

func seedLedger(t *testing.T, paths storage.Paths, entries ...types.LedgerEntry) {
	t.Helper()
	if err := storage.NewFileLedger(paths, false, discard()).SaveLedger(context.Background(), entries); err != nil {
		t.Fatalf("seeding ledger: %v", err)
	}
}

func ledgerByID(t *testing.T, paths storage.Paths) map[string]types.LedgerEntry {
	t.Helper()
	entries, err := storage.NewFileLedger(paths, false, discard()).LoadLedger(context.Background())
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	out := make(map[string]types.LedgerEntry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out
}

func goneEntry(missing int) types.LedgerEntry {
	var e types.LedgerEntry
	e.ID = "gone1"
	e.URL = vehicleURL("gone1")
	e.MissingCount = missing
	return e
}

func TestArchiveFailureDoesNotLoseAgedEntry(t *testing.T) {
	cfg := testConfig(t, "X5")
	paths := storage.NewPaths(cfg.Storage.DataDir, cfg.Storage.AuditDir, "X5")
	seedLedger(t, paths, goneEntry(1))

	site := pagedSite(1, 23, listings(0, 1))
	factory := &countingFactory{next: onFirstAttempt(fileDeps(site, &recordingNotifier{}), func(d *Deps) {
		d.Ledger = archiveFails{d.Ledger}
	})}
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, &MemoryCheckpointStore{}, factory.build, observability.NewMetrics(discard()), discard())

	if err := sup.RunOne(context.Background(), "X5"); err != nil {
		t.Fatalf("RunOne: %v", err)
	}
	if len(factory.models) != 2 {
		t.Fatalf("attempts = %d, want 2", len(factory.models))
	}

	l := ledgerByID(t, paths)
	if _, ok := l["gone1"]; ok {
		t.Error("gone1 should have left the ledger")
	}
	if _, ok := l["v000"]; !ok {
		t.Error("v000 should be in the ledger")
	}
	var archive []types.ArchiveEntry
	if _, err := storage.ReadJSON(paths.Archive(), &archive); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(archive) != 1 || archive[0].ID != "gone1" || archive[0].MissingCount != 2 {
		t.Errorf("archive = %+v, want gone1 at missingCount 2", archive)
	}
}

func TestRetriedRunCountsOneAbsence(t *testing.T) {
	cfg := testConfig(t, "X5")
	paths := storage.NewPaths(cfg.Storage.DataDir, cfg.Storage.AuditDir, "X5")
	seedLedger(t, paths, goneEntry(0))

	site := pagedSite(1, 23, listings(0, 1))
	factory := &countingFactory{next: onFirstAttempt(fileDeps(site, &recordingNotifier{}), func(d *Deps) {
		d.Seen = saveSeenFails{d.Seen}
	})}
	sup := NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, &MemoryCheckpointStore{}, factory.build, observability.NewMetrics(discard()), discard())

	if err := sup.RunOne(context.Background(), "X5"); err != nil {
		t.Fatalf("RunOne: %v", err)
	}
	if len(factory.models) != 2 {
		t.Fatalf("attempts = %d, want 2", len(factory.models))
	}

	l := ledgerByID(t, paths)
	if e, ok := l["gone1"]; !ok || e.MissingCount != 1 {
		t.Errorf("gone1 = %+v (present %v), want missingCount 1 after one absent run", e, ok)
	}
	if e, ok := l["v000"]; !ok || e.MissingCount != 0 {
		t.Errorf("v000 = %+v (present %v)", e, ok)
	}
	if _, err := os.Stat(paths.Archive()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("nothing should be archived, stat err = %v", err)
	}

	ids, _, err := storage.NewSeenFile(paths).LoadSeen(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != "v000" {
		t.Errorf("seen ids = %v, %v", ids, err)
	}

	// The next run is a new run: its absence is the second strike.
	sup = NewSupervisor(cfg, config.Sites{"X5": testSite("X5")}, &MemoryCheckpointStore{}, fileDeps(site, &recordingNotifier{}), observability.NewMetrics(discard()), discard())
	if err := sup.RunOne(context.Background(), "X5"); err != nil {
		t.Fatalf("second RunOne: %v", err)
	}
	if _, ok := ledgerByID(t, paths)["gone1"]; ok {
		t.Error("gone1 should be archived after a second absent run")
	}
}
