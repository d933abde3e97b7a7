package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/specwatch/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(id string, missing int) types.LedgerEntry {
	e := types.LedgerEntry{MissingCount: missing}
	e.ID = id
	e.Title = "BMW " + id
	e.URL = "https://usedcars.bmw.co.uk/vehicle/" + id
	e.Score = 8
	e.ScorePercent = 67
	e.MatchedSpecs = []types.MatchedSpec{{Keyword: "head-up display", MatchedFeatureText: "head-up display", Weight: 3}}
	e.UnmatchedSpecs = []string{}
	e.Timestamp = time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	return e
}

func TestPaths(t *testing.T) {
	p := NewPaths("data", "audit", "5 Series")
	if p.Safe != "5_Series" {
		t.Fatalf("Safe = %q", p.Safe)
	}
	tests := map[string]string{
		p.SeenIDs():           filepath.Join("data", "seen_vehicles_5_Series.json"),
		p.SeenRegistrations(): filepath.Join("data", "seen_registrations_5_Series.json"),
		p.Ledger():            filepath.Join("data", "output_5_Series.json"),
		p.LedgerBase():        filepath.Join("data", "ledger_base_5_Series.json"),
		p.Archive():           filepath.Join("audit", "5_Series", "removed_vehicles_5_Series.json"),
		p.ReprocessQueue():    filepath.Join("data", "reprocess_queue.txt"),
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}
}

func TestReadJSONMissing(t *testing.T) {
	var v []string
	found, err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &v)
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestReadJSONCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	var v []string
	if _, err := ReadJSON(path, &v); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestWriteJSONLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")
	if err := WriteJSON(path, []string{"a"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestSeenFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSeenFile(NewPaths(t.TempDir(), t.TempDir(), "X5"))

	ids, regs, err := s.LoadSeen(ctx)
	if err != nil || len(ids) != 0 || len(regs) != 0 {
		t.Fatalf("fresh LoadSeen = %v %v %v", ids, regs, err)
	}

	if err := s.SaveSeen(ctx, []string{"v1", "v2"}, []string{"AB12CDE"}); err != nil {
		t.Fatalf("SaveSeen: %v", err)
	}
	ids, regs, err = s.LoadSeen(ctx)
	if err != nil {
		t.Fatalf("LoadSeen: %v", err)
	}
	if len(ids) != 2 || ids[1] != "v2" || len(regs) != 1 || regs[0] != "AB12CDE" {
		t.Errorf("LoadSeen = %v %v", ids, regs)
	}
}

func TestFileLedger(t *testing.T) {
	ctx := context.Background()
	p := NewPaths(t.TempDir(), t.TempDir(), "X5")
	fl := NewFileLedger(p, true, testLogger())

	prev, err := fl.LoadLedger(ctx)
	if err != nil || len(prev) != 0 {
		t.Fatalf("fresh LoadLedger = %v, %v", prev, err)
	}

	if err := fl.SaveLedger(ctx, []types.LedgerEntry{entry("a", 0), entry("b", 1)}); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}
	got, err := fl.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(got) != 2 || got[1].ID != "b" || got[1].MissingCount != 1 {
		t.Fatalf("LoadLedger = %+v", got)
	}

	csvData, err := os.ReadFile(p.LedgerCSV())
	if err != nil {
		t.Fatalf("csv export missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "id,title,url") {
		t.Errorf("csv = %q", csvData)
	}

	removed := time.Date(2026, 10, 2, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		arch := []types.ArchiveEntry{{LedgerEntry: entry("c", 2), RemovedAt: removed}}
		if err := fl.AppendArchive(ctx, arch); err != nil {
			t.Fatalf("AppendArchive: %v", err)
		}
	}
	var archive []types.ArchiveEntry
	if _, err := ReadJSON(p.Archive(), &archive); err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(archive) != 2 || !archive[0].RemovedAt.Equal(removed) {
		t.Errorf("archive = %+v", archive)
	}
}

func TestFileLedgerNoCSV(t *testing.T) {
	p := NewPaths(t.TempDir(), t.TempDir(), "i4")
	fl := NewFileLedger(p, false, testLogger())
	if err := fl.SaveLedger(context.Background(), nil); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}
	if _, err := os.Stat(p.LedgerCSV()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("csv written without export enabled")
	}
	data, _ := os.ReadFile(p.Ledger())
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("empty ledger = %q, want []", data)
	}
}

func TestParseQueueItem(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		id   string
	}{
		{"abc — https://x/vehicle/abc", true, "abc"},
		{"abc — https://x/vehicle/abc — X5", true, "abc"},
		{"  abc — https://x/vehicle/abc  ", true, "abc"},
		{"abc https://x/vehicle/abc", false, ""},
		{"", false, ""},
		{" — https://x", false, ""},
	}
	for _, tt := range tests {
		item, ok := ParseQueueItem(tt.line)
		if ok != tt.ok || item.ID != tt.id {
			t.Errorf("ParseQueueItem(%q) = %+v, %v", tt.line, item, ok)
		}
	}
}

func TestReprocessQueue(t *testing.T) {
	ctx := context.Background()
	p := NewPaths(t.TempDir(), t.TempDir(), "X5")
	q := NewReprocessQueue(p)

	items, err := q.Drain(ctx)
	if err != nil || len(items) != 0 {
		t.Fatalf("empty Drain = %v, %v", items, err)
	}

	q.Enqueue(ctx, "v1", "https://x/vehicle/v1")
	q.Enqueue(ctx, "v2", "https://x/vehicle/v2")
	q.Enqueue(ctx, "v1", "https://x/vehicle/v1")

	pending, err := q.Pending(ctx)
	if err != nil || len(pending) != 2 {
		t.Fatalf("Pending = %v, %v", pending, err)
	}

	items, err = q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(items) != 2 || items[0].ID != "v1" || items[1].URL != "https://x/vehicle/v2" {
		t.Errorf("Drain = %+v", items)
	}
	if _, err := os.Stat(p.ReprocessQueue()); !errors.Is(err, os.ErrNotExist) {
		t.Error("queue file not removed")
	}

	if err := q.Fail(ctx, "v2", "https://x/vehicle/v2"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	data, _ := os.ReadFile(p.PermanentFailures())
	if string(data) != "v2 — https://x/vehicle/v2\n" {
		t.Errorf("permanent failures = %q", data)
	}
}

func TestReprocessQueueIsPerModel(t *testing.T) {
	ctx := context.Background()
	dataDir, auditDir := t.TempDir(), t.TempDir()
	x5 := NewReprocessQueue(NewPaths(dataDir, auditDir, "X5"))
	x3 := NewReprocessQueue(NewPaths(dataDir, auditDir, "X3"))

	x5.Enqueue(ctx, "a", "https://x/vehicle/a")
	x3.Enqueue(ctx, "b", "https://x/vehicle/b")
	// Written without a model; any model may replay it.
	if err := AppendText(NewPaths(dataDir, auditDir, "X5").ReprocessQueue(), "c — https://x/vehicle/c\n"); err != nil {
		t.Fatal(err)
	}

	pending, err := x5.Pending(ctx)
	if err != nil || len(pending) != 2 || pending[0].ID != "a" || pending[0].Model != "X5" || pending[1].ID != "c" {
		t.Fatalf("X5 Pending = %+v, %v", pending, err)
	}

	drained, err := x5.Drain(ctx)
	if err != nil || len(drained) != 2 {
		t.Fatalf("X5 Drain = %+v, %v", drained, err)
	}
	if items, _ := x5.Pending(ctx); len(items) != 0 {
		t.Errorf("X5 still has %+v", items)
	}

	// X3's record survives and later appends stay on their own line.
	x3.Enqueue(ctx, "d", "https://x/vehicle/d")
	rest, err := x3.Drain(ctx)
	if err != nil || len(rest) != 2 || rest[0].ID != "b" || rest[1].ID != "d" {
		t.Fatalf("X3 Drain = %+v, %v", rest, err)
	}
	if _, err := os.Stat(x3.path); !errors.Is(err, os.ErrNotExist) {
		t.Error("queue file should be removed once empty")
	}
}

func TestFileCheckpointStore(t *testing.T) {
	ctx := context.Background()
	s := NewFileCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	cp, err := s.Load(ctx)
	if err != nil || cp.ModelIndex != 0 || cp.RetryCount != 0 {
		t.Fatalf("fresh Load = %+v, %v", cp, err)
	}
	if err := s.Save(ctx, types.Checkpoint{ModelIndex: 2, RetryCount: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cp, err = s.Load(ctx)
	if err != nil || cp.ModelIndex != 2 || cp.RetryCount != 1 || cp.UpdatedAt.IsZero() {
		t.Errorf("Load = %+v, %v", cp, err)
	}
	if err := s.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if cp, _ := s.Load(ctx); cp.ModelIndex != 0 {
		t.Errorf("after Clean = %+v", cp)
	}
}

func TestSQLiteCheckpointStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteCheckpointStore(filepath.Join(t.TempDir(), "state", "checkpoint.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCheckpointStore: %v", err)
	}
	defer s.Close()

	cp, err := s.Load(ctx)
	if err != nil || cp != (types.Checkpoint{}) {
		t.Fatalf("fresh Load = %+v, %v", cp, err)
	}

	at := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	s.Save(ctx, types.Checkpoint{ModelIndex: 1, RetryCount: 2, UpdatedAt: at})
	s.Save(ctx, types.Checkpoint{ModelIndex: 2, RetryCount: 0, UpdatedAt: at})

	cp, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.ModelIndex != 2 || cp.RetryCount != 0 || !cp.UpdatedAt.Equal(at) {
		t.Errorf("Load = %+v", cp)
	}
}

func TestSQLiteRunHistory(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteCheckpointStore(filepath.Join(t.TempDir(), "checkpoint.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCheckpointStore: %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	runs := []types.RunRecord{
		{RunID: "r1", Model: "X5", Attempt: 1, StartedAt: base, FinishedAt: base.Add(time.Minute), Status: "failed", Error: "timeout"},
		{RunID: "r1", Model: "X5", Attempt: 2, StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(9 * time.Minute), Status: "ok", Vehicles: 46, Pages: 2, ExitReason: "no next page"},
	}
	for _, r := range runs {
		if err := s.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	got, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentRuns len = %d", len(got))
	}
	if got[0].Attempt != 2 || got[0].Vehicles != 46 || got[0].ExitReason != "no next page" {
		t.Errorf("newest run = %+v", got[0])
	}
	if got[1].Error != "timeout" {
		t.Errorf("oldest run = %+v", got[1])
	}
}

type fakeLedger struct {
	name    string
	saved   int
	failErr error
}

func (f *fakeLedger) LoadLedger(context.Context) ([]types.LedgerEntry, error) {
	return []types.LedgerEntry{entry(f.name, 0)}, nil
}
func (f *fakeLedger) SaveLedger(context.Context, []types.LedgerEntry) error {
	f.saved++
	return f.failErr
}
func (f *fakeLedger) AppendArchive(context.Context, []types.ArchiveEntry) error { return f.failErr }
func (f *fakeLedger) Name() string                                             { return f.name }
func (f *fakeLedger) Close() error                                             { return nil }

func TestMultiLedger(t *testing.T) {
	ctx := context.Background()
	primary := &fakeLedger{name: "primary"}
	mirror := &fakeLedger{name: "mirror", failErr: errors.New("down")}
	m := NewMultiLedger(primary, []LedgerStore{mirror}, testLogger())

	got, err := m.LoadLedger(ctx)
	if err != nil || len(got) != 1 || got[0].ID != "primary" {
		t.Fatalf("LoadLedger = %v, %v", got, err)
	}
	if err := m.SaveLedger(ctx, nil); err != nil {
		t.Errorf("mirror failure leaked: %v", err)
	}
	if primary.saved != 1 || mirror.saved != 1 {
		t.Errorf("saved primary=%d mirror=%d", primary.saved, mirror.saved)
	}

	primary.failErr = errors.New("disk full")
	if err := m.SaveLedger(ctx, nil); err == nil {
		t.Error("primary failure not returned")
	}
}
