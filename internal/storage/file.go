package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/IshaanNene/specwatch/internal/types"
)

// WriteJSON writes v as indented JSON via a temp file and rename, so a crash
// never leaves a half-written state file.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}

// ReadJSON decodes path into v. found is false when the file does not exist.
func ReadJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// AppendText appends text to path, creating it and its directory as needed.
func AppendText(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteLines replaces path with lines joined by newlines.
func WriteLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

// --- Seen sets ---

// SeenFile persists the dedup sets as two JSON arrays.
type SeenFile struct {
	idsPath  string
	regsPath string
}

// NewSeenFile stores the sets at the model's seen-id and seen-registration
// paths.
func NewSeenFile(p Paths) *SeenFile {
	return &SeenFile{idsPath: p.SeenIDs(), regsPath: p.SeenRegistrations()}
}

func (s *SeenFile) LoadSeen(ctx context.Context) (ids, regs []string, err error) {
	if _, err := ReadJSON(s.idsPath, &ids); err != nil {
		return nil, nil, &types.StorageError{Backend: "file", Err: err}
	}
	if _, err := ReadJSON(s.regsPath, &regs); err != nil {
		return nil, nil, &types.StorageError{Backend: "file", Err: err}
	}
	return ids, regs, nil
}

func (s *SeenFile) SaveSeen(ctx context.Context, ids, regs []string) error {
	if ids == nil {
		ids = []string{}
	}
	if regs == nil {
		regs = []string{}
	}
	if err := WriteJSON(s.idsPath, ids); err != nil {
		return &types.StorageError{Backend: "file", Err: err}
	}
	if err := WriteJSON(s.regsPath, regs); err != nil {
		return &types.StorageError{Backend: "file", Err: err}
	}
	return nil
}

// --- Ledger ---

// FileLedger keeps the ledger as a JSON array and the archive as an
// append-only JSON array. With a CSV path set, every save also writes a
// spreadsheet-friendly export.
type FileLedger struct {
	ledgerPath  string
	archivePath string
	csvPath     string
	logger      *slog.Logger
}

// NewFileLedger creates a file ledger for the model at p.
func NewFileLedger(p Paths, csvExport bool, logger *slog.Logger) *FileLedger {
	fl := &FileLedger{
		ledgerPath:  p.Ledger(),
		archivePath: p.Archive(),
		logger:      logger.With("component", "file_ledger"),
	}
	if csvExport {
		fl.csvPath = p.LedgerCSV()
	}
	return fl
}

func (s *FileLedger) Name() string { return "file" }

func (s *FileLedger) LoadLedger(ctx context.Context) ([]types.LedgerEntry, error) {
	var entries []types.LedgerEntry
	if _, err := ReadJSON(s.ledgerPath, &entries); err != nil {
		return nil, &types.StorageError{Backend: "file", Err: err}
	}
	return entries, nil
}

func (s *FileLedger) SaveLedger(ctx context.Context, entries []types.LedgerEntry) error {
	if entries == nil {
		entries = []types.LedgerEntry{}
	}
	if err := WriteJSON(s.ledgerPath, entries); err != nil {
		return &types.StorageError{Backend: "file", Err: err}
	}
	s.logger.Info("ledger written", "path", s.ledgerPath, "entries", len(entries))

	if s.csvPath != "" {
		if err := writeLedgerCSV(s.csvPath, entries); err != nil {
			return &types.StorageError{Backend: "csv", Err: err}
		}
	}
	return nil
}

func (s *FileLedger) AppendArchive(ctx context.Context, entries []types.ArchiveEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var archive []types.ArchiveEntry
	if _, err := ReadJSON(s.archivePath, &archive); err != nil {
		return &types.StorageError{Backend: "file", Err: err}
	}
	archive = append(archive, entries...)
	if err := WriteJSON(s.archivePath, archive); err != nil {
		return &types.StorageError{Backend: "file", Err: err}
	}
	s.logger.Info("archive appended", "path", s.archivePath, "added", len(entries), "total", len(archive))
	return nil
}

func (s *FileLedger) Close() error { return nil }

var ledgerCSVHeader = []string{
	"id", "title", "url", "registration", "score", "scorePercent", "missingCount",
	"mileage", "registrationDate", "fuelType", "matchedSpecs", "timestamp",
}

func writeLedgerCSV(path string, entries []types.LedgerEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(ledgerCSVHeader); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, e := range entries {
		matched := make([]string, len(e.MatchedSpecs))
		for i, m := range e.MatchedSpecs {
			matched[i] = m.Keyword
		}
		row := []string{
			e.ID,
			e.Title,
			e.URL,
			e.Registration,
			strconv.Itoa(e.Score),
			strconv.Itoa(e.ScorePercent),
			strconv.Itoa(e.MissingCount),
			formatFloat(e.Mileage),
			deref(e.RegistrationDate),
			deref(e.FuelType),
			strings.Join(matched, "; "),
			e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
