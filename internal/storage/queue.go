package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/IshaanNene/specwatch/internal/types"
)

// queueSep separates the fields of queue and failure records.
const queueSep = " — "

// ReprocessQueue is a newline-delimited file of listings whose extraction
// failed and should be replayed. The file is shared by every model; each
// record is "<id> — <url> — <model>" and a queue only hands out its own
// model's records plus any written without a model.
type ReprocessQueue struct {
	path         string
	failuresPath string
	owner        string
	mu           sync.Mutex
}

// NewReprocessQueue opens the shared queue under p.DataDir on behalf of the
// model p was built for.
func NewReprocessQueue(p Paths) *ReprocessQueue {
	return &ReprocessQueue{path: p.ReprocessQueue(), failuresPath: p.PermanentFailures(), owner: p.Safe}
}

// FormatQueueItem renders the "<id> — <url>" part of a record.
func FormatQueueItem(id, url string) string {
	return id + queueSep + url
}

// ParseQueueItem parses one record. The model field is optional. ok is
// false for blank or malformed lines.
func ParseQueueItem(line string) (item types.QueueItem, ok bool) {
	id, rest, found := strings.Cut(strings.TrimSpace(line), queueSep)
	if !found {
		return types.QueueItem{}, false
	}
	url, model, _ := strings.Cut(rest, queueSep)
	id, url, model = strings.TrimSpace(id), strings.TrimSpace(url), strings.TrimSpace(model)
	if id == "" || url == "" {
		return types.QueueItem{}, false
	}
	return types.QueueItem{ID: id, URL: url, Model: model}, true
}

func (q *ReprocessQueue) owns(item types.QueueItem) bool {
	return item.Model == "" || item.Model == q.owner
}

// Enqueue appends a listing to the queue under this queue's model.
func (q *ReprocessQueue) Enqueue(ctx context.Context, id, url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	line := FormatQueueItem(id, url)
	if q.owner != "" {
		line += queueSep + q.owner
	}
	if err := AppendText(q.path, line+"\n"); err != nil {
		return &types.StorageError{Backend: "queue", Err: err}
	}
	return nil
}

// Pending returns this model's queued listings without removing them.
// Duplicate ids are collapsed to their first occurrence.
func (q *ReprocessQueue) Pending(ctx context.Context) ([]types.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lines, err := q.read()
	if err != nil {
		return nil, err
	}
	items, _ := q.split(lines)
	return items, nil
}

// Drain returns this model's queued listings and removes them, leaving
// other models' records in place. The file is removed once it is empty.
func (q *ReprocessQueue) Drain(ctx context.Context) ([]types.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lines, err := q.read()
	if err != nil {
		return nil, err
	}
	items, others := q.split(lines)
	if len(others) > 0 {
		// Trailing empty line keeps the file newline-terminated for appends.
		if err := WriteLines(q.path, append(others, "")); err != nil {
			return nil, &types.StorageError{Backend: "queue", Err: err}
		}
		return items, nil
	}
	if err := os.Remove(q.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &types.StorageError{Backend: "queue", Err: err}
	}
	return items, nil
}

// Fail records a listing that also failed its replay.
func (q *ReprocessQueue) Fail(ctx context.Context, id, url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := AppendText(q.failuresPath, FormatQueueItem(id, url)+"\n"); err != nil {
		return &types.StorageError{Backend: "queue", Err: err}
	}
	return nil
}

// split separates this model's records, deduplicated by id, from the raw
// lines belonging to other models.
func (q *ReprocessQueue) split(lines []string) (mine []types.QueueItem, others []string) {
	seen := make(map[string]bool)
	for _, line := range lines {
		item, ok := ParseQueueItem(line)
		if !ok {
			continue
		}
		if !q.owns(item) {
			others = append(others, strings.TrimSpace(line))
			continue
		}
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		mine = append(mine, item)
	}
	return mine, others
}

func (q *ReprocessQueue) read() ([]string, error) {
	f, err := os.Open(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &types.StorageError{Backend: "queue", Err: err}
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, &types.StorageError{Backend: "queue", Err: fmt.Errorf("scan %s: %w", q.path, err)}
	}
	return lines, nil
}
