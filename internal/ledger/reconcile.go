// Package ledger merges a run's scored vehicles into the persisted ledger and
// ages out listings that have vanished from the site.
package ledger

import (
	"time"

	"github.com/IshaanNene/specwatch/internal/types"
)

// Strikes is the number of consecutive absent runs after which an entry is
// archived.
const Strikes = 2

// Result is the outcome of one reconciliation.
type Result struct {
	Ledger   []types.LedgerEntry
	Archived []types.ArchiveEntry

	Refreshed int // present this run, replaced with the fresh record
	Retained  int // observed but not re-extracted, previous data kept
	Missing   int // absent this run, still in the ledger
	Inserted  int // first seen this run
}

// Reconcile merges results into prev.
//
// An existing entry whose id is in results is replaced and its missingCount
// reset. An entry whose id is only in observed (listed on the site but not
// re-extracted this run) keeps its data with missingCount reset. Any other
// entry has missingCount incremented and is archived once it reaches Strikes.
// Results with no prior entry are appended. prev is not modified.
func Reconcile(prev []types.LedgerEntry, results []types.ScoredVehicle, observed []string, now time.Time) Result {
	fresh := make(map[string]types.ScoredVehicle, len(results))
	for _, r := range results {
		fresh[r.ID] = r
	}
	seen := make(map[string]bool, len(observed))
	for _, id := range observed {
		seen[id] = true
	}

	var res Result
	res.Ledger = make([]types.LedgerEntry, 0, len(prev)+len(results))
	known := make(map[string]bool, len(prev))

	for _, entry := range prev {
		if known[entry.ID] {
			continue
		}
		known[entry.ID] = true

		if r, ok := fresh[entry.ID]; ok {
			res.Ledger = append(res.Ledger, types.LedgerEntry{ScoredVehicle: r})
			res.Refreshed++
			continue
		}
		if seen[entry.ID] {
			entry.MissingCount = 0
			res.Ledger = append(res.Ledger, entry)
			res.Retained++
			continue
		}

		entry.MissingCount++
		if entry.MissingCount >= Strikes {
			res.Archived = append(res.Archived, types.ArchiveEntry{LedgerEntry: entry, RemovedAt: now})
			continue
		}
		res.Ledger = append(res.Ledger, entry)
		res.Missing++
	}

	for _, r := range results {
		if known[r.ID] {
			continue
		}
		known[r.ID] = true
		res.Ledger = append(res.Ledger, types.LedgerEntry{ScoredVehicle: fresh[r.ID]})
		res.Inserted++
	}

	return res
}

// Merge upserts results into prev without ageing anything: matching entries
// are replaced with missingCount reset, new ones are appended and every
// other entry is kept as is. It is used by a standalone replay pass, which
// says nothing about which listings are still on the site.
func Merge(prev []types.LedgerEntry, results []types.ScoredVehicle) []types.LedgerEntry {
	fresh := make(map[string]types.ScoredVehicle, len(results))
	for _, r := range results {
		fresh[r.ID] = r
	}
	out := make([]types.LedgerEntry, 0, len(prev)+len(results))
	known := make(map[string]bool, len(prev))
	for _, entry := range prev {
		if known[entry.ID] {
			continue
		}
		known[entry.ID] = true
		if r, ok := fresh[entry.ID]; ok {
			entry = types.LedgerEntry{ScoredVehicle: r}
		}
		out = append(out, entry)
	}
	for _, r := range results {
		if !known[r.ID] {
			known[r.ID] = true
			out = append(out, types.LedgerEntry{ScoredVehicle: fresh[r.ID]})
		}
	}
	return out
}
