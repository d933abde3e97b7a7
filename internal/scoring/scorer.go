// Package scoring rates vehicles against a model's weighted keyword table.
package scoring

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/types"
)

var punctuation = regexp.MustCompile(`[^\w\s]`)

// Normalize lowercases text, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	text = punctuation.ReplaceAllString(strings.ToLower(text), "")
	return strings.Join(strings.Fields(text), " ")
}

// Scorer scores feature lists against one spec-weight table. It holds no
// mutable state and is safe for concurrent use.
type Scorer struct {
	weights  []config.SpecWeight
	keys     []string
	maxScore int
}

// New builds a Scorer for the given table. Non-positive weights are ignored.
func New(weights []config.SpecWeight) *Scorer {
	s := &Scorer{}
	for _, w := range weights {
		key := Normalize(w.Keyword)
		if w.Weight <= 0 || key == "" {
			continue
		}
		s.weights = append(s.weights, w)
		s.keys = append(s.keys, key)
		s.maxScore += w.Weight
	}
	return s
}

// MaxScore is the sum of all weights in the table.
func (s *Scorer) MaxScore() int { return s.maxScore }

// Score rates rec. Each keyword contributes its weight at most once, taken
// from the first feature that contains it. Features not absorbed by any
// keyword are reported as unmatched.
func (s *Scorer) Score(rec types.VehicleRecord, now time.Time) types.ScoredVehicle {
	normalized := make([]string, len(rec.Features))
	for i, f := range rec.Features {
		normalized[i] = Normalize(f)
	}

	out := types.ScoredVehicle{
		VehicleRecord:  rec,
		MatchedSpecs:   []types.MatchedSpec{},
		UnmatchedSpecs: []string{},
		Timestamp:      now,
	}

	absorbed := make(map[string]bool)
	for k, key := range s.keys {
		for i, feat := range normalized {
			if !strings.Contains(feat, key) {
				continue
			}
			w := s.weights[k]
			out.Score += w.Weight
			out.MatchedSpecs = append(out.MatchedSpecs, types.MatchedSpec{
				Keyword:            w.Keyword,
				MatchedFeatureText: rec.Features[i],
				Weight:             w.Weight,
			})
			absorbed[rec.Features[i]] = true
			break
		}
	}

	for _, f := range rec.Features {
		if !absorbed[f] {
			out.UnmatchedSpecs = append(out.UnmatchedSpecs, f)
		}
	}

	out.ScorePercent = Percent(out.Score, s.maxScore)
	return out
}

// Percent is round(score/max*100), or 0 when max is 0.
func Percent(score, max int) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(max) * 100))
}
