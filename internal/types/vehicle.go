package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ListingRef is one candidate discovered on a results page. It is never
// persisted.
type ListingRef struct {
	Registration   string
	Href           string
	DiscoveryIndex int
}

// VehicleRecord is the structured data extracted from a listing's detail page.
// Optional fields are nil when the payload omits them and serialise as null.
type VehicleRecord struct {
	ID               string   `json:"id"                bson:"_id"`
	Title            string   `json:"title"             bson:"title"`
	URL              string   `json:"url"               bson:"url"`
	Registration     string   `json:"registration"      bson:"registration"`
	EngineFuel       *string  `json:"engineFuel"        bson:"engine_fuel"`
	EnginePower      *float64 `json:"enginePower"       bson:"engine_power"`
	EngineSize       *float64 `json:"engineSize"        bson:"engine_size"`
	Mileage          *float64 `json:"mileage"           bson:"mileage"`
	RegistrationDate *string  `json:"registrationDate"  bson:"registration_date"`
	ManufacturedYear *int     `json:"manufacturedYear"  bson:"manufactured_year"`
	BatteryRange     *float64 `json:"batteryRange"      bson:"battery_range"`
	CO2              *float64 `json:"co2"               bson:"co2"`
	FuelType         *string  `json:"fuelType"          bson:"fuel_type"`
	Features         []string `json:"features"          bson:"features"`
}

// MatchedSpec records which feature text satisfied a weighted keyword.
type MatchedSpec struct {
	Keyword            string `json:"keyword"            bson:"keyword"`
	MatchedFeatureText string `json:"matchedFeatureText" bson:"matched_feature_text"`
	Weight             int    `json:"weight"             bson:"weight"`
}

// ScoredVehicle is a VehicleRecord plus its spec-match score.
type ScoredVehicle struct {
	VehicleRecord  `bson:",inline"`
	Score          int           `json:"score"          bson:"score"`
	ScorePercent   int           `json:"scorePercent"   bson:"score_percent"`
	MatchedSpecs   []MatchedSpec `json:"matchedSpecs"   bson:"matched_specs"`
	UnmatchedSpecs []string      `json:"unmatchedSpecs" bson:"unmatched_specs"`
	Timestamp      time.Time     `json:"timestamp"      bson:"timestamp"`
}

// LedgerEntry is a ScoredVehicle tracked across runs.
type LedgerEntry struct {
	ScoredVehicle `bson:",inline"`
	MissingCount  int `json:"missingCount" bson:"missing_count"`
}

// ArchiveEntry is a LedgerEntry removed after consecutive absences.
type ArchiveEntry struct {
	LedgerEntry `bson:",inline"`
	RemovedAt   time.Time `json:"removedAt" bson:"removed_at"`
}

var vehicleIDPattern = regexp.MustCompile(`vehicle/([^?/#]+)`)

// VehicleIDFromURL derives the listing id from the detail-page path segment.
// ok is false when the URL does not carry one; the returned id is then a
// synthetic placeholder and the listing should be treated as malformed.
func VehicleIDFromURL(rawURL string, now time.Time) (id string, ok bool) {
	m := vehicleIDPattern.FindStringSubmatch(rawURL)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return fmt.Sprintf("unknown-%d", now.UnixNano()), false
	}
	return strings.TrimSpace(m[1]), true
}

// StripQuery removes any query-string suffix from an id.
func StripQuery(id string) string {
	if i := strings.IndexByte(id, '?'); i >= 0 {
		id = id[:i]
	}
	return strings.TrimSpace(id)
}
