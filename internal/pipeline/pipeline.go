// Package pipeline cleans extracted vehicle records before they are scored.
package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/IshaanNene/specwatch/internal/types"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop it.
type Middleware interface {
	Name() string
	Process(rec *types.VehicleRecord) (*types.VehicleRecord, error)
}

// StageError reports which middleware rejected a record.
type StageError struct {
	Stage     string
	VehicleID string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s (vehicle %s): %v", e.Stage, e.VehicleID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default is the chain every extracted record goes through.
func Default(logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(NewHTMLSanitizeMiddleware())
	p.Use(&TrimMiddleware{})
	p.Use(&DedupFeaturesMiddleware{})
	p.Use(NewDateNormalizeMiddleware("2006-01-02"))
	p.Use(&RequiredFieldsMiddleware{})
	return p
}

// Use adds a middleware to the end of the chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs rec through all middleware in order. A nil record with a nil
// error means a stage dropped it.
func (p *Pipeline) Process(rec *types.VehicleRecord) (*types.VehicleRecord, error) {
	current := rec
	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &StageError{Stage: mw.Name(), VehicleID: rec.ID, Err: err}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "vehicle_id", rec.ID)
			return nil, nil
		}
		current = result
	}
	return current, nil
}

func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// --- Built-in Middleware ---

// TrimMiddleware trims whitespace from every string field and drops blank
// features.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(rec *types.VehicleRecord) (*types.VehicleRecord, error) {
	rec.Title = strings.TrimSpace(rec.Title)
	rec.Registration = strings.TrimSpace(rec.Registration)
	for _, p := range []**string{&rec.EngineFuel, &rec.FuelType, &rec.RegistrationDate} {
		if *p == nil {
			continue
		}
		if s := strings.TrimSpace(**p); s != "" {
			*p = &s
		} else {
			*p = nil
		}
	}

	kept := rec.Features[:0]
	for _, f := range rec.Features {
		if f = strings.TrimSpace(f); f != "" {
			kept = append(kept, f)
		}
	}
	rec.Features = kept
	return rec, nil
}

// DedupFeaturesMiddleware drops repeated feature texts, compared
// case-insensitively, keeping the first occurrence. Payloads list some
// options under more than one category.
type DedupFeaturesMiddleware struct{}

func (m *DedupFeaturesMiddleware) Name() string { return "dedup_features" }

func (m *DedupFeaturesMiddleware) Process(rec *types.VehicleRecord) (*types.VehicleRecord, error) {
	seen := make(map[string]bool, len(rec.Features))
	kept := rec.Features[:0]
	for _, f := range rec.Features {
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, f)
	}
	rec.Features = kept
	return rec, nil
}

// RequiredFieldsMiddleware rejects records without an id or a URL.
type RequiredFieldsMiddleware struct{}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(rec *types.VehicleRecord) (*types.VehicleRecord, error) {
	switch {
	case rec.ID == "":
		return nil, fmt.Errorf("missing id: %w", types.ErrEmptyPayload)
	case rec.URL == "":
		return nil, fmt.Errorf("missing url: %w", types.ErrEmptyPayload)
	}
	return rec, nil
}
