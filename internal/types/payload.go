package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Payload is the client-side hydration object the listings site publishes on
// each detail page. Every nested section is optional.
type Payload struct {
	AdvertID FlexString `json:"advert_id"`
	Engine   *struct {
		Fuel  string `json:"fuel"`
		Power *struct {
			Value float64 `json:"value"`
		} `json:"power"`
		Size *struct {
			Litres float64 `json:"litres"`
		} `json:"size"`
	} `json:"engine"`
	Condition *struct {
		Mileage          *float64 `json:"mileage"`
		ManufacturedYear int      `json:"manufactured_year"`
	} `json:"condition_and_state"`
	Dates *struct {
		Registration string `json:"registration"`
	} `json:"dates"`
	Battery *struct {
		Range *struct {
			Value float64 `json:"value"`
		} `json:"range"`
	} `json:"battery"`
	Consumption *struct {
		CO2 *struct {
			Value float64 `json:"value"`
		} `json:"co2"`
	} `json:"consumption"`
	FuelCategory string           `json:"fuel_category"`
	Features     *PayloadFeatures `json:"features"`
}

// PayloadFeatures groups feature descriptions by category. Top-level lists
// carry objects; interior and exterior lists carry plain strings.
type PayloadFeatures struct {
	Additional []PayloadFeature  `json:"additional"`
	Standard   []PayloadFeature  `json:"standard"`
	Interior   *FeatureTextLists `json:"interior"`
	Exterior   *FeatureTextLists `json:"exterior"`
}

type PayloadFeature struct {
	Description string `json:"description"`
}

type FeatureTextLists struct {
	Additional []string `json:"additional"`
	Standard   []string `json:"standard"`
}

// FlexString accepts either a JSON string or a JSON number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Hydrated reports whether the payload carries the minimum fields needed to
// build a record: an id, a mileage and a registration date. A zero mileage
// still counts as present.
func (p *Payload) Hydrated() bool {
	if p == nil || p.AdvertID == "" {
		return false
	}
	if p.Condition == nil || p.Condition.Mileage == nil {
		return false
	}
	return p.Dates != nil && p.Dates.Registration != ""
}

// FeatureList flattens every feature category into one ordered sequence:
// additional, standard, interior (additional, standard), exterior
// (additional, standard). Blank descriptions are dropped.
func (p *Payload) FeatureList() []string {
	out := []string{}
	if p == nil || p.Features == nil {
		return out
	}
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	f := p.Features
	for _, feat := range f.Additional {
		add(feat.Description)
	}
	for _, feat := range f.Standard {
		add(feat.Description)
	}
	for _, group := range []*FeatureTextLists{f.Interior, f.Exterior} {
		if group == nil {
			continue
		}
		for _, s := range group.Additional {
			add(s)
		}
		for _, s := range group.Standard {
			add(s)
		}
	}
	return out
}

// Record maps the payload into a VehicleRecord. Absent optional fields
// become nil, as do zero values other than mileage.
func (p *Payload) Record(id, title, url string) VehicleRecord {
	rec := VehicleRecord{
		ID:       id,
		Title:    title,
		URL:      url,
		Features: p.FeatureList(),
	}
	if p.Engine != nil {
		rec.EngineFuel = optString(p.Engine.Fuel)
		if p.Engine.Power != nil {
			rec.EnginePower = optFloat(p.Engine.Power.Value)
		}
		if p.Engine.Size != nil {
			rec.EngineSize = optFloat(p.Engine.Size.Litres)
		}
	}
	if p.Condition != nil {
		if p.Condition.Mileage != nil {
			m := *p.Condition.Mileage
			rec.Mileage = &m
		}
		if p.Condition.ManufacturedYear != 0 {
			y := p.Condition.ManufacturedYear
			rec.ManufacturedYear = &y
		}
	}
	if p.Dates != nil {
		rec.RegistrationDate = optString(p.Dates.Registration)
	}
	if p.Battery != nil && p.Battery.Range != nil {
		rec.BatteryRange = optFloat(p.Battery.Range.Value)
	}
	if p.Consumption != nil && p.Consumption.CO2 != nil {
		rec.CO2 = optFloat(p.Consumption.CO2.Value)
	}
	rec.FuelType = optString(p.FuelCategory)
	return rec
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
