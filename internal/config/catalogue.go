package config

import "time"

const usedCarsBaseURL = "https://usedcars.bmw.co.uk"

var defaultSelectors = Selectors{
	Container:        "article.uvl-c-advert",
	Registration:     "[data-registration]",
	RegistrationAttr: "data-registration",
	Link:             `a.uvl-c-advert__media-link[href*="/vehicle/"]`,
	ExpectedCount:    "button.uvl-c-expected-results-btn",
	Next:             `a.uvl-c-pagination__direction--next[aria-label="Next page"]`,
	Cookie:           "button",
	CookieText:       "Reject",
	Payload:          "window.UVL && window.UVL.AD",
	DetailProbes: []string{
		".vehicle-details",
		".specification",
		`[data-component="vehicle-specs"]`,
	},
}

type filterPath struct {
	series    string
	bodyStyle string // empty skips the body-style dropdown
	variant   string
	modelText string
}

// filterSteps scripts the search form: series, optional body style, then the
// engine-derivative filter, and finally checks that the result cards are for
// the expected model.
func filterSteps(p filterPath) []NavStep {
	steps := []NavStep{
		{Action: "navigate", URL: usedCarsBaseURL + "/"},
		{Action: "click_text", Selector: "button", Text: "Reject", Optional: true},
		{Action: "wait", Wait: time.Second},
		{Action: "wait_for", Selector: "#series .uvl-c-react-select__control", Wait: 60 * time.Second},
		{Action: "click", Selector: "#series .uvl-c-react-select__control"},
		{Action: "click_text", Selector: ".uvl-c-react-select__option", Text: "^" + p.series + "$"},
	}
	if p.bodyStyle != "" {
		steps = append(steps,
			NavStep{Action: "click", Selector: "#body_style .uvl-c-react-select__control"},
			NavStep{Action: "wait", Wait: 1200 * time.Millisecond},
			NavStep{Action: "click_text", Selector: ".uvl-c-react-select__option", Text: "^" + p.bodyStyle + "$"},
		)
	}
	return append(steps,
		NavStep{Action: "click", Selector: "button.uvl-c-expected-results-btn"},
		NavStep{Action: "wait", Wait: 2 * time.Second},
		NavStep{Action: "click", Selector: `button[data-tracking-effect="Additional filters"]`},
		NavStep{Action: "click_text", Selector: "a.rc-collapse-header", Text: "Model variant"},
		NavStep{Action: "wait", Wait: 1200 * time.Millisecond},
		NavStep{Action: "click_text", Selector: "span.uvl-c-select__placeholder", Text: "Engine derivatives"},
		NavStep{Action: "wait", Wait: 1200 * time.Millisecond},
		NavStep{Action: "eval", Script: `() => { const m = document.querySelector('[id$="-listbox"]'); if (m) m.scrollTop = m.scrollHeight; }`},
		NavStep{Action: "click_text", Selector: "#variant .react-select-option", Text: p.variant},
		NavStep{Action: "wait", Wait: 2 * time.Second},
		NavStep{Action: "click", Selector: "button.uvl-c-expected-results-btn"},
		NavStep{Action: "wait", Wait: 3 * time.Second},
		NavStep{Action: "wait_for", Selector: defaultSelectors.Link, Wait: 15 * time.Second},
		NavStep{Action: "expect", Selector: "img.uvl-c-advert__media-image", Attr: "alt", Text: p.modelText},
	)
}

// BuiltinSites returns the catalogue used when no sites file is configured.
func BuiltinSites() Sites {
	return Sites{
		"X5": {
			Model:     "X5",
			BaseURL:   usedCarsBaseURL,
			Selectors: defaultSelectors,
			NavSteps:  filterSteps(filterPath{series: "X", bodyStyle: "X5", variant: "50e", modelText: "xDrive50e"}),
			SpecWeights: []SpecWeight{
				{"Technology Plus Pack", 4},
				{"Comfort Plus Pack", 4},
				{"Sky Lounge", 4},
				{"Soft close Doors", 3},
				{"Sun Protection Glass", 1},
				{"Bowers & Wilkins", 4},
				{"Front Massage Seats", 3},
				{"Acoustic glass", 1},
				{"M Electric Front Sport Seats", 2},
				{"Carbon Fibre Interior Trim", 2},
				{"M Sport Pro Pack", 2},
				{"Comfort Pack", 2},
				{"M Sport Brakes with Red Calipers", 1},
				{"Driving Assistant Professional", 3},
				{"Parking Assistant Pro", 2},
				{"Heat Comfort System", 1},
				{"Front and Rear Heated Seats", 2},
				{"Ventilated Front Seats", 2},
				{"Integral Active Steering", 2},
			},
		},
		"5 Series": {
			Model:     "5 Series",
			BaseURL:   usedCarsBaseURL,
			Selectors: defaultSelectors,
			NavSteps:  filterSteps(filterPath{series: "5 Series", variant: "550e", modelText: "550e xDrive"}),
			SpecWeights: []SpecWeight{
				{"Technology Plus Pack", 4},
				{"Comfort Plus Pack", 4},
				{"M Sport Pro Pack", 2},
				{"Panoramic", 4},
				{"M Adaptive Suspension", 4},
				{"Adaptive M Suspension Professional", 4},
				{"Driving Assistant Professional", 3},
				{"Bowers & Wilkins", 4},
				{"Black extended Merino leather", 3},
				{"M Multifunctional Seats", 4},
				{"M Carbon Exterior Package", 3},
				{"Crafted Clarity", 1},
				{"Travel and Comfort System", 2},
				{"M Sport brake, red high-gloss", 3},
				{"red calipers", 3},
				{"Sun Protection Glass", 2},
			},
		},
		"i4": {
			Model:     "i4",
			BaseURL:   usedCarsBaseURL,
			Selectors: defaultSelectors,
			NavSteps:  filterSteps(filterPath{series: "BMW i", bodyStyle: "i4", variant: "50", modelText: "i4 m50"}),
			SpecWeights: []SpecWeight{
				{"Technology Plus Pack", 4},
				{"Comfort Plus Pack", 4},
				{"Harman/Kardon", 4},
				{"Carbon Fibre Interior Trim", 3},
				{"M Sport Pro Pack", 2},
				{"Sunroof", 4},
				{"M Adaptive Suspension", 3},
				{"Driving Assistant Professional", 3},
				{"M Sport Brakes with Red Calipers", 3},
				{"Sun Protection Glass", 2},
			},
		},
	}
}
