package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IshaanNene/specwatch/internal/types"
)

// Site is the per-model configuration the crawl core depends on: how to reach
// the filtered results page, how to read listings off it, and how to score
// what it finds.
type Site struct {
	Model       string       `yaml:"model"`
	BaseURL     string       `yaml:"base_url"`
	Selectors   Selectors    `yaml:"selectors"`
	NavSteps    []NavStep    `yaml:"nav_steps"`
	SpecWeights []SpecWeight `yaml:"spec_weights"`
}

// Selectors locate things on results and detail pages. A selector prefixed
// with "xpath:" is evaluated as XPath, anything else as CSS.
type Selectors struct {
	Container        string   `yaml:"container"`
	Registration     string   `yaml:"registration"`
	RegistrationAttr string   `yaml:"registration_attr"`
	Link             string   `yaml:"link"`
	ExpectedCount    string   `yaml:"expected_count"`
	Next             string   `yaml:"next"`
	Cookie           string   `yaml:"cookie"`
	CookieText       string   `yaml:"cookie_text"`
	Payload          string   `yaml:"payload"`
	DetailProbes     []string `yaml:"detail_probes"`
}

// NavStep is one scripted interaction on the way to the results page.
//
// Actions:
//
//	navigate    load URL
//	click       click Selector
//	click_text  click the first Selector match whose text matches Text
//	wait        sleep for Wait
//	wait_for    poll until Selector is present (bounded by Wait)
//	eval        evaluate Script
//	expect      fail unless some Selector match has Attr (or text) containing Text
type NavStep struct {
	Action   string        `yaml:"action"`
	Selector string        `yaml:"selector,omitempty"`
	Text     string        `yaml:"text,omitempty"`
	Attr     string        `yaml:"attr,omitempty"`
	URL      string        `yaml:"url,omitempty"`
	Script   string        `yaml:"script,omitempty"`
	Wait     time.Duration `yaml:"wait,omitempty"`
	Optional bool          `yaml:"optional,omitempty"`
}

// SpecWeight is one keyword of a model's spec-weight table. Order matters:
// it is the order matched specs are reported in.
type SpecWeight struct {
	Keyword string `yaml:"keyword"`
	Weight  int    `yaml:"weight"`
}

// Sites is the site catalogue keyed by model name.
type Sites map[string]Site

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// LoadSites reads a YAML site catalogue. An empty path yields the built-in
// catalogue.
func LoadSites(path string) (Sites, error) {
	if path == "" {
		return BuiltinSites(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sites file: %w", err)
	}
	return ParseSites(data)
}

// ParseSites decodes a YAML site catalogue.
func ParseSites(data []byte) (Sites, error) {
	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sites file: %w", err)
	}
	sites := make(Sites, len(f.Sites))
	for _, s := range f.Sites {
		if s.Model == "" {
			return nil, fmt.Errorf("parsing sites file: site without model name")
		}
		if _, dup := sites[s.Model]; dup {
			return nil, fmt.Errorf("parsing sites file: model %q defined twice", s.Model)
		}
		sites[s.Model] = s
	}
	return sites, nil
}

// Lookup resolves a model's site configuration. Any missing piece is a
// ConfigError: retrying a run cannot supply it.
func (s Sites) Lookup(model string) (*Site, error) {
	site, ok := s[model]
	if !ok {
		return nil, &types.ConfigError{Model: model, Err: types.ErrUnknownModel}
	}
	missing := func(field string) error {
		return &types.ConfigError{Model: model, Field: field, Err: fmt.Errorf("not configured")}
	}
	switch {
	case site.Selectors.Link == "":
		return nil, missing("selectors.link")
	case site.Selectors.Payload == "":
		return nil, missing("selectors.payload")
	case len(site.NavSteps) == 0:
		return nil, missing("nav_steps")
	case len(site.SpecWeights) == 0:
		return nil, missing("spec_weights")
	}
	for i, w := range site.SpecWeights {
		if strings.TrimSpace(w.Keyword) == "" || w.Weight <= 0 {
			return nil, &types.ConfigError{
				Model: model,
				Field: fmt.Sprintf("spec_weights[%d]", i),
				Err:   fmt.Errorf("keyword must be non-empty with a positive weight"),
			}
		}
	}
	return &site, nil
}

// Models returns the catalogue's model names in no particular order.
func (s Sites) Models() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	return out
}

// Marshal renders the catalogue as YAML, for `specwatch config sites`.
func (s Sites) Marshal(order []string) ([]byte, error) {
	var f sitesFile
	for _, m := range order {
		if site, ok := s[m]; ok {
			f.Sites = append(f.Sites, site)
		}
	}
	return yaml.Marshal(f)
}

// SafeName turns a model name into a filesystem-safe token ("5 Series" ->
// "5_Series").
func SafeName(model string) string {
	return strings.Join(strings.Fields(model), "_")
}
