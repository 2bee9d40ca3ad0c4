package markers

import (
	"regexp"
	"sort"
	"strings"

	"wohnung-hunter/internal/models"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Marker tags listings whose title or description matches one of its patterns.
type Marker struct {
	Name     string   `yaml:"name" json:"name"`
	Label    string   `yaml:"label" json:"label"`
	Patterns []string `yaml:"patterns" json:"patterns"`
	Priority Priority `yaml:"priority" json:"priority"`
	SearchIn []string `yaml:"search_in" json:"search_in"`
}

const regexChars = `^$.*+?[]{}()\|`

type matcher struct {
	re        *regexp.Regexp
	substring string
}

func (m matcher) match(text string) bool {
	if m.re != nil {
		return m.re.MatchString(text)
	}
	return strings.Contains(text, m.substring)
}

type compiledMarker struct {
	Marker
	title, description bool
	matchers           []matcher
}

// Detector applies a set of markers to flats. Patterns are compiled once.
type Detector struct {
	markers []compiledMarker
}

// NewDetector orders markers by priority, keeping configuration order within
// a level. Missing priority means medium, missing search_in means both fields.
func NewDetector(list []Marker) *Detector {
	compiled := make([]compiledMarker, 0, len(list))
	for _, m := range list {
		if !m.Priority.Valid() {
			m.Priority = PriorityMedium
		}
		if len(m.SearchIn) == 0 {
			m.SearchIn = []string{"title", "description"}
		}

		cm := compiledMarker{Marker: m}
		for _, field := range m.SearchIn {
			switch field {
			case "title":
				cm.title = true
			case "description":
				cm.description = true
			}
		}
		for _, p := range m.Patterns {
			cm.matchers = append(cm.matchers, compilePattern(p))
		}
		compiled = append(compiled, cm)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return priorityRank[compiled[i].Priority] < priorityRank[compiled[j].Priority]
	})
	return &Detector{markers: compiled}
}

// compilePattern treats a pattern containing regex metacharacters as a
// case-insensitive regex. Anything else, including a regex that fails to
// compile, is a case-insensitive substring.
func compilePattern(p string) matcher {
	lower := strings.ToLower(p)
	if strings.ContainsAny(p, regexChars) {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			return matcher{re: re}
		}
	}
	return matcher{substring: lower}
}

// Detect returns the names of all markers matching the flat, highest
// priority first.
func (d *Detector) Detect(flat models.Flat) []string {
	detected := []string{}
	for _, m := range d.markers {
		if m.matches(flat) {
			detected = append(detected, m.Name)
		}
	}
	return detected
}

func (m compiledMarker) matches(flat models.Flat) bool {
	var parts []string
	if m.title && flat.Title != "" {
		parts = append(parts, flat.Title)
	}
	if m.description && flat.Description != nil && *flat.Description != "" {
		parts = append(parts, *flat.Description)
	}
	if len(parts) == 0 {
		return false
	}

	text := strings.ToLower(strings.Join(parts, " "))
	for _, mt := range m.matchers {
		if mt.match(text) {
			return true
		}
	}
	return false
}

// Apply returns a copy of the flat with detected markers appended to the ones
// it already carries.
func (d *Detector) Apply(flat models.Flat) models.Flat {
	merged := append([]string{}, flat.Markers...)
	for _, name := range d.Detect(flat) {
		if !flat.HasMarker(name) {
			merged = append(merged, name)
		}
	}
	flat.Markers = merged
	return flat
}

// ApplyAll runs Apply over a batch.
func (d *Detector) ApplyAll(flats []models.Flat) []models.Flat {
	out := make([]models.Flat, len(flats))
	for i, f := range flats {
		out[i] = d.Apply(f)
	}
	return out
}

// Label returns the display label of a marker, or "" when unknown.
func (d *Detector) Label(name string) string {
	for _, m := range d.markers {
		if m.Name == name {
			return m.Label
		}
	}
	return ""
}

// Priority returns the priority of a marker and whether it is known.
func (d *Detector) Priority(name string) (Priority, bool) {
	for _, m := range d.markers {
		if m.Name == name {
			return m.Priority, true
		}
	}
	return "", false
}

func (d *Detector) Markers() []Marker {
	list := make([]Marker, len(d.markers))
	for i, m := range d.markers {
		list[i] = m.Marker
	}
	return list
}
