package changes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"wohnung-hunter/internal/models"
)

type Config struct {
	MonitoredFields []string
	IgnoreFields    []string
}

func DefaultConfig() Config {
	return Config{
		MonitoredFields: []string{"price", "title", "size", "rooms", "location", "description"},
		IgnoreFields:    []string{"found_at", "last_updated"},
	}
}

// Detector diffs stored apartment snapshots against a fresh scrape.
// It never touches storage.
type Detector struct {
	fields []string
	now    func() time.Time
}

func NewDetector(config Config) *Detector {
	ignored := make(map[string]bool, len(config.IgnoreFields))
	for _, f := range config.IgnoreFields {
		ignored[f] = true
	}

	var fields []string
	for _, f := range config.MonitoredFields {
		if !ignored[f] {
			fields = append(fields, f)
		}
	}

	return &Detector{fields: fields, now: time.Now}
}

// Fields returns the monitored fields minus the ignored ones.
func (d *Detector) Fields() []string {
	return append([]string(nil), d.fields...)
}

// SetClock replaces the time source used for change timestamps.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// DetectChanges reports new apartments in scrape order, then updated ones in
// scrape order, then removed ones sorted by id. Unchanged apartments are silent.
func (d *Detector) DetectChanges(old map[string]map[string]any, flats []models.Flat) []Change {
	now := d.now()
	order, byID := models.IndexByID(flats)

	var news, updates []Change
	for _, id := range order {
		data := byID[id].Data()

		oldData, existed := old[id]
		if !existed {
			news = append(news, Change{
				ChangeType:    ChangeNew,
				ApartmentID:   id,
				Timestamp:     now,
				Changes:       map[string]FieldChange{},
				ApartmentData: data,
			})
			continue
		}

		fieldChanges := d.compareFields(oldData, data)
		if len(fieldChanges) > 0 {
			updates = append(updates, Change{
				ChangeType:    ChangeUpdated,
				ApartmentID:   id,
				Timestamp:     now,
				Changes:       fieldChanges,
				ApartmentData: data,
			})
		}
	}

	var removedIDs []string
	for id := range old {
		if _, ok := byID[id]; !ok {
			removedIDs = append(removedIDs, id)
		}
	}
	sort.Strings(removedIDs)

	result := make([]Change, 0, len(news)+len(updates)+len(removedIDs))
	result = append(result, news...)
	result = append(result, updates...)
	for _, id := range removedIDs {
		result = append(result, Change{
			ChangeType:    ChangeRemoved,
			ApartmentID:   id,
			Timestamp:     now,
			Changes:       map[string]FieldChange{},
			ApartmentData: old[id],
		})
	}
	return result
}

func (d *Detector) compareFields(oldData, newData map[string]any) map[string]FieldChange {
	result := make(map[string]FieldChange)
	for _, field := range d.fields {
		oldValue := oldData[field]
		newValue := newData[field]
		if !models.Equal(oldValue, newValue) {
			result[field] = FieldChange{Old: oldValue, New: newValue}
		}
	}
	return result
}

// FormatSummary renders a change as plain text, one line per changed field.
func FormatSummary(change Change) string {
	switch change.ChangeType {
	case ChangeNew:
		return "NEW: " + change.Title()
	case ChangeRemoved:
		return "REMOVED: " + change.Title()
	}

	lines := []string{"UPDATED: " + change.Title()}
	for _, field := range change.ChangedFields() {
		fc := change.Changes[field]
		if field == "title" {
			lines = append(lines, "  Title changed")
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %s → %s", capitalize(field), formatValue(fc.Old), formatValue(fc.New)))
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatValue(v any) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprint(v)
}
