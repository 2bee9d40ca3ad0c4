package changes

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"wohnung-hunter/internal/models"
)

type ChangeType string

const (
	ChangeNew     ChangeType = "new"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// FieldChange holds the old and new value of one field. It is encoded as a
// two-element JSON list.
type FieldChange struct {
	Old any
	New any
}

func (c FieldChange) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Old, c.New})
}

func (c *FieldChange) UnmarshalJSON(data []byte) error {
	var pair []any
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("field change must have 2 values, got %d", len(pair))
	}
	c.Old, c.New = pair[0], pair[1]
	return nil
}

// Change is one detected transition of one apartment in one scrape cycle.
type Change struct {
	ChangeType    ChangeType             `json:"change_type"`
	ApartmentID   string                 `json:"apartment_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Changes       map[string]FieldChange `json:"changes"`
	ApartmentData map[string]any         `json:"apartment_data"`
}

// ChangedFields lists the names of the changed fields in sorted order.
func (c Change) ChangedFields() []string {
	fields := make([]string, 0, len(c.Changes))
	for field := range c.Changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func (c Change) Apartment() (models.Flat, error) {
	return models.FlatFromData(c.ApartmentData)
}

func (c Change) Title() string {
	if title, ok := c.ApartmentData["title"].(string); ok && title != "" {
		return title
	}
	return "Unknown"
}

// Significant keeps new and updated apartments and drops removals.
func Significant(changes []Change) []Change {
	var result []Change
	for _, c := range changes {
		if c.ChangeType == ChangeNew || c.ChangeType == ChangeUpdated {
			result = append(result, c)
		}
	}
	return result
}

// PriceChanges keeps updates whose price changed.
func PriceChanges(changes []Change) []Change {
	var result []Change
	for _, c := range changes {
		if c.ChangeType != ChangeUpdated {
			continue
		}
		if _, ok := c.Changes["price"]; ok {
			result = append(result, c)
		}
	}
	return result
}

// CountByType returns how many changes of each type the list holds.
func CountByType(changes []Change) map[ChangeType]int {
	counts := make(map[ChangeType]int)
	for _, c := range changes {
		counts[c.ChangeType]++
	}
	return counts
}
