package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateIDIsDeterministic(t *testing.T) {
	id1 := GenerateID("siteA", "https://x/1")
	id2 := GenerateID("siteA", "https://x/1")

	if id1 != id2 {
		t.Errorf("Expected same id for same input, got %s and %s", id1, id2)
	}
	if !strings.HasPrefix(id1, "siteA-") {
		t.Errorf("Expected id prefixed with source, got %s", id1)
	}
	if len(id1) != len("siteA-")+16 {
		t.Errorf("Expected 16 hex chars after prefix, got %s", id1)
	}
}

func TestGenerateIDDiffersByURLAndSource(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := GenerateID("siteA", "https://x/"+strings.Repeat("a", i))
		if seen[id] {
			t.Fatalf("Collision for url #%d: %s", i, id)
		}
		seen[id] = true
	}

	if GenerateID("siteA", "https://x/1") == GenerateID("siteB", "https://x/1") {
		t.Error("Same url on different sources should give different ids")
	}
}

func TestNewFlatValidation(t *testing.T) {
	flat, err := NewFlat("siteA", "https://example.com/apt/1", "Nice flat", "Wien")
	if err != nil {
		t.Fatal("Error creating flat:", err)
	}
	if flat.ID != GenerateID("siteA", "https://example.com/apt/1") {
		t.Errorf("Unexpected id %s", flat.ID)
	}
	if flat.Markers == nil {
		t.Error("Markers should be an empty list, not nil")
	}
	if flat.FoundAt.IsZero() {
		t.Error("FoundAt should be set on construction")
	}

	tests := []struct {
		url, title string
		want       error
	}{
		{"/relative/path", "Flat", ErrInvalidURL},
		{"ftp://example.com/x", "Flat", ErrInvalidURL},
		{"https://example.com/x", "  ", ErrMissingTitle},
	}
	for _, tt := range tests {
		_, err := NewFlat("siteA", tt.url, tt.title, "Wien")
		if !errors.Is(err, tt.want) {
			t.Errorf("NewFlat(%q, %q) error = %v; want %v", tt.url, tt.title, err, tt.want)
		}
	}
}

func TestDataRoundTrip(t *testing.T) {
	found := time.Date(2024, 3, 1, 10, 30, 0, 123456000, time.UTC)
	flat := Flat{
		ID:          "siteA-1",
		Title:       "Wohnung in Wien",
		URL:         "https://example.com/1",
		Price:       Float(1000),
		Rooms:       Float(2.5),
		Location:    "1020 Wien",
		Description: String("Gefördert, Balkon"),
		Source:      "siteA",
		Markers:     []string{"subsidized"},
		FoundAt:     found,
	}

	data := flat.Data()
	if data["price"] != 1000.0 {
		t.Errorf("Expected price 1000.0, got %v", data["price"])
	}
	if data["size"] != nil {
		t.Errorf("Expected nil size, got %v", data["size"])
	}
	if data["found_at"] != "2024-03-01T10:30:00.123456Z" {
		t.Errorf("Unexpected found_at %v", data["found_at"])
	}

	back, err := FlatFromData(data)
	if err != nil {
		t.Fatal("Error decoding data:", err)
	}
	if back.ID != flat.ID || back.Title != flat.Title || *back.Price != 1000 || *back.Rooms != 2.5 {
		t.Errorf("Round trip mismatch: %+v", back)
	}
	if back.Size != nil {
		t.Error("Size should stay nil")
	}
	if !back.FoundAt.Equal(found) {
		t.Errorf("Expected found_at %v, got %v", found, back.FoundAt)
	}
	if !Equal(back.Data(), data) {
		t.Error("Data of decoded flat should equal original data")
	}
}

func TestIndexByIDKeepsFirstPositionAndLastValue(t *testing.T) {
	flats := []Flat{
		{ID: "a", Title: "first"},
		{ID: "b", Title: "b"},
		{ID: "a", Title: "second"},
	}

	order, byID := IndexByID(flats)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("Unexpected order %v", order)
	}
	if byID["a"].Title != "second" {
		t.Errorf("Expected last value to win, got %s", byID["a"].Title)
	}
}

func TestEqualNormalizesNumbers(t *testing.T) {
	a := map[string]any{"price": 1000, "markers": []string{"x"}}
	b := map[string]any{"price": 1000.0, "markers": []any{"x"}}

	if !Equal(a, b) {
		t.Error("Expected int and float64 of same value to be equal")
	}
	if Equal(1000.0, 1000.01) {
		t.Error("Expected no tolerance between 1000.0 and 1000.01")
	}
}
