package models

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Flat is a normalized apartment listing produced by a scraper.
type Flat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Price       *float64  `json:"price"`
	Size        *float64  `json:"size"`
	Rooms       *float64  `json:"rooms"`
	Location    string    `json:"location"`
	Description *string   `json:"description"`
	ImageURL    *string   `json:"image_url"`
	Source      string    `json:"source"`
	Markers     []string  `json:"markers"`
	FoundAt     time.Time `json:"found_at"`
}

// GenerateID derives the stable identifier of a listing from its source and URL.
func GenerateID(source, listingURL string) string {
	sum := md5.Sum([]byte(source + ":" + listingURL))
	return source + "-" + hex.EncodeToString(sum[:])[:16]
}

// NewFlat builds a Flat with its id derived from source and url.
func NewFlat(source, listingURL, title, location string) (Flat, error) {
	flat := Flat{
		ID:       GenerateID(source, listingURL),
		Title:    title,
		URL:      listingURL,
		Location: location,
		Source:   source,
		Markers:  []string{},
		FoundAt:  time.Now(),
	}
	if err := flat.Validate(); err != nil {
		return Flat{}, err
	}
	return flat, nil
}

var (
	ErrMissingTitle  = errors.New("flat title is required")
	ErrMissingSource = errors.New("flat source is required")
	ErrInvalidURL    = errors.New("flat url must be an absolute http(s) url")
)

func (f Flat) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return ErrMissingTitle
	}
	if f.Source == "" {
		return ErrMissingSource
	}
	if !IsAbsoluteURL(f.URL) {
		return fmt.Errorf("%w: %q", ErrInvalidURL, f.URL)
	}
	return nil
}

func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// HasMarker reports whether the flat carries the named marker.
func (f Flat) HasMarker(name string) bool {
	for _, m := range f.Markers {
		if m == name {
			return true
		}
	}
	return false
}

// Data returns the JSON snapshot of the flat as stored in site documents.
// Values have the shapes encoding/json produces when decoding into any.
func (f Flat) Data() map[string]any {
	markers := make([]any, len(f.Markers))
	for i, m := range f.Markers {
		markers[i] = m
	}

	return map[string]any{
		"id":          f.ID,
		"title":       f.Title,
		"url":         f.URL,
		"price":       optionalFloat(f.Price),
		"size":        optionalFloat(f.Size),
		"rooms":       optionalFloat(f.Rooms),
		"location":    f.Location,
		"description": optionalString(f.Description),
		"image_url":   optionalString(f.ImageURL),
		"source":      f.Source,
		"markers":     markers,
		"found_at":    f.FoundAt.Format(time.RFC3339Nano),
	}
}

func optionalFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func optionalString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// FlatFromData rebuilds a Flat from a stored snapshot. It does not validate.
func FlatFromData(data map[string]any) (Flat, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Flat{}, fmt.Errorf("failed to encode flat data: %w", err)
	}

	var flat Flat
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Flat{}, fmt.Errorf("failed to decode flat data: %w", err)
	}
	if flat.Markers == nil {
		flat.Markers = []string{}
	}
	return flat, nil
}

// IndexByID returns the ids of flats in first-seen order together with the
// last flat seen for every id.
func IndexByID(flats []Flat) ([]string, map[string]Flat) {
	order := make([]string, 0, len(flats))
	byID := make(map[string]Flat, len(flats))

	for _, flat := range flats {
		if _, ok := byID[flat.ID]; !ok {
			order = append(order, flat.ID)
		}
		byID[flat.ID] = flat
	}
	return order, byID
}

func Float(v float64) *float64 { return &v }

func String(s string) *string { return &s }
