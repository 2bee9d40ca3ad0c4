package search

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"wohnung-hunter/internal/models"
)

var csvHeader = []string{"id", "title", "price", "size", "rooms", "location", "url", "source", "description", "image_url", "markers", "found_at"}

// ExportJSON writes flats as an indented JSON array, keeping non-ASCII text.
func ExportJSON(w io.Writer, flats []models.Flat) error {
	if flats == nil {
		flats = []models.Flat{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(flats)
}

// ExportCSV writes one row per flat under a fixed header. Markers are joined
// with ";".
func ExportCSV(w io.Writer, flats []models.Flat) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, f := range flats {
		row := []string{
			f.ID,
			f.Title,
			formatFloat(f.Price),
			formatFloat(f.Size),
			formatFloat(f.Rooms),
			f.Location,
			f.URL,
			f.Source,
			formatString(f.Description),
			formatString(f.ImageURL),
			strings.Join(f.Markers, ";"),
			f.FoundAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
