package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"wohnung-hunter/internal/changes"
	"wohnung-hunter/internal/database"
	"wohnung-hunter/internal/models"
	"wohnung-hunter/internal/storage"
)

const maxListed = 5

func formatPriceRange(minPrice, maxPrice float64) string {
	switch {
	case minPrice > 0 && maxPrice > 0:
		return fmt.Sprintf("%s - %s €", formatAmount(minPrice), formatAmount(maxPrice))
	case minPrice > 0:
		return fmt.Sprintf("from %s €", formatAmount(minPrice))
	case maxPrice > 0:
		return fmt.Sprintf("up to %s €", formatAmount(maxPrice))
	}
	return "no limit"
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFilter(i int, f *database.UserFilter) string {
	status := "🟢"
	if !f.IsActive {
		status = "🔴"
	}

	text := fmt.Sprintf("%s %d. %s\n", status, i+1, f.Name)
	sites := "all"
	if list := f.SiteList(); len(list) > 0 {
		sites = strings.Join(list, ", ")
	}
	text += fmt.Sprintf("   🌐 Sites: %s\n", sites)
	if list := f.MarkerList(); len(list) > 0 {
		text += fmt.Sprintf("   🏷 Markers: %s\n", strings.Join(list, ", "))
	}
	text += fmt.Sprintf("   💰 Price: %s\n", formatPriceRange(f.MinPrice, f.MaxPrice))
	if f.Location != "" {
		text += fmt.Sprintf("   📍 Location: %s\n", f.Location)
	}
	return text
}

func formatFlat(i int, f models.Flat) string {
	text := fmt.Sprintf("%d. %s\n", i+1, f.Title)
	if f.Price != nil {
		text += fmt.Sprintf("💰 %s €", formatAmount(*f.Price))
		if f.Size != nil {
			text += fmt.Sprintf(" · %s m²", formatAmount(*f.Size))
		}
		if f.Rooms != nil {
			text += fmt.Sprintf(" · %s rooms", formatAmount(*f.Rooms))
		}
		text += "\n"
	}
	text += fmt.Sprintf("📍 %s\n", f.Location)
	if len(f.Markers) > 0 {
		text += fmt.Sprintf("🏷 %s\n", strings.Join(f.Markers, ", "))
	}
	text += fmt.Sprintf("🔗 %s\n", f.URL)
	return text
}

func formatResults(filterName string, flats []models.Flat) string {
	if len(flats) == 0 {
		return "😔 No apartments found"
	}

	text := fmt.Sprintf("📋 %s - found %d:\n\n", filterName, len(flats))
	for i, f := range flats {
		if i >= maxListed {
			break
		}
		text += formatFlat(i, f) + "\n"
	}
	if len(flats) > maxListed {
		text += fmt.Sprintf("... and %d more\n", len(flats)-maxListed)
	}
	return text
}

// formatPriceChange renders a price transition with the relative move,
// e.g. "1200 € → 1000 € (📉 -16.7%)".
func formatPriceChange(fc changes.FieldChange) string {
	oldPrice, okOld := toFloat(fc.Old)
	newPrice, okNew := toFloat(fc.New)
	switch {
	case !okOld && !okNew:
		return "price unknown"
	case !okOld:
		return fmt.Sprintf("? → %s €", formatAmount(newPrice))
	case !okNew:
		return fmt.Sprintf("%s € → ?", formatAmount(oldPrice))
	}

	text := fmt.Sprintf("%s € → %s €", formatAmount(oldPrice), formatAmount(newPrice))
	if oldPrice == 0 {
		return text
	}
	pct := (newPrice - oldPrice) / oldPrice * 100
	pct = math.Round(pct*10) / 10
	if pct < 0 {
		return text + fmt.Sprintf(" (📉 %.1f%%)", pct)
	}
	return text + fmt.Sprintf(" (📈 +%.1f%%)", pct)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func formatChange(c changes.Change) string {
	flat, err := c.Apartment()
	if err != nil {
		return fmt.Sprintf("%s: %s\n", strings.ToUpper(string(c.ChangeType)), c.ApartmentID)
	}

	switch c.ChangeType {
	case changes.ChangeNew:
		text := "🆕 " + flat.Title + "\n"
		if flat.Price != nil {
			text += fmt.Sprintf("💰 %s €\n", formatAmount(*flat.Price))
		}
		text += fmt.Sprintf("📍 %s\n🔗 %s\n", flat.Location, flat.URL)
		return text
	case changes.ChangeRemoved:
		return "❌ " + flat.Title + "\n"
	}

	text := "✏️ " + flat.Title + "\n"
	for _, field := range c.ChangedFields() {
		fc := c.Changes[field]
		switch field {
		case "price":
			text += "💰 " + formatPriceChange(fc) + "\n"
		case "title", "description":
			text += fmt.Sprintf("   %s changed\n", field)
		default:
			text += fmt.Sprintf("   %s: %v → %v\n", field, orUnknown(fc.Old), orUnknown(fc.New))
		}
	}
	text += fmt.Sprintf("🔗 %s\n", flat.URL)
	return text
}

func orUnknown(v any) any {
	if v == nil {
		return "?"
	}
	return v
}

func formatNotification(filterName, site string, list []changes.Change) string {
	text := fmt.Sprintf("🔔 %s: %d change(s) on %s\n\n", filterName, len(list), site)
	for i, c := range list {
		if i >= maxListed {
			break
		}
		text += formatChange(c) + "\n"
	}
	if len(list) > maxListed {
		text += fmt.Sprintf("... and %d more\n", len(list)-maxListed)
	}
	return text
}

// matchingChanges keeps the significant changes of site whose apartment
// passes the filter.
func matchingChanges(f *database.UserFilter, site string, list []changes.Change) []changes.Change {
	if !f.IsActive || !f.WantsSite(site) {
		return nil
	}

	q := f.Query()
	var matched []changes.Change
	for _, c := range changes.Significant(list) {
		flat, err := c.Apartment()
		if err != nil {
			continue
		}
		if q.Matches(flat, c.Timestamp) {
			matched = append(matched, c)
		}
	}
	return matched
}

func formatSiteStats(site string, stats storage.SiteStats) string {
	text := fmt.Sprintf("🏠 %s: %d active / %d total", site, stats.Active, stats.Total)
	if stats.Newest != nil {
		text += fmt.Sprintf(", newest %s", stats.Newest.Format(time.DateOnly))
	}
	return text
}

// parseOptionalPrice accepts "-" or an empty answer as "no limit".
func parseOptionalPrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("price must not be negative")
	}
	return v, nil
}

func parseOptionalList(s string) string {
	s = strings.TrimSpace(s)
	if s == "-" {
		return ""
	}
	return database.JoinList(database.SplitList(s))
}
