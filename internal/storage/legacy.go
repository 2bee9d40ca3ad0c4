package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"wohnung-hunter/internal/models"
)

type legacyDocument struct {
	Flats       map[string]map[string]any `json:"flats"`
	LastUpdated string                    `json:"last_updated"`
}

// MigrateFromLegacy imports a single-file flats.json history into per-site
// documents grouped by each flat's source. Nothing is marked as removed.
// Records that cannot form a valid flat are logged and skipped. It returns
// the number of imported flats.
func (s *SiteStorage) MigrateFromLegacy(path, defaultSite string) (int, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy file %s: %w", path, err)
	}

	var doc legacyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("failed to parse legacy file %s: %w", path, err)
	}

	now := s.timestamp()
	bySite := make(map[string][]models.Flat)

	ids := make([]string, 0, len(doc.Flats))
	for id := range doc.Flats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		flat, err := legacyFlat(id, doc.Flats[id], now)
		if err != nil {
			log.Printf("⚠️ Skipping legacy flat %s: %v", id, err)
			continue
		}
		if flat.Source == "" {
			flat.Source = defaultSite
		}
		if err := flat.Validate(); err != nil {
			log.Printf("⚠️ Skipping legacy flat %s: %v", id, err)
			continue
		}
		bySite[flat.Source] = append(bySite[flat.Source], flat)
	}

	sites := make([]string, 0, len(bySite))
	for site := range bySite {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	migrated := 0
	for _, site := range sites {
		if _, _, _, err := s.SaveApartments(site, bySite[site], false); err != nil {
			return migrated, fmt.Errorf("failed to save migrated flats for %s: %w", site, err)
		}
		migrated += len(bySite[site])
		log.Printf("📦 Migrated %d flats into %s", len(bySite[site]), site)
	}
	return migrated, nil
}

// ImportLegacyOnce migrates path only while the data dir holds no site
// documents, so a configured legacy file is imported on first start and
// ignored afterwards.
func (s *SiteStorage) ImportLegacyOnce(path, defaultSite string) (int, error) {
	sites, err := s.ListSites()
	if err != nil {
		return 0, fmt.Errorf("failed to list sites: %w", err)
	}
	if len(sites) > 0 {
		return 0, nil
	}
	return s.MigrateFromLegacy(path, defaultSite)
}

// legacyFlat fills in what old records commonly lack: the id comes from the
// map key, found_at defaults to now and location to "Unknown".
func legacyFlat(id string, record map[string]any, now time.Time) (models.Flat, error) {
	data := make(map[string]any, len(record)+3)
	for k, v := range record {
		data[k] = v
	}
	data["id"] = id

	foundAt := now
	if raw, ok := data["found_at"].(string); ok {
		if t, ok := parseTimestamp(raw); ok {
			foundAt = t
		}
	}
	data["found_at"] = foundAt.Format(time.RFC3339Nano)
	if loc, ok := data["location"].(string); !ok || loc == "" {
		data["location"] = "Unknown"
	}

	return models.FlatFromData(data)
}

// parseTimestamp accepts RFC 3339 and the offset-less ISO form older files
// use, which is read as UTC.
func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
