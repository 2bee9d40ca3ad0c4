package storage

import (
	"sort"
	"time"

	"wohnung-hunter/internal/changes"
	"wohnung-hunter/internal/models"
)

// SaveApartments reconciles a scrape of one site with its stored document and
// persists the result. It returns the ids of new, updated and removed
// apartments. An apartment that comes back after being removed counts as
// updated even when its data is unchanged.
func (s *SiteStorage) SaveApartments(site string, flats []models.Flat, markMissingAsRemoved bool) (newIDs, updatedIDs, removedIDs []string, err error) {
	now := s.timestamp()

	data, err := s.Read(site)
	if err != nil {
		return nil, nil, nil, err
	}
	if data == nil {
		data = &SiteStorageData{
			Site:       site,
			LastScrape: now,
			Apartments: make(map[string]*ApartmentMetadata),
		}
	}

	newIDs, updatedIDs, removedIDs = []string{}, []string{}, []string{}
	order, byID := models.IndexByID(flats)

	for _, id := range order {
		flatData := byID[id].Data()

		existing, ok := data.Apartments[id]
		if !ok {
			data.Apartments[id] = &ApartmentMetadata{
				ApartmentID: id,
				Status:      StatusActive,
				FirstSeen:   now,
				LastSeen:    now,
				LastUpdated: now,
				Data:        flatData,
			}
			newIDs = append(newIDs, id)
			continue
		}

		wasRemoved := existing.Status == StatusRemoved
		existing.LastSeen = now
		existing.Status = StatusActive

		if wasRemoved || !models.Equal(existing.Data, flatData) {
			existing.Data = flatData
			existing.LastUpdated = now
			updatedIDs = append(updatedIDs, id)
		}
	}

	if markMissingAsRemoved {
		for _, id := range sortedIDs(data.Apartments) {
			if _, seen := byID[id]; seen {
				continue
			}
			apt := data.Apartments[id]
			if apt.Status == StatusActive {
				apt.Status = StatusRemoved
				removedIDs = append(removedIDs, id)
			}
		}
	}

	data.LastScrape = now

	if err := s.Write(data); err != nil {
		return nil, nil, nil, err
	}
	return newIDs, updatedIDs, removedIDs, nil
}

// SaveApartmentsWithChanges diffs the scrape against the stored snapshots
// before persisting it, and optionally appends the changes to the site's
// history log. Removal events are only kept for apartments this call actually
// marked as removed.
func (s *SiteStorage) SaveApartmentsWithChanges(site string, flats []models.Flat, markMissingAsRemoved, trackHistory bool) ([]changes.Change, error) {
	apartments, err := s.GetApartments(site)
	if err != nil {
		return nil, err
	}

	old := make(map[string]map[string]any, len(apartments))
	for id, apt := range apartments {
		old[id] = apt.Data
	}

	detected := s.detector.DetectChanges(old, flats)

	_, _, removedIDs, err := s.SaveApartments(site, flats, markMissingAsRemoved)
	if err != nil {
		return nil, err
	}

	removed := make(map[string]bool, len(removedIDs))
	for _, id := range removedIDs {
		removed[id] = true
	}

	result := make([]changes.Change, 0, len(detected))
	for _, c := range detected {
		if c.ChangeType == changes.ChangeRemoved && !removed[c.ApartmentID] {
			continue
		}
		result = append(result, c)
	}

	if trackHistory && len(result) > 0 {
		if err := s.appendHistory(site, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// GetApartments returns every stored apartment of a site, keyed by id.
func (s *SiteStorage) GetApartments(site string) (map[string]*ApartmentMetadata, error) {
	data, err := s.Read(site)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return map[string]*ApartmentMetadata{}, nil
	}
	return data.Apartments, nil
}

func (s *SiteStorage) GetActiveApartments(site string) (map[string]*ApartmentMetadata, error) {
	apartments, err := s.GetApartments(site)
	if err != nil {
		return nil, err
	}

	active := make(map[string]*ApartmentMetadata, len(apartments))
	for id, apt := range apartments {
		if apt.IsActive() {
			active[id] = apt
		}
	}
	return active, nil
}

// GetApartmentsWithMarkers returns apartments carrying any of the given
// markers. An empty marker list matches nothing.
func (s *SiteStorage) GetApartmentsWithMarkers(site string, markerNames []string, activeOnly bool) (map[string]*ApartmentMetadata, error) {
	var (
		apartments map[string]*ApartmentMetadata
		err        error
	)
	if activeOnly {
		apartments, err = s.GetActiveApartments(site)
	} else {
		apartments, err = s.GetApartments(site)
	}
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(markerNames))
	for _, name := range markerNames {
		wanted[name] = true
	}

	filtered := make(map[string]*ApartmentMetadata)
	for id, apt := range apartments {
		for _, m := range dataMarkers(apt.Data) {
			if wanted[m] {
				filtered[id] = apt
				break
			}
		}
	}
	return filtered, nil
}

func (s *SiteStorage) ApartmentExists(site, apartmentID string) (bool, error) {
	apartments, err := s.GetApartments(site)
	if err != nil {
		return false, err
	}
	_, ok := apartments[apartmentID]
	return ok, nil
}

type SiteStats struct {
	Total   int        `json:"total"`
	Active  int        `json:"active"`
	Removed int        `json:"removed"`
	Newest  *time.Time `json:"newest"`
	Oldest  *time.Time `json:"oldest"`
}

// GetSiteStats counts apartments by status. Newest and Oldest are the latest
// and earliest first_seen among active apartments, nil when none is active.
func (s *SiteStorage) GetSiteStats(site string) (SiteStats, error) {
	apartments, err := s.GetApartments(site)
	if err != nil {
		return SiteStats{}, err
	}

	stats := SiteStats{Total: len(apartments)}
	for _, apt := range apartments {
		if !apt.IsActive() {
			stats.Removed++
			continue
		}
		stats.Active++

		seen := apt.FirstSeen
		if stats.Newest == nil || seen.After(*stats.Newest) {
			stats.Newest = &seen
		}
		if stats.Oldest == nil || seen.Before(*stats.Oldest) {
			stats.Oldest = &seen
		}
	}
	return stats, nil
}

func dataMarkers(data map[string]any) []string {
	switch v := data["markers"].(type) {
	case []string:
		return v
	case []any:
		markers := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				markers = append(markers, s)
			}
		}
		return markers
	default:
		return nil
	}
}

func sortedIDs(apartments map[string]*ApartmentMetadata) []string {
	ids := make([]string, 0, len(apartments))
	for id := range apartments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
