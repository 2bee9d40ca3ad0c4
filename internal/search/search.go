package search

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"wohnung-hunter/internal/models"
	"wohnung-hunter/internal/storage"
)

type SortField string

const (
	SortPrice SortField = "price"
	SortSize  SortField = "size"
	SortRooms SortField = "rooms"
	SortDate  SortField = "date"
)

// Query filters stored apartments. Nil bounds and empty lists do not filter.
type Query struct {
	Sites            []string   `json:"sites,omitempty"`
	PriceMin         *float64   `json:"price_min,omitempty"`
	PriceMax         *float64   `json:"price_max,omitempty"`
	SizeMin          *float64   `json:"size_min,omitempty"`
	SizeMax          *float64   `json:"size_max,omitempty"`
	RoomsMin         *float64   `json:"rooms_min,omitempty"`
	RoomsMax         *float64   `json:"rooms_max,omitempty"`
	Markers          []string   `json:"markers,omitempty"`
	LocationContains string     `json:"location_contains,omitempty"`
	NewSince         *time.Time `json:"new_since,omitempty"`
	ActiveOnly       bool       `json:"active_only"`
	SortBy           SortField  `json:"sort_by,omitempty"`
	SortDesc         bool       `json:"sort_desc,omitempty"`
	Limit            int        `json:"limit,omitempty"`
}

func NewQuery() Query {
	return Query{ActiveOnly: true}
}

func (q Query) Validate() error {
	switch q.SortBy {
	case "", SortPrice, SortSize, SortRooms, SortDate:
	default:
		return fmt.Errorf("unknown sort field %q", q.SortBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

// CacheKey identifies the query for result caching.
func (q Query) CacheKey() string {
	raw, _ := json.Marshal(q)
	sum := sha1.Sum(raw)
	return "search:" + hex.EncodeToString(sum[:])
}

// Matches reports whether a flat first seen at firstSeen passes every filter.
// A bound on a field the flat does not have excludes it. Markers use OR
// semantics.
func (q Query) Matches(flat models.Flat, firstSeen time.Time) bool {
	if !inRange(flat.Price, q.PriceMin, q.PriceMax) ||
		!inRange(flat.Size, q.SizeMin, q.SizeMax) ||
		!inRange(flat.Rooms, q.RoomsMin, q.RoomsMax) {
		return false
	}

	if q.LocationContains != "" &&
		!strings.Contains(strings.ToLower(flat.Location), strings.ToLower(q.LocationContains)) {
		return false
	}

	if len(q.Markers) > 0 {
		found := false
		for _, m := range q.Markers {
			if flat.HasMarker(m) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if q.NewSince != nil && !firstSeen.IsZero() && firstSeen.Before(*q.NewSince) {
		return false
	}
	return true
}

func inRange(v, lo, hi *float64) bool {
	if lo != nil && (v == nil || *v < *lo) {
		return false
	}
	if hi != nil && (v == nil || *v > *hi) {
		return false
	}
	return true
}

// Store is the read side of the site storage used by searches.
type Store interface {
	ListSites() ([]string, error)
	GetApartments(site string) (map[string]*storage.ApartmentMetadata, error)
	GetActiveApartments(site string) (map[string]*storage.ApartmentMetadata, error)
}

type Searcher struct {
	store Store
}

func NewSearcher(store Store) *Searcher {
	return &Searcher{store: store}
}

// Search returns matching flats ordered by site and id, or by q.SortBy.
func (s *Searcher) Search(q Query) ([]models.Flat, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	sites := q.Sites
	if len(sites) == 0 {
		var err error
		if sites, err = s.store.ListSites(); err != nil {
			return nil, fmt.Errorf("failed to list sites: %w", err)
		}
	}

	results := []models.Flat{}
	for _, site := range sites {
		var (
			apartments map[string]*storage.ApartmentMetadata
			err        error
		)
		if q.ActiveOnly {
			apartments, err = s.store.GetActiveApartments(site)
		} else {
			apartments, err = s.store.GetApartments(site)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", site, err)
		}

		ids := make([]string, 0, len(apartments))
		for id := range apartments {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			apt := apartments[id]
			flat, err := models.FlatFromData(apt.Data)
			if err != nil {
				log.Printf("⚠️ Skipping unreadable apartment %s/%s: %v", site, id, err)
				continue
			}
			if q.Matches(flat, apt.FirstSeen) {
				results = append(results, flat)
			}
		}
	}

	if q.SortBy != "" {
		Sort(results, q.SortBy, q.SortDesc)
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// Sort orders flats by field. Flats missing the field always come last.
func Sort(flats []models.Flat, by SortField, desc bool) {
	key := func(f models.Flat) (float64, bool) {
		switch by {
		case SortPrice:
			return deref(f.Price)
		case SortSize:
			return deref(f.Size)
		case SortRooms:
			return deref(f.Rooms)
		case SortDate:
			if f.FoundAt.IsZero() {
				return 0, false
			}
			return float64(f.FoundAt.UnixNano()), true
		}
		return 0, false
	}

	sort.SliceStable(flats, func(i, j int) bool {
		a, okA := key(flats[i])
		b, okB := key(flats[j])
		if okA != okB {
			return okA
		}
		if desc {
			return a > b
		}
		return a < b
	})
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
