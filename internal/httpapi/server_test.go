package httpapi

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wohnung-hunter/internal/changes"
	"wohnung-hunter/internal/models"
	"wohnung-hunter/internal/storage"
)

func testFlat(site, path, title string, price float64, markers ...string) models.Flat {
	url := "https://" + site + ".example/" + path
	return models.Flat{
		ID:       models.GenerateID(site, url),
		Title:    title,
		URL:      url,
		Price:    models.Float(price),
		Location: "1020 Wien",
		Source:   site,
		Markers:  append([]string{}, markers...),
		FoundAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type memoryCache struct {
	results map[string][]models.Flat
	hits    int
}

func (c *memoryCache) GetCachedResults(ctx context.Context, key string) ([]models.Flat, bool) {
	flats, ok := c.results[key]
	if ok {
		c.hits++
	}
	return flats, ok
}

func (c *memoryCache) CacheSearchResults(ctx context.Context, key string, results []models.Flat) error {
	c.results[key] = results
	return nil
}

func setupServer(t *testing.T) (http.Handler, *memoryCache) {
	store, err := storage.NewSiteStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first := []models.Flat{
		testFlat("alpha", "1", "Altbau", 900, "balcony"),
		testFlat("alpha", "2", "Neubau", 1400),
		testFlat("alpha", "3", "Dachgeschoss", 2100, "balcony"),
	}
	if _, err := store.SaveApartmentsWithChanges("alpha", first, true, true); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveApartmentsWithChanges("alpha", first[:2], true, true); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveApartmentsWithChanges("beta", []models.Flat{testFlat("beta", "1", "Garten", 800)}, true, true); err != nil {
		t.Fatal(err)
	}

	cache := &memoryCache{results: make(map[string][]models.Flat)}
	s := NewServer("0", store, cache)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	return s.Routes(), cache
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestSites(t *testing.T) {
	h, _ := setupServer(t)

	rec := get(t, h, "/sites")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var sites []siteSummary
	decode(t, rec, &sites)
	if len(sites) != 2 || sites[0].Site != "alpha" || sites[1].Site != "beta" {
		t.Fatalf("Unexpected sites %+v", sites)
	}
	if sites[0].Stats.Active != 2 || sites[0].Stats.Removed != 1 {
		t.Errorf("Expected 2 active and 1 removed, got %+v", sites[0].Stats)
	}
}

func TestStatsUnknownSite(t *testing.T) {
	h, _ := setupServer(t)

	if rec := get(t, h, "/sites/gamma/stats"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec := get(t, h, "/sites/beta/stats")
	var stats storage.SiteStats
	decode(t, rec, &stats)
	if stats.Total != 1 || stats.Active != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestApartments(t *testing.T) {
	h, _ := setupServer(t)

	tests := []struct {
		path     string
		expected int
	}{
		{"/sites/alpha/apartments", 2},
		{"/sites/alpha/apartments?active=false", 3},
		{"/sites/alpha/apartments?marker=balcony", 1},
		{"/sites/alpha/apartments?marker=balcony&active=false", 2},
	}

	for _, tt := range tests {
		rec := get(t, h, tt.path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.path, rec.Code)
		}
		var list []storage.ApartmentMetadata
		decode(t, rec, &list)
		if len(list) != tt.expected {
			t.Errorf("%s: expected %d apartments, got %d", tt.path, tt.expected, len(list))
		}
	}

	if rec := get(t, h, "/sites/alpha/apartments?active=maybe"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid active, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	h, _ := setupServer(t)

	rec := get(t, h, "/sites/alpha/history")
	var history []changes.Change
	decode(t, rec, &history)
	if len(history) != 4 {
		t.Fatalf("Expected 4 history entries, got %d", len(history))
	}
	if history[0].ChangeType != changes.ChangeRemoved {
		t.Errorf("Expected most recent change first, got %s", history[0].ChangeType)
	}

	rec = get(t, h, "/sites/alpha/history?limit=1")
	history = nil
	decode(t, rec, &history)
	if len(history) != 1 {
		t.Errorf("Expected 1 entry with limit, got %d", len(history))
	}

	if rec := get(t, h, "/sites/alpha/history?limit=-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	h, cache := setupServer(t)

	rec := get(t, h, "/search?price_max=1500&sort=price&desc=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var flats []models.Flat
	decode(t, rec, &flats)
	if len(flats) != 3 {
		t.Fatalf("Expected 3 flats, got %d", len(flats))
	}
	if flats[0].Title != "Neubau" || flats[2].Title != "Garten" {
		t.Errorf("Expected descending price order, got %s..%s", flats[0].Title, flats[2].Title)
	}

	get(t, h, "/search?price_max=1500&sort=price&desc=true")
	if cache.hits != 1 {
		t.Errorf("Expected cached second search, got %d hits", cache.hits)
	}

	rec = get(t, h, "/search?site=alpha&marker=balcony&active=false&format=csv")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("Expected header and 2 rows, got %d rows", len(rows))
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected csv content type, got %s", ct)
	}
}

func TestSearchBadRequests(t *testing.T) {
	h, _ := setupServer(t)

	for _, path := range []string{
		"/search?price_min=cheap",
		"/search?sort=color",
		"/search?limit=-2",
		"/search?since=someday",
		"/search?format=xml",
	} {
		if rec := get(t, h, path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestParseSearch(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	req := httptest.NewRequest(http.MethodGet, "/search?site=alpha,beta&site=gamma&rooms_min=2&since=2+days+ago&limit=5", nil)

	q, format, err := parseSearch(req, now)
	if err != nil {
		t.Fatal(err)
	}
	if format != "json" {
		t.Errorf("Expected json format, got %s", format)
	}
	if len(q.Sites) != 3 || q.Sites[2] != "gamma" {
		t.Errorf("Unexpected sites %v", q.Sites)
	}
	if q.RoomsMin == nil || *q.RoomsMin != 2 {
		t.Errorf("Expected rooms_min 2, got %v", q.RoomsMin)
	}
	if q.NewSince == nil || !q.NewSince.Equal(now.Add(-48*time.Hour)) {
		t.Errorf("Expected since two days ago, got %v", q.NewSince)
	}
	if !q.ActiveOnly || q.Limit != 5 {
		t.Errorf("Unexpected query %+v", q)
	}
}

type brokenStore struct {
	*storage.SiteStorage
}

func (brokenStore) ListSites() ([]string, error) {
	panic("corrupt data dir")
}

func TestPanicsBecomeServerErrors(t *testing.T) {
	store, err := storage.NewSiteStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := NewServer("0", brokenStore{store}, nil).Routes()

	rec := get(t, h, "/sites")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 after a handler panic, got %d", rec.Code)
	}

	if rec := get(t, h, "/health"); rec.Code != http.StatusOK {
		t.Errorf("Expected server to keep serving, got %d", rec.Code)
	}
}
