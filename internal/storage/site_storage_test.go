package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wohnung-hunter/internal/changes"
	"wohnung-hunter/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setupTestStorage(t *testing.T) (*SiteStorage, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)}
	s, err := NewSiteStorage(t.TempDir(), WithClock(clock.Now))
	if err != nil {
		t.Fatal("Failed to create storage:", err)
	}
	return s, clock
}

func makeFlat(site, url string, price float64) models.Flat {
	return models.Flat{
		ID:       models.GenerateID(site, url),
		Title:    "Wohnung " + url,
		URL:      url,
		Price:    models.Float(price),
		Location: "Wien",
		Source:   site,
		Markers:  []string{},
		FoundAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSaveUpdateRemoveScenario(t *testing.T) {
	s, clock := setupTestStorage(t)
	flat := makeFlat("siteA", "https://x/1", 1000)

	newIDs, updated, removed, err := s.SaveApartments("siteA", []models.Flat{flat}, true)
	if err != nil {
		t.Fatal("Error saving:", err)
	}
	if len(newIDs) != 1 || newIDs[0] != flat.ID || len(updated) != 0 || len(removed) != 0 {
		t.Fatalf("Expected new=[%s], got new=%v updated=%v removed=%v", flat.ID, newIDs, updated, removed)
	}
	stats, _ := s.GetSiteStats("siteA")
	if stats.Active != 1 {
		t.Errorf("Expected 1 active apartment, got %d", stats.Active)
	}

	clock.Advance(time.Hour)
	flat.Price = models.Float(1100)
	_, updated, _, err = s.SaveApartments("siteA", []models.Flat{flat}, true)
	if err != nil {
		t.Fatal("Error saving update:", err)
	}
	if len(updated) != 1 || updated[0] != flat.ID {
		t.Errorf("Expected updated=[%s], got %v", flat.ID, updated)
	}

	clock.Advance(time.Hour)
	_, _, removed, err = s.SaveApartments("siteA", nil, true)
	if err != nil {
		t.Fatal("Error saving empty scrape:", err)
	}
	if len(removed) != 1 || removed[0] != flat.ID {
		t.Errorf("Expected removed=[%s], got %v", flat.ID, removed)
	}

	active, _ := s.GetActiveApartments("siteA")
	if len(active) != 0 {
		t.Errorf("Expected no active apartments, got %d", len(active))
	}
	all, _ := s.GetApartments("siteA")
	apt, ok := all[flat.ID]
	if !ok {
		t.Fatal("Removed apartment must stay in storage")
	}
	if apt.Status != StatusRemoved {
		t.Errorf("Expected status removed, got %s", apt.Status)
	}
	if apt.Data["price"] != 1100.0 {
		t.Errorf("Expected last known price 1100, got %v", apt.Data["price"])
	}
}

func TestUnchangedResaveIsIdempotent(t *testing.T) {
	s, clock := setupTestStorage(t)
	flats := []models.Flat{
		makeFlat("siteA", "https://x/1", 1000),
		makeFlat("siteA", "https://x/2", 1200),
	}

	if _, _, _, err := s.SaveApartments("siteA", flats, true); err != nil {
		t.Fatal("Error on first save:", err)
	}
	first, _ := s.Read("siteA")
	firstSeen := first.Apartments[flats[0].ID].FirstSeen

	clock.Advance(time.Minute)
	newIDs, updated, removed, err := s.SaveApartments("siteA", flats, true)
	if err != nil {
		t.Fatal("Error on second save:", err)
	}
	if len(newIDs)+len(updated)+len(removed) != 0 {
		t.Errorf("Expected no changes on re-save, got new=%v updated=%v removed=%v", newIDs, updated, removed)
	}

	second, _ := s.Read("siteA")
	apt := second.Apartments[flats[0].ID]
	if !apt.LastSeen.Equal(clock.t) {
		t.Errorf("Expected last_seen to advance to %v, got %v", clock.t, apt.LastSeen)
	}
	if !apt.LastUpdated.Equal(firstSeen) {
		t.Errorf("last_updated should not move, got %v", apt.LastUpdated)
	}
	if !second.LastScrape.Equal(clock.t) {
		t.Errorf("Expected last_scrape %v, got %v", clock.t, second.LastScrape)
	}
}

func TestReconciliationCompleteness(t *testing.T) {
	s, _ := setupTestStorage(t)
	a := makeFlat("siteA", "https://x/a", 1)
	b := makeFlat("siteA", "https://x/b", 2)
	c := makeFlat("siteA", "https://x/c", 3)
	d := makeFlat("siteA", "https://x/d", 4)

	if _, _, _, err := s.SaveApartments("siteA", []models.Flat{a, b, c}, true); err != nil {
		t.Fatal(err)
	}

	b.Price = models.Float(20)
	newIDs, updated, removed, err := s.SaveApartments("siteA", []models.Flat{b, c, d}, true)
	if err != nil {
		t.Fatal(err)
	}

	if len(newIDs) != 1 || newIDs[0] != d.ID {
		t.Errorf("Expected new=[d], got %v", newIDs)
	}
	if len(updated) != 1 || updated[0] != b.ID {
		t.Errorf("Expected updated=[b], got %v", updated)
	}
	if len(removed) != 1 || removed[0] != a.ID {
		t.Errorf("Expected removed=[a], got %v", removed)
	}
}

func TestRemovedIsNotMarkedTwice(t *testing.T) {
	s, _ := setupTestStorage(t)
	a := makeFlat("siteA", "https://x/a", 1)

	s.SaveApartments("siteA", []models.Flat{a}, true)
	s.SaveApartments("siteA", nil, true)
	_, _, removed, err := s.SaveApartments("siteA", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Errorf("Already removed apartment should not be reported again, got %v", removed)
	}
}

func TestKeepMissingWhenNotMarking(t *testing.T) {
	s, _ := setupTestStorage(t)
	a := makeFlat("siteA", "https://x/a", 1)

	s.SaveApartments("siteA", []models.Flat{a}, true)
	_, _, removed, err := s.SaveApartments("siteA", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Errorf("Expected nothing removed, got %v", removed)
	}
	active, _ := s.GetActiveApartments("siteA")
	if len(active) != 1 {
		t.Errorf("Expected apartment to stay active, got %d active", len(active))
	}
}

func TestReactivationCountsAsUpdate(t *testing.T) {
	s, clock := setupTestStorage(t)
	a := makeFlat("siteA", "https://x/a", 1)

	s.SaveApartments("siteA", []models.Flat{a}, true)
	clock.Advance(time.Hour)
	s.SaveApartments("siteA", nil, true)
	clock.Advance(time.Hour)

	newIDs, updated, _, err := s.SaveApartments("siteA", []models.Flat{a}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(newIDs) != 0 {
		t.Errorf("Reactivated apartment must not be new, got %v", newIDs)
	}
	if len(updated) != 1 || updated[0] != a.ID {
		t.Errorf("Expected updated=[%s], got %v", a.ID, updated)
	}

	all, _ := s.GetApartments("siteA")
	apt := all[a.ID]
	if apt.Status != StatusActive {
		t.Errorf("Expected active after reactivation, got %s", apt.Status)
	}
	if !apt.LastUpdated.Equal(clock.t) {
		t.Errorf("Expected last_updated %v, got %v", clock.t, apt.LastUpdated)
	}
}

func TestDuplicateFlatsInOneScrape(t *testing.T) {
	s, _ := setupTestStorage(t)
	a := makeFlat("siteA", "https://x/a", 1)
	a2 := a
	a2.Price = models.Float(2)

	newIDs, _, _, err := s.SaveApartments("siteA", []models.Flat{a, a2}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(newIDs) != 1 {
		t.Errorf("Duplicate id should be reported once, got %v", newIDs)
	}
	all, _ := s.GetApartments("siteA")
	if all[a.ID].Data["price"] != 2.0 {
		t.Errorf("Expected last duplicate to win, got %v", all[a.ID].Data["price"])
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	s, _ := setupTestStorage(t)
	flat := makeFlat("siteA", "https://x/1", 1000)
	flat.Title = "Geförderte Wohnung <Top 3> & Balkon"
	flat.Markers = []string{"subsidized", "rental"}

	other := makeFlat("siteA", "https://x/0", 900)
	s.SaveApartments("siteA", []models.Flat{flat, other}, true)

	path := filepath.Join(s.DataDir(), "siteA.json")
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	data, _ := s.Read("siteA")
	if err := s.Write(data); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)

	if !bytes.Equal(first, second) {
		t.Errorf("Rewriting identical data changed the file:\n%s\n---\n%s", first, second)
	}

	text := string(first)
	if !strings.HasSuffix(text, "}\n") || strings.HasSuffix(text, "\n\n") {
		t.Error("Document must end with exactly one trailing newline")
	}
	if !strings.Contains(text, "Geförderte Wohnung <Top 3> & Balkon") {
		t.Error("Non-ASCII and HTML characters must be preserved")
	}
	if strings.Index(text, `"apartments"`) > strings.Index(text, `"last_scrape"`) ||
		strings.Index(text, `"last_scrape"`) > strings.Index(text, `"site"`) {
		t.Error("Top-level keys must be sorted")
	}
	lo, hi := other.ID, flat.ID
	if hi < lo {
		lo, hi = hi, lo
	}
	if strings.Index(text, `"`+lo+`": {`) > strings.Index(text, `"`+hi+`": {`) {
		t.Error("Apartment ids must be sorted")
	}
}

func TestRoundTrip(t *testing.T) {
	s, _ := setupTestStorage(t)
	now := time.Date(2024, 2, 3, 4, 5, 6, 789012000, time.UTC)
	data := &SiteStorageData{
		Site:       "siteB",
		LastScrape: now,
		Apartments: map[string]*ApartmentMetadata{
			"x": {
				ApartmentID: "x",
				Status:      StatusRemoved,
				FirstSeen:   now.Add(-time.Hour),
				LastSeen:    now,
				LastUpdated: now.Add(-time.Minute),
				Data:        map[string]any{"title": "Ä", "price": 12.5, "markers": []any{"a"}},
			},
		},
	}

	if err := s.Write(data); err != nil {
		t.Fatal(err)
	}
	back, err := s.Read("siteB")
	if err != nil || back == nil {
		t.Fatalf("Expected document back, got %v, %v", back, err)
	}

	if back.Site != "siteB" || !back.LastScrape.Equal(now) {
		t.Errorf("Top-level mismatch: %+v", back)
	}
	got := back.Apartments["x"]
	want := data.Apartments["x"]
	if got.Status != want.Status || !got.FirstSeen.Equal(want.FirstSeen) ||
		!got.LastSeen.Equal(want.LastSeen) || !got.LastUpdated.Equal(want.LastUpdated) {
		t.Errorf("Metadata mismatch: %+v", got)
	}
	if !models.Equal(got.Data, want.Data) {
		t.Errorf("Data mismatch: %v vs %v", got.Data, want.Data)
	}
}

func TestMissingAndMalformedDocuments(t *testing.T) {
	s, _ := setupTestStorage(t)

	data, err := s.Read("nothing")
	if err != nil || data != nil {
		t.Errorf("Missing document should be nil without error, got %v, %v", data, err)
	}

	path := filepath.Join(s.DataDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	apartments, err := s.GetApartments("broken")
	if err != nil {
		t.Fatal("Malformed document must not be an error:", err)
	}
	if len(apartments) != 0 {
		t.Errorf("Expected empty history, got %d", len(apartments))
	}

	newIDs, _, _, err := s.SaveApartments("broken", []models.Flat{makeFlat("broken", "https://x/1", 1)}, true)
	if err != nil || len(newIDs) != 1 {
		t.Errorf("Expected scrape over malformed document to start fresh, got %v, %v", newIDs, err)
	}
}

func TestWriteFailurePropagates(t *testing.T) {
	s, _ := setupTestStorage(t)
	blocker := filepath.Join(s.DataDir(), "sub")
	if err := os.WriteFile(blocker, []byte("file"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := s.Write(&SiteStorageData{Site: filepath.Join("sub", "site")})
	if err == nil {
		t.Error("Expected write error to propagate")
	}
}

func TestApartmentsWithMarkers(t *testing.T) {
	s, _ := setupTestStorage(t)
	a := makeFlat("siteA", "https://x/a", 1)
	a.Markers = []string{"subsidized"}
	b := makeFlat("siteA", "https://x/b", 2)
	b.Markers = []string{"rental"}
	c := makeFlat("siteA", "https://x/c", 3)
	c.Markers = []string{"subsidized", "rental"}

	s.SaveApartments("siteA", []models.Flat{a, b, c}, true)
	s.SaveApartments("siteA", []models.Flat{a, b}, true)

	got, _ := s.GetApartmentsWithMarkers("siteA", []string{"subsidized"}, true)
	if len(got) != 1 || got[a.ID] == nil {
		t.Errorf("Expected only a among active subsidized, got %d", len(got))
	}

	got, _ = s.GetApartmentsWithMarkers("siteA", []string{"subsidized"}, false)
	if len(got) != 2 {
		t.Errorf("Expected a and c including removed, got %d", len(got))
	}

	got, _ = s.GetApartmentsWithMarkers("siteA", []string{"rental", "subsidized"}, true)
	if len(got) != 2 {
		t.Errorf("Expected OR semantics to match a and b, got %d", len(got))
	}

	got, _ = s.GetApartmentsWithMarkers("siteA", nil, false)
	if len(got) != 0 {
		t.Errorf("Empty marker list must match nothing, got %d", len(got))
	}
}

func TestSiteStats(t *testing.T) {
	s, clock := setupTestStorage(t)

	stats, err := s.GetSiteStats("empty")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 0 || stats.Newest != nil || stats.Oldest != nil {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	a := makeFlat("siteA", "https://x/a", 1)
	b := makeFlat("siteA", "https://x/b", 2)
	c := makeFlat("siteA", "https://x/c", 3)
	firstTime := clock.t
	s.SaveApartments("siteA", []models.Flat{a, c}, true)
	clock.Advance(time.Hour)
	s.SaveApartments("siteA", []models.Flat{a, b}, true)

	stats, _ = s.GetSiteStats("siteA")
	if stats.Total != 3 || stats.Active != 2 || stats.Removed != 1 {
		t.Errorf("Unexpected counts %+v", stats)
	}
	if stats.Oldest == nil || !stats.Oldest.Equal(firstTime) {
		t.Errorf("Expected oldest %v, got %v", firstTime, stats.Oldest)
	}
	if stats.Newest == nil || !stats.Newest.Equal(clock.t) {
		t.Errorf("Expected newest %v, got %v", clock.t, stats.Newest)
	}
}

func TestListSites(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.SaveApartments("zeta", nil, true)
	s.SaveApartments("alpha", nil, true)
	os.WriteFile(filepath.Join(s.DataDir(), "alpha_history.jsonl"), []byte("\n"), 0o644)

	sites, err := s.ListSites()
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 2 || sites[0] != "alpha" || sites[1] != "zeta" {
		t.Errorf("Expected [alpha zeta], got %v", sites)
	}

	exists, _ := s.ApartmentExists("alpha", "nope")
	if exists {
		t.Error("Unknown apartment should not exist")
	}
}

func TestSaveWithChangesAndHistory(t *testing.T) {
	s, clock := setupTestStorage(t)
	flat := makeFlat("siteA", "https://x/1", 1000)

	list, err := s.SaveApartmentsWithChanges("siteA", []models.Flat{flat}, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ChangeType != changes.ChangeNew {
		t.Fatalf("Expected one new change, got %+v", list)
	}

	clock.Advance(time.Hour)
	flat.Price = models.Float(1100)
	list, _ = s.SaveApartmentsWithChanges("siteA", []models.Flat{flat}, true, true)
	if len(list) != 1 || list[0].ChangeType != changes.ChangeUpdated {
		t.Fatalf("Expected one updated change, got %+v", list)
	}
	if fc := list[0].Changes["price"]; fc.Old != 1000.0 || fc.New != 1100.0 {
		t.Errorf("Expected price (1000, 1100), got %+v", fc)
	}

	clock.Advance(time.Hour)
	list, _ = s.SaveApartmentsWithChanges("siteA", nil, true, true)
	if len(list) != 1 || list[0].ChangeType != changes.ChangeRemoved {
		t.Fatalf("Expected one removed change, got %+v", list)
	}

	clock.Advance(time.Hour)
	list, _ = s.SaveApartmentsWithChanges("siteA", nil, true, true)
	if len(list) != 0 {
		t.Errorf("Already removed apartment must not be reported again, got %+v", list)
	}

	history, err := s.GetChangeHistory("siteA", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(history))
	}
	if history[0].ChangeType != changes.ChangeRemoved || history[2].ChangeType != changes.ChangeNew {
		t.Errorf("History must be most recent first, got %s..%s", history[0].ChangeType, history[2].ChangeType)
	}
	if history[1].Changes["price"].New != 1100.0 {
		t.Errorf("Expected price change in history, got %+v", history[1].Changes)
	}

	limited, _ := s.GetChangeHistory("siteA", 1)
	if len(limited) != 1 || limited[0].ChangeType != changes.ChangeRemoved {
		t.Errorf("Expected only the latest change, got %+v", limited)
	}

	none, err := s.GetChangeHistory("other", 5)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty history for unknown site, got %v, %v", none, err)
	}
}

func TestMigrateFromLegacy(t *testing.T) {
	s, _ := setupTestStorage(t)
	legacy := filepath.Join(t.TempDir(), "flats.json")
	content := `{
  "flats": {
    "oevw-1": {"title": "A", "url": "https://oevw.at/1", "source": "oevw", "price": 700, "found_at": "2023-11-02T10:00:00"},
    "oevw-2": {"title": "B", "url": "https://oevw.at/2", "source": "oevw", "location": "Wien"},
    "migra-1": {"title": "C", "url": "https://migra.at/1", "source": "migra"},
    "nosrc": {"title": "D", "url": "https://old.example/4"},
    "bad": {"title": "E", "url": "not a url", "source": "oevw"}
  },
  "last_updated": "2023-11-02T10:00:00"
}`
	if err := os.WriteFile(legacy, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := s.MigrateFromLegacy(legacy, "legacy")
	if err != nil {
		t.Fatal("Migration failed:", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 migrated flats, got %d", n)
	}

	oevw, _ := s.GetActiveApartments("oevw")
	if len(oevw) != 2 {
		t.Errorf("Expected 2 oevw apartments, got %d", len(oevw))
	}
	if oevw["oevw-1"] == nil || oevw["oevw-1"].Data["location"] != "Unknown" {
		t.Error("Missing location should default to Unknown")
	}
	if oevw["oevw-1"].Data["found_at"] != "2023-11-02T10:00:00Z" {
		t.Errorf("Expected legacy found_at kept, got %v", oevw["oevw-1"].Data["found_at"])
	}

	fallback, _ := s.GetApartments("legacy")
	if len(fallback) != 1 {
		t.Errorf("Expected flat without source under default site, got %d", len(fallback))
	}

	n, err = s.MigrateFromLegacy(filepath.Join(t.TempDir(), "missing.json"), "legacy")
	if err != nil || n != 0 {
		t.Errorf("Missing legacy file should be a no-op, got %d, %v", n, err)
	}
}

func TestImportLegacyOnce(t *testing.T) {
	s, _ := setupTestStorage(t)
	legacy := filepath.Join(t.TempDir(), "flats.json")
	content := `{"flats": {"oevw-1": {"title": "A", "url": "https://oevw.at/1", "source": "oevw"}}}`
	if err := os.WriteFile(legacy, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := s.ImportLegacyOnce(legacy, "legacy")
	if err != nil {
		t.Fatal("Import failed:", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 imported flat on first start, got %d", n)
	}

	n, err = s.ImportLegacyOnce(legacy, "legacy")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Expected no import once site documents exist, got %d", n)
	}

	empty, _ := setupTestStorage(t)
	n, err = empty.ImportLegacyOnce(filepath.Join(t.TempDir(), "missing.json"), "legacy")
	if err != nil || n != 0 {
		t.Errorf("Expected missing legacy file to be ignored, got %d, %v", n, err)
	}
}

func TestChangesOnlyReportRemovalsOfThisSave(t *testing.T) {
	s, clock := setupTestStorage(t)
	a := makeFlat("siteA", "https://x/a", 1)

	if _, err := s.SaveApartmentsWithChanges("siteA", []models.Flat{a}, true, false); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)

	list, err := s.SaveApartmentsWithChanges("siteA", nil, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no removal when missing apartments are kept, got %d changes", len(list))
	}

	list, _ = s.SaveApartmentsWithChanges("siteA", nil, true, false)
	if len(list) != 1 || list[0].ChangeType != changes.ChangeRemoved {
		t.Fatalf("Expected one removal, got %+v", list)
	}
	clock.Advance(time.Hour)

	list, _ = s.SaveApartmentsWithChanges("siteA", nil, true, false)
	if len(list) != 0 {
		t.Errorf("Expected an already removed apartment not to be reported again, got %d", len(list))
	}

	list, _ = s.SaveApartmentsWithChanges("siteA", []models.Flat{a}, true, false)
	if len(list) != 0 {
		t.Errorf("Expected silent reactivation with identical data, got %d changes", len(list))
	}
	active, _ := s.GetActiveApartments("siteA")
	if len(active) != 1 {
		t.Errorf("Expected reactivated apartment to be active, got %d", len(active))
	}
}
