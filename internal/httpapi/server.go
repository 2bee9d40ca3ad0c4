// Package httpapi serves a read-only JSON view of the site stores.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wohnung-hunter/internal/changes"
	"wohnung-hunter/internal/models"
	"wohnung-hunter/internal/search"
	"wohnung-hunter/internal/storage"
	"wohnung-hunter/internal/utils"
)

// Store is the read side of the site storage.
type Store interface {
	search.Store
	GetApartmentsWithMarkers(site string, markerNames []string, activeOnly bool) (map[string]*storage.ApartmentMetadata, error)
	GetSiteStats(site string) (storage.SiteStats, error)
	GetChangeHistory(site string, limit int) ([]changes.Change, error)
}

// ResultCache caches search results by query key.
type ResultCache interface {
	GetCachedResults(ctx context.Context, key string) ([]models.Flat, bool)
	CacheSearchResults(ctx context.Context, key string, results []models.Flat) error
}

type Server struct {
	store      Store
	searcher   *search.Searcher
	cache      ResultCache
	now        func() time.Time
	httpServer *http.Server
}

// NewServer builds the API. cache may be nil.
func NewServer(port string, store Store, cache ResultCache) *Server {
	s := &Server{
		store:    store,
		searcher: search.NewSearcher(store),
		cache:    cache,
		now:      time.Now,
	}

	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/sites", s.handleSites)
	r.Get("/sites/{site}/stats", s.handleStats)
	r.Get("/sites/{site}/apartments", s.handleApartments)
	r.Get("/sites/{site}/history", s.handleHistory)
	r.Get("/search", s.handleSearch)
	return r
}

// Start blocks until the server is shut down or fails.
func (s *Server) Start() error {
	log.Printf("🌐 API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type siteSummary struct {
	Site  string            `json:"site"`
	Stats storage.SiteStats `json:"stats"`
}

func (s *Server) handleSites(w http.ResponseWriter, _ *http.Request) {
	sites, err := s.store.ListSites()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	summaries := make([]siteSummary, 0, len(sites))
	for _, site := range sites {
		stats, err := s.store.GetSiteStats(site)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		summaries = append(summaries, siteSummary{Site: site, Stats: stats})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// knownSite writes a 404 and returns false for sites without a document.
func (s *Server) knownSite(w http.ResponseWriter, r *http.Request) (string, bool) {
	site := chi.URLParam(r, "site")
	sites, err := s.store.ListSites()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return "", false
	}
	for _, known := range sites {
		if known == site {
			return site, true
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown site %q", site))
	return "", false
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	site, ok := s.knownSite(w, r)
	if !ok {
		return
	}

	stats, err := s.store.GetSiteStats(site)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleApartments(w http.ResponseWriter, r *http.Request) {
	site, ok := s.knownSite(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	activeOnly := true
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid active: %w", err))
			return
		}
		activeOnly = b
	}

	var (
		apartments map[string]*storage.ApartmentMetadata
		err        error
	)
	switch markers := listParam(q["marker"]); {
	case len(markers) > 0:
		apartments, err = s.store.GetApartmentsWithMarkers(site, markers, activeOnly)
	case activeOnly:
		apartments, err = s.store.GetActiveApartments(site)
	default:
		apartments, err = s.store.GetApartments(site)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ids := make([]string, 0, len(apartments))
	for id := range apartments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	list := make([]*storage.ApartmentMetadata, 0, len(ids))
	for _, id := range ids {
		list = append(list, apartments[id])
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	site, ok := s.knownSite(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	history, err := s.store.GetChangeHistory(site, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query, format, err := parseSearch(r, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flats, err := s.cachedSearch(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := search.ExportCSV(w, flats); err != nil {
			log.Printf("❌ Failed to write csv: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := search.ExportJSON(w, flats); err != nil {
		log.Printf("❌ Failed to write json: %v", err)
	}
}

func (s *Server) cachedSearch(ctx context.Context, query search.Query) ([]models.Flat, error) {
	if s.cache == nil {
		return s.searcher.Search(query)
	}

	key := query.CacheKey()
	if cached, ok := s.cache.GetCachedResults(ctx, key); ok {
		return cached, nil
	}

	flats, err := s.searcher.Search(query)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheSearchResults(ctx, key, flats); err != nil {
		log.Printf("⚠️ Failed to cache search: %v", err)
	}
	return flats, nil
}

// parseSearch maps query parameters onto a search query. List parameters
// may repeat or be comma separated.
func parseSearch(r *http.Request, now time.Time) (search.Query, string, error) {
	v := r.URL.Query()
	q := search.NewQuery()

	q.Sites = listParam(v["site"])
	q.Markers = listParam(v["marker"])
	q.LocationContains = strings.TrimSpace(v.Get("location"))

	bounds := []struct {
		name string
		dst  **float64
	}{
		{"price_min", &q.PriceMin},
		{"price_max", &q.PriceMax},
		{"size_min", &q.SizeMin},
		{"size_max", &q.SizeMax},
		{"rooms_min", &q.RoomsMin},
		{"rooms_max", &q.RoomsMax},
	}
	for _, b := range bounds {
		raw := v.Get(b.name)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, "", fmt.Errorf("invalid %s %q", b.name, raw)
		}
		*b.dst = &f
	}

	if raw := v.Get("since"); raw != "" {
		since, err := utils.ParseSince(raw, now)
		if err != nil {
			return q, "", err
		}
		q.NewSince = &since
	}

	if raw := v.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return q, "", fmt.Errorf("invalid active %q", raw)
		}
		q.ActiveOnly = active
	}

	q.SortBy = search.SortField(v.Get("sort"))
	if raw := v.Get("desc"); raw != "" {
		desc, err := strconv.ParseBool(raw)
		if err != nil {
			return q, "", fmt.Errorf("invalid desc %q", raw)
		}
		q.SortDesc = desc
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, "", fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = n
	}

	format := v.Get("format")
	switch format {
	case "", "json":
		format = "json"
	case "csv":
	default:
		return q, "", fmt.Errorf("unknown format %q", format)
	}

	return q, format, q.Validate()
}

func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
