package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"wohnung-hunter/internal/changes"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRemoved Status = "removed"
)

// ApartmentMetadata wraps the last observed snapshot of an apartment with its
// lifecycle timestamps. Fields are declared in key order so documents come
// out fully sorted.
type ApartmentMetadata struct {
	ApartmentID string         `json:"apartment_id"`
	Data        map[string]any `json:"data"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
	LastUpdated time.Time      `json:"last_updated"`
	Status      Status         `json:"status"`
}

func (m *ApartmentMetadata) IsActive() bool {
	return m.Status == StatusActive
}

// SiteStorageData is the whole document kept for one site.
type SiteStorageData struct {
	Apartments map[string]*ApartmentMetadata `json:"apartments"`
	LastScrape time.Time                     `json:"last_scrape"`
	Site       string                        `json:"site"`
}

// SiteStorage keeps one JSON document per site in a data directory.
// It is not safe for concurrent writers on the same site.
type SiteStorage struct {
	dataDir  string
	now      func() time.Time
	detector *changes.Detector
}

type Option func(*SiteStorage)

// WithClock overrides the time source used for all lifecycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SiteStorage) { s.now = now }
}

func WithDetector(d *changes.Detector) Option {
	return func(s *SiteStorage) { s.detector = d }
}

func NewSiteStorage(dataDir string, opts ...Option) (*SiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %q: %w", dataDir, err)
	}

	s := &SiteStorage{
		dataDir:  dataDir,
		now:      time.Now,
		detector: changes.NewDetector(changes.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.detector.SetClock(s.timestamp)
	return s, nil
}

func (s *SiteStorage) DataDir() string {
	return s.dataDir
}

// timestamp is the store's clock in UTC at microsecond precision, which is
// what survives a write and read back.
func (s *SiteStorage) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *SiteStorage) siteFile(site string) string {
	return filepath.Join(s.dataDir, site+".json")
}

func (s *SiteStorage) historyFile(site string) string {
	return filepath.Join(s.dataDir, site+"_history.jsonl")
}

// Read loads a site document. A missing document yields nil without error;
// an unreadable or malformed one is logged and treated the same way.
func (s *SiteStorage) Read(site string) (*SiteStorageData, error) {
	raw, err := os.ReadFile(s.siteFile(site))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		log.Printf("⚠️ Cannot read storage for %s, starting without history: %v", site, err)
		return nil, nil
	}

	var data SiteStorageData
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Printf("⚠️ Malformed storage for %s, starting without history: %v", site, err)
		return nil, nil
	}

	if data.Site == "" {
		data.Site = site
	}
	if data.Apartments == nil {
		data.Apartments = make(map[string]*ApartmentMetadata)
	}
	return &data, nil
}

// Write serializes the document deterministically and replaces the site file
// through a temporary file and rename.
func (s *SiteStorage) Write(data *SiteStorageData) error {
	if data.Apartments == nil {
		data.Apartments = make(map[string]*ApartmentMetadata)
	}

	encoded, err := encodeDocument(data)
	if err != nil {
		return fmt.Errorf("failed to encode storage for %s: %w", data.Site, err)
	}

	return writeFileAtomic(s.siteFile(data.Site), encoded)
}

// encodeDocument renders the document with 2-space indentation, sorted keys,
// unescaped non-ASCII and HTML characters and a single trailing newline.
func encodeDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// ListSites returns the names of all sites that have a document, sorted.
func (s *SiteStorage) ListSites() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dataDir, "*.json"))
	if err != nil {
		return nil, err
	}

	sites := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		if strings.HasPrefix(base, ".") {
			continue
		}
		sites = append(sites, strings.TrimSuffix(base, ".json"))
	}
	sort.Strings(sites)
	return sites, nil
}
