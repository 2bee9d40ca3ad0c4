// Package siteconfig loads declarative scraper definitions from YAML files.
package siteconfig

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wohnung-hunter/internal/markers"
	"wohnung-hunter/internal/models"
)

type Selectors struct {
	Listing     string `yaml:"listing"`
	Title       string `yaml:"title"`
	URL         string `yaml:"url"`
	Price       string `yaml:"price"`
	Size        string `yaml:"size"`
	Rooms       string `yaml:"rooms"`
	Location    string `yaml:"location"`
	Description string `yaml:"description"`
	Image       string `yaml:"image"`
}

type Pagination struct {
	Enabled      bool   `yaml:"enabled"`
	NextSelector string `yaml:"next_selector"`
	MaxPages     int    `yaml:"max_pages"`
	URLPattern   string `yaml:"url_pattern"` // e.g. "?page={page}"
}

type SiteConfig struct {
	Name           string           `yaml:"name"`
	DisplayName    string           `yaml:"display_name"`
	BaseURL        string           `yaml:"base_url"`
	Enabled        bool             `yaml:"enabled"`
	Render         bool             `yaml:"render"`
	MinResults     int              `yaml:"min_results"`
	Selectors      Selectors        `yaml:"selectors"`
	Pagination     *Pagination      `yaml:"pagination"`
	Markers        []markers.Marker `yaml:"markers"`
	RequestTimeout int              `yaml:"request_timeout"`
	RateLimitDelay float64          `yaml:"rate_limit_delay"`

	path string
}

const (
	defaultRequestTimeout = 30
	defaultRateLimitDelay = 1.0
	defaultMaxPages       = 5
)

func defaults() SiteConfig {
	return SiteConfig{
		Enabled:        true,
		RequestTimeout: defaultRequestTimeout,
		RateLimitDelay: defaultRateLimitDelay,
	}
}

func (c *SiteConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *SiteConfig) Delay() time.Duration {
	return time.Duration(c.RateLimitDelay * float64(time.Second))
}

// Path is the file the configuration was loaded from.
func (c *SiteConfig) Path() string {
	return c.path
}

// PageURL returns the URL of the given 1-based page using the pagination
// url_pattern, or "" when the site has no pattern.
func (c *SiteConfig) PageURL(page int) string {
	if c.Pagination == nil || c.Pagination.URLPattern == "" {
		return ""
	}
	suffix := strings.ReplaceAll(c.Pagination.URLPattern, "{page}", fmt.Sprint(page))
	if strings.HasPrefix(suffix, "http://") || strings.HasPrefix(suffix, "https://") {
		return suffix
	}
	return c.BaseURL + suffix
}

var ErrInvalidConfig = errors.New("invalid site config")

func (c *SiteConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Name == "" {
		add("name is required")
	} else if strings.ContainsAny(c.Name, " \t") || strings.ToLower(c.Name) != c.Name {
		add("name %q must be lowercase without spaces", c.Name)
	}
	if c.DisplayName == "" {
		add("display_name is required")
	}
	if !models.IsAbsoluteURL(c.BaseURL) {
		add("base_url %q must be an absolute http(s) url", c.BaseURL)
	}

	required := map[string]string{
		"listing":  c.Selectors.Listing,
		"title":    c.Selectors.Title,
		"url":      c.Selectors.URL,
		"location": c.Selectors.Location,
	}
	for _, key := range []string{"listing", "title", "url", "location"} {
		if required[key] == "" {
			add("missing required selector: %s", key)
		}
	}

	if c.RequestTimeout < 5 || c.RequestTimeout > 120 {
		add("request_timeout must be between 5 and 120, got %d", c.RequestTimeout)
	}
	if c.RateLimitDelay < 0.1 || c.RateLimitDelay > 10 {
		add("rate_limit_delay must be between 0.1 and 10, got %g", c.RateLimitDelay)
	}
	if c.MinResults < 0 {
		add("min_results must not be negative")
	}
	if c.Pagination != nil && c.Pagination.MaxPages < 1 {
		add("pagination.max_pages must be positive")
	}

	for i, m := range c.Markers {
		if m.Name == "" {
			add("markers[%d]: name is required", i)
		}
		if len(m.Patterns) == 0 {
			add("markers[%d]: at least one pattern is required", i)
		}
		if m.Priority != "" && !m.Priority.Valid() {
			add("markers[%d]: unknown priority %q", i, m.Priority)
		}
		for _, field := range m.SearchIn {
			if field != "title" && field != "description" {
				add("markers[%d]: cannot search in %q", i, field)
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Parse decodes and validates one YAML document.
func Parse(raw []byte) (*SiteConfig, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if cfg.Pagination != nil && cfg.Pagination.MaxPages == 0 {
		cfg.Pagination.MaxPages = defaultMaxPages
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads one site definition.
func Load(path string) (*SiteConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site config %s: %w", path, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Loader reads every *.yaml and *.yml file of a directory.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) Dir() string {
	return l.dir
}

// LoadAll returns all valid site definitions sorted by name. Broken files and
// duplicate names are logged and skipped; a missing directory yields nothing.
func (l *Loader) LoadAll() ([]*SiteConfig, error) {
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		return []*SiteConfig{}, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(l.dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	byName := make(map[string]*SiteConfig)
	for _, file := range files {
		cfg, err := Load(file)
		if err != nil {
			log.Printf("⚠️ Failed to load %s: %v", file, err)
			continue
		}
		if prev, ok := byName[cfg.Name]; ok {
			log.Printf("⚠️ Duplicate site name '%s' in %s (already defined in %s)", cfg.Name, file, prev.path)
			continue
		}
		byName[cfg.Name] = cfg
	}

	configs := make([]*SiteConfig, 0, len(byName))
	for _, cfg := range byName {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}

func (l *Loader) Enabled() ([]*SiteConfig, error) {
	all, err := l.LoadAll()
	if err != nil {
		return nil, err
	}

	enabled := make([]*SiteConfig, 0, len(all))
	for _, cfg := range all {
		if cfg.Enabled {
			enabled = append(enabled, cfg)
		}
	}
	return enabled, nil
}

// Validate checks a single file and returns a human readable verdict.
func Validate(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✓ Valid configuration for '%s'", cfg.DisplayName), nil
}
