package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"wohnung-hunter/internal/changes"
)

// appendHistory appends one JSON line per change to <site>_history.jsonl.
func (s *SiteStorage) appendHistory(site string, list []changes.Change) error {
	path := s.historyFile(site)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, c := range list {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("failed to write history for %s: %w", site, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush history for %s: %w", site, err)
	}
	return nil
}

// GetChangeHistory reads a site's change log most recent first. A positive
// limit caps the number of returned changes.
func (s *SiteStorage) GetChangeHistory(site string, limit int) ([]changes.Change, error) {
	f, err := os.Open(s.historyFile(site))
	if os.IsNotExist(err) {
		return []changes.Change{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history for %s: %w", site, err)
	}
	defer f.Close()

	var history []changes.Change
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var c changes.Change
		if err := json.Unmarshal(line, &c); err != nil {
			log.Printf("⚠️ Skipping malformed history line %d for %s: %v", lineNo, site, err)
			continue
		}
		history = append(history, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", site, err)
	}

	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	if history == nil {
		history = []changes.Change{}
	}
	return history, nil
}
