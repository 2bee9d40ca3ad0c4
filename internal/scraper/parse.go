package scraper

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()

	cssRuleRegex     = regexp.MustCompile(`\.css-[^;]+;|\.css-[^}]+}`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	currencyRegex    = regexp.MustCompile(`[€$£\s\x{00a0}]`)
	euroDecimalRegex = regexp.MustCompile(`,\d{1,2}\D*$`)
	thousandsRegex   = regexp.MustCompile(`(^|[^\d.])\d{1,3}(\.\d{3})+(\D|$)`)
	numberRegex      = regexp.MustCompile(`\d+\.?\d*`)
	sizeRegex        = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(?:m²|m2|sqm)`)
)

// CleanText strips markup and inline CSS from scraped text and collapses
// whitespace.
func CleanText(text string) string {
	text = strictPolicy.Sanitize(text)
	text = html.UnescapeString(text)
	text = cssRuleRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ParsePrice reads amounts like "€ 1.200,50", "1.200,5", "1,200.50", "1.200"
// or "850". One or two digits after a trailing comma are decimals.
func ParsePrice(s string) *float64 {
	cleaned := currencyRegex.ReplaceAllString(s, "")

	switch {
	case euroDecimalRegex.MatchString(cleaned):
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case thousandsRegex.MatchString(cleaned):
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	default:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	return parseFloat(numberRegex.FindString(cleaned))
}

// ParseSize reads the number in front of m², m2 or sqm.
func ParseSize(s string) *float64 {
	m := sizeRegex.FindStringSubmatch(strings.ReplaceAll(s, ",", "."))
	if m == nil {
		return nil
	}
	return parseFloat(m[1])
}

// ParseRooms reads the first number, allowing "2,5 Zimmer".
func ParseRooms(s string) *float64 {
	return parseFloat(numberRegex.FindString(strings.ReplaceAll(s, ",", ".")))
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "."), 64)
	if err != nil {
		return nil
	}
	return &v
}
