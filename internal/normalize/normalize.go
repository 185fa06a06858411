// Package normalize converts raw spreadsheet cell values into typed,
// canonical forms shared by the mapping, validation and import stages.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order. ISO variants first because exports
// from most payment providers use them.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05.999999",
	"02.01.2006",
	"02/01/2006",
	"2006/01/02",
	"2006.01.02",
	"02-01-2006",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
}

var (
	numericKeep = regexp.MustCompile(`[^\d,.\-]`)
	headerJunk  = regexp.MustCompile(`[^a-z0-9а-я]+`)
)

// Rules controls optional canonicalisation applied to a cell before it
// is matched against value mappings or written to a dimension column.
type Rules struct {
	Trim      bool `json:"trim"`
	Lowercase bool `json:"lowercase"`
	Uppercase bool `json:"uppercase"`
}

// Apply runs the configured rules over a raw cell value. Order matters:
// trim first, then case folding, uppercase winning when both are set.
func (r Rules) Apply(value string) string {
	out := value
	if r.Trim {
		out = strings.TrimSpace(out)
	}
	if r.Lowercase {
		out = strings.ToLower(out)
	}
	if r.Uppercase {
		out = strings.ToUpper(out)
	}
	return out
}

// ParseDate parses a cell into a calendar date, trying each supported
// layout in turn. Time-of-day components are discarded.
func ParseDate(value string) (time.Time, bool) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseFloat parses a localized money cell. It tolerates non-breaking
// and regular spaces as thousand separators, currency symbols, and
// either comma or dot as the decimal separator. When both separators
// are present the comma is treated as a thousands separator.
func ParseFloat(value string) (float64, bool) {
	cleaned := strings.ReplaceAll(value, " ", " ")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = numericKeep.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return 0, false
	}
	if strings.Contains(cleaned, ",") && strings.Contains(cleaned, ".") {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Header canonicalises a column header for fuzzy matching against
// suggestion keywords: lowercase, with every run of characters outside
// latin letters, digits and Cyrillic collapsed to a single space.
func Header(header string) string {
	lowered := strings.ToLower(strings.TrimSpace(header))
	return strings.TrimSpace(headerJunk.ReplaceAllString(lowered, " "))
}

// Truncate limits a string to max runes. Dimension columns in the fact
// tables carry fixed widths and imports must never fail on long cells.
func Truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
