package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	recencyUnits = strings.NewReplacer(
		"months", "mo", "month", "mo",
		"years", "yr", "year", "yr",
		"weeks", "w", "week", "w",
		"days", "d", "day", "d",
	)
	recencyAmount = regexp.MustCompile(`(\d+)\s*(mo|yr|w|d)\b`)
	// recencyPhrase finds a relative date inside free card text.
	recencyPhrase = regexp.MustCompile(`(?i)\d+\s*(?:mo|yr|w|d)\s*ago|\d+\s*(?:months?|years?|weeks?|days?)\s*ago`)
)

// ResolveRelative turns text such as "Applied 11mo ago" or "2 weeks ago" into
// an absolute date relative to now. ok is false when no amount is found.
func ResolveRelative(text string, now time.Time) (time.Time, bool) {
	norm := recencyUnits.Replace(strings.ToLower(text))
	m := recencyAmount.FindStringSubmatch(norm)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	switch m[2] {
	case "mo":
		return now.AddDate(0, -n, 0), true
	case "yr":
		return now.AddDate(-n, 0, 0), true
	case "w":
		return now.AddDate(0, 0, -7*n), true
	default:
		return now.AddDate(0, 0, -n), true
	}
}

// FindRecency extracts the first relative-date phrase from text.
func FindRecency(text string) string {
	return recencyPhrase.FindString(text)
}
