package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Era maps a Japanese era name (and its single-letter abbreviation) to
// the Gregorian year of "era year 0". Era start years are a fixed
// table, never inferred: 令和1 = 2019, so the offset is 2018.
type Era struct {
	Name   string `yaml:"name"`
	Abbrev string `yaml:"abbrev"`
	Offset int    `yaml:"offset"`
}

// DefaultEras covers the eras a tax-deduction receipt can plausibly
// carry. An era outside this table is never guessed at.
func DefaultEras() []Era {
	return []Era{
		{Name: "令和", Abbrev: "R", Offset: 2018},
		{Name: "平成", Abbrev: "H", Offset: 1988},
		{Name: "昭和", Abbrev: "S", Offset: 1925},
	}
}

// ParsedDate is the outcome of parsing one date-like substring.
type ParsedDate struct {
	ISO      string    // "2026-02-22", or "02-22" when Partial
	Date     time.Time // zero when Partial
	Partial  bool      // year component missing, never defaulted
	Inferred bool      // era resolved without an explicit marker
}

var (
	reGregorian = regexp.MustCompile(`(\d{4})\s*[/\-.年]\s*(\d{1,2})\s*[/\-.月]\s*(\d{1,2})\s*日?`)
	reEraShort  = regexp.MustCompile(`([A-Za-z])\s*(\d{1,2})\s*[/\-.年]\s*(\d{1,2})\s*[/\-.月]\s*(\d{1,2})`)
	reShortYMD  = regexp.MustCompile(`(^|\D)(\d{1,2})\s*[/\-.]\s*(\d{1,2})\s*[/\-.]\s*(\d{1,2})(\D|$)`)
	reMonthDay  = regexp.MustCompile(`(^|\D)(\d{1,2})\s*[/\-.月]\s*(\d{1,2})\s*日?(\D|$)`)
)

// eraTextRegex matches the written era forms ("令和8年2月22日",
// "令和元年...") for every era in the table.
func eraTextRegex(eras []Era) *regexp.Regexp {
	names := make([]string, 0, len(eras))
	for _, era := range eras {
		names = append(names, regexp.QuoteMeta(era.Name))
	}
	return regexp.MustCompile(fmt.Sprintf(`(%s)\s*(元|\d{1,2})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日?`,
		strings.Join(names, "|")))
}

// ParseDate extracts the first date-like substring from text and
// normalizes it to an ISO calendar date. today anchors era
// disambiguation and is injected so runs stay deterministic.
func ParseDate(text string, eras []Era, today time.Time) (ParsedDate, bool) {
	if m := reGregorian.FindStringSubmatch(text); m != nil {
		if d, ok := buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return ParsedDate{ISO: d.Format("2006-01-02"), Date: d}, true
		}
	}

	if m := eraTextRegex(eras).FindStringSubmatch(text); m != nil {
		year := 1
		if m[2] != "元" {
			year = atoi(m[2])
		}
		for _, era := range eras {
			if era.Name != m[1] {
				continue
			}
			if d, ok := buildDate(era.Offset+year, atoi(m[3]), atoi(m[4])); ok {
				return ParsedDate{ISO: d.Format("2006-01-02"), Date: d}, true
			}
		}
	}

	unknownEraLetter := false
	if m := reEraShort.FindStringSubmatch(text); m != nil {
		letter := strings.ToUpper(m[1])
		known := false
		for _, era := range eras {
			if era.Abbrev != letter {
				continue
			}
			known = true
			if d, ok := buildDate(era.Offset+atoi(m[2]), atoi(m[3]), atoi(m[4])); ok {
				return ParsedDate{ISO: d.Format("2006-01-02"), Date: d}, true
			}
		}
		// A letter outside the era table is never guessed, and it also
		// blocks the eraless fallback for the digits it prefixes.
		unknownEraLetter = !known
	}

	if m := reShortYMD.FindStringSubmatch(text); m != nil && !unknownEraLetter {
		if d, ok := resolveEralessYMD(atoi(m[2]), atoi(m[3]), atoi(m[4]), eras, today); ok {
			return ParsedDate{ISO: d.Format("2006-01-02"), Date: d, Inferred: true}, true
		}
	}

	if m := reMonthDay.FindStringSubmatch(text); m != nil {
		month, day := atoi(m[2]), atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return ParsedDate{ISO: fmt.Sprintf("%02d-%02d", month, day), Partial: true}, true
		}
	}

	return ParsedDate{}, false
}

// resolveEralessYMD treats a two-digit leading year ("8/2/22") as an
// era year with the marker dropped by OCR and picks the candidate
// closest to today, preferring dates not far in the future.
func resolveEralessYMD(year, month, day int, eras []Era, today time.Time) (time.Time, bool) {
	if year <= 0 {
		return time.Time{}, false
	}
	var candidates []time.Time
	for _, era := range eras {
		if d, ok := buildDate(era.Offset+year, month, day); ok {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return time.Time{}, false
	}

	horizon := today.AddDate(0, 1, 0)
	var pool []time.Time
	for _, d := range candidates {
		if !d.After(horizon) {
			pool = append(pool, d)
		}
	}
	if len(pool) == 0 {
		pool = candidates
	}

	best := pool[0]
	for _, d := range pool[1:] {
		if absDays(today, d) < absDays(today, best) {
			best = d
		}
	}
	return best, true
}

func buildDate(year, month, day int) (time.Time, bool) {
	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func absDays(a, b time.Time) float64 {
	d := a.Sub(b).Hours() / 24
	if d < 0 {
		return -d
	}
	return d
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
