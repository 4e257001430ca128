package utils

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFKC normalization (full-width digits, currency
// marks and latin letters fold to their ASCII forms, half-width kana to
// full-width), strips control characters and collapses runs of
// whitespace to a single space.
func NormalizeText(s string) string {
	normed := norm.NFKC.String(s)
	normed = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, normed)
	return strings.Join(strings.Fields(normed), " ")
}

// CompactText removes all whitespace after NFKC normalization.
func CompactText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), "")
}

// ContainsAny reports whether text contains at least one keyword.
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// CountDigits counts ASCII digits in text.
func CountDigits(text string) int {
	n := 0
	for _, r := range text {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Clamp01 clamps v into [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScoreToUnit maps an additive rule score onto [0,1] against an
// expected maximum.
func ScoreToUnit(score, low, high float64) float64 {
	if high <= low {
		return 0
	}
	return Clamp01((score - low) / (high - low))
}

// CompactTimestamp is a filename/id-safe UTC timestamp.
func CompactTimestamp() string {
	return time.Now().UTC().Format("20060102T150405")
}
