package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// AmountMatch is one numeric run found in a line, with its position so
// callers can inspect the surrounding context.
type AmountMatch struct {
	Raw         string
	Value       int
	Start       int
	End         int
	HasCurrency bool
}

var reAmount = regexp.MustCompile(`(?:[¥￥]\s*)?(\d{1,3}(?:,\d{3})+|\d+)\s*円?`)

// FindAmounts returns every plausible yen amount in text. Run the text
// through NormalizeText first so full-width digits and marks are folded.
func FindAmounts(text string) []AmountMatch {
	var out []AmountMatch
	for _, loc := range reAmount.FindAllStringSubmatchIndex(text, -1) {
		whole := text[loc[0]:loc[1]]
		digits := text[loc[2]:loc[3]]
		value, ok := NormalizeAmount(digits)
		if !ok {
			continue
		}
		out = append(out, AmountMatch{
			Raw:         whole,
			Value:       value,
			Start:       loc[0],
			End:         loc[1],
			HasCurrency: strings.ContainsAny(whole, "¥￥") || strings.Contains(whole, "円"),
		})
	}
	return out
}

// NormalizeAmount strips currency marks and thousands separators and
// parses the remainder as a non-negative integer. Normalizing an
// already-normalized integer string is a no-op.
func NormalizeAmount(raw string) (int, bool) {
	cleaned := strings.NewReplacer(
		"¥", "", "￥", "", "円", "",
		",", "", "，", "", " ", "", "　", "",
	).Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return 0, false
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	value, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, false
	}
	return value, true
}
