package service

import (
	"regexp"
	"strings"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// Candidate sources reported by the family-name lookup.
const (
	SourceFamilyRegistry       = "family_registry"
	SourceFamilySameSurname    = "family_registry_same_surname"
	SourceFamilyUnknownSurname = "family_registry_unknown_surname"
)

var (
	reNameLabelPrefix = regexp.MustCompile(`^(?:患者氏名|患者名|氏名|受診者氏名|受診者|お名前)\s*[:：]?\s*`)
	reHonorificSuffix = regexp.MustCompile(`\s*(?:様|殿)\s*$`)
	reJPNameChars     = regexp.MustCompile(`^[\p{Hiragana}\p{Katakana}\p{Han}ー・\s]+$`)
)

var familyNonNameHints = []string{
	"調剤日", "発行日", "領収日", "受診日", "診療日", "保険", "負担", "番号",
	"請求", "合計", "領収", "薬局", "病院", "クリニック", "医院", "TEL", "FAX", "〒",
}

// FamilyNameExtractor resolves patient-name lines against the
// household's member registry. This is a dictionary/alias lookup with
// a fuzzy fallback, far simpler than the scored extractors.
type FamilyNameExtractor struct {
	rules config.FamilyRules
}

func NewFamilyNameExtractor(rules config.FamilyRules) *FamilyNameExtractor {
	return &FamilyNameExtractor{rules: rules}
}

func (e *FamilyNameExtractor) Extract(lines []dto.OCRLine) []dto.Candidate {
	var candidates []dto.Candidate
	for _, line := range lines {
		candidates = append(candidates, e.extractFromLine(line)...)
	}
	return candidates
}

func (e *FamilyNameExtractor) extractFromLine(line dto.OCRLine) []dto.Candidate {
	text := utils.NormalizeText(line.Text)
	seen := make(map[string]bool)
	var out []dto.Candidate

	for _, possibility := range namePossibilities(text, e.rules.NameLabels) {
		cleaned := normalizePersonName(possibility)
		key := utils.NormalizeNameKey(cleaned)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if !looksLikePersonName(cleaned) {
			continue
		}

		value, source, reason, score := e.resolve(cleaned)
		reasons := []string{reason}
		if utils.ContainsAny(text, e.rules.NameLabels) {
			score += 1.0
			reasons = append(reasons, "has_name_label")
		}
		if strings.HasSuffix(text, "様") || strings.HasSuffix(text, "殿") {
			score += 0.4
			reasons = append(reasons, "has_honorific_suffix")
		}

		out = append(out, dto.Candidate{
			Field:             dto.FieldFamilyMemberName,
			ValueRaw:          text,
			ValueNormalized:   value,
			SourceLineIndices: []int{line.LineIndex},
			BBox:              line.BBox,
			Score:             score,
			OCRConfidence:     line.Confidence,
			Reasons:           reasons,
			Source:            source,
		})
	}
	return out
}

// resolve maps a detected name onto the registry: exact, alias, fuzzy
// (Levenshtein similarity), then surname-only matching.
func (e *FamilyNameExtractor) resolve(name string) (string, string, string, float64) {
	key := utils.NormalizeNameKey(name)
	if key == "" {
		return name, SourceFamilyUnknownSurname, "family_name_empty", 0.0
	}

	for _, member := range e.rules.Members {
		if utils.NormalizeNameKey(member.CanonicalName) == key {
			return member.CanonicalName, SourceFamilyRegistry, "family_name_exact_match", 6.2
		}
		for _, alias := range member.Aliases {
			if utils.NormalizeNameKey(alias) == key {
				return member.CanonicalName, SourceFamilyRegistry, "family_name_alias_match", 5.8
			}
		}
	}

	threshold := e.rules.FuzzyThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	bestSim := 0.0
	bestName := ""
	for _, member := range e.rules.Members {
		for _, known := range append([]string{member.CanonicalName}, member.Aliases...) {
			if sim := utils.NameSimilarity(name, known); sim > bestSim {
				bestSim = sim
				bestName = member.CanonicalName
			}
		}
	}
	if bestName != "" && bestSim >= threshold {
		return bestName, SourceFamilyRegistry, "family_name_alias_fuzzy_match", 5.2
	}

	for _, member := range e.rules.Members {
		surname := surnameOf(member.CanonicalName)
		if surname != "" && strings.HasPrefix(key, utils.NormalizeNameKey(surname)) {
			return name, SourceFamilySameSurname, "family_name_unregistered_same_surname", 4.0
		}
	}
	return name, SourceFamilyUnknownSurname, "family_name_unregistered_different_surname", 4.0
}

func namePossibilities(text string, labels []string) []string {
	var out []string
	if utils.ContainsAny(text, labels) {
		if stripped := strings.Trim(reNameLabelPrefix.ReplaceAllString(text, ""), " :："); stripped != "" {
			out = append(out, stripped)
		}
	}
	if strings.HasSuffix(text, "様") || strings.HasSuffix(text, "殿") {
		if stripped := strings.TrimSpace(reHonorificSuffix.ReplaceAllString(text, "")); stripped != "" {
			out = append(out, stripped)
		}
	}
	return append(out, text)
}

func normalizePersonName(text string) string {
	cleaned := utils.NormalizeText(text)
	cleaned = reNameLabelPrefix.ReplaceAllString(cleaned, "")
	cleaned = reHonorificSuffix.ReplaceAllString(cleaned, "")
	return strings.Trim(cleaned, " :：")
}

func looksLikePersonName(text string) bool {
	t := utils.NormalizeText(text)
	if t == "" {
		return false
	}
	if utils.ContainsAny(t, familyNonNameHints) {
		return false
	}
	if utils.CountDigits(t) > 0 {
		return false
	}
	compact := utils.CompactText(t)
	if n := len([]rune(compact)); n < 2 || n > 24 {
		return false
	}
	return reJPNameChars.MatchString(t)
}

func surnameOf(canonical string) string {
	cleaned := normalizePersonName(canonical)
	if cleaned == "" {
		return ""
	}
	parts := strings.Fields(cleaned)
	if len(parts) >= 2 && parts[0] != "" {
		return parts[0]
	}
	runes := []rune(cleaned)
	if len(runes) >= 2 {
		return string(runes[:2])
	}
	return cleaned
}
