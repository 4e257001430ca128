package service

import (
	"sort"
	"time"

	"github.com/knakano/receipt-ocr-engine/config"
	"github.com/knakano/receipt-ocr-engine/dto"
	"github.com/knakano/receipt-ocr-engine/utils"
)

// DateExtractor finds date-like substrings (Gregorian and Japanese-era
// forms) and scores them by label proximity and page position. A date
// with no year component is kept as an explicitly-partial, low-priority
// candidate; it is never defaulted to the current year.
type DateExtractor struct {
	rules config.DateRules
	eras  []utils.Era
	now   func() time.Time
}

func NewDateExtractor(rules config.DateRules, eras []utils.Era, now func() time.Time) *DateExtractor {
	if now == nil {
		now = time.Now
	}
	return &DateExtractor{rules: rules, eras: eras, now: now}
}

func (e *DateExtractor) Extract(lines []dto.OCRLine) []dto.Candidate {
	today := e.now().UTC().Truncate(24 * time.Hour)

	var priorityLabelLines, deprioLabelLines []dto.OCRLine
	for _, line := range lines {
		text := utils.NormalizeText(line.Text)
		if utils.ContainsAny(text, e.rules.PriorityLabels) {
			priorityLabelLines = append(priorityLabelLines, line)
		}
		if utils.ContainsAny(text, e.rules.DepriorityLabels) {
			deprioLabelLines = append(deprioLabelLines, line)
		}
	}

	var candidates []dto.Candidate
	for _, line := range lines {
		text := utils.NormalizeText(line.Text)
		parsed, ok := utils.ParseDate(text, e.eras, today)
		if !ok {
			continue
		}

		score := 2.0
		var reasons []string
		sourceIndices := []int{line.LineIndex}
		bbox := line.BBox

		if utils.ContainsAny(text, e.rules.PriorityLabels) {
			score += e.rules.LabelBonus
			reasons = append(reasons, "has_preferred_date_label")
		} else if label, ok := nearbyLabelLine(line, priorityLabelLines); ok {
			score += e.rules.NearLabelBonus
			reasons = append(reasons, "near_preferred_date_label")
			sourceIndices = append(sourceIndices, label.LineIndex)
			if merged, ok := utils.MergeBBoxes([]dto.BBox{bbox, label.BBox}); ok {
				bbox = merged
			}
		}

		if utils.ContainsAny(text, e.rules.DepriorityLabels) {
			score -= e.rules.DeprioPenalty
			reasons = append(reasons, "has_lower_priority_date_label")
		} else if label, ok := nearbyLabelLine(line, deprioLabelLines); ok {
			score -= e.rules.DeprioPenalty
			reasons = append(reasons, "near_lower_priority_date_label")
			sourceIndices = append(sourceIndices, label.LineIndex)
			if merged, ok := utils.MergeBBoxes([]dto.BBox{bbox, label.BBox}); ok {
				bbox = merged
			}
		}

		if utils.IsTopRegion(line.BBox, 0.6) {
			score += e.rules.TopRegionBonus
			reasons = append(reasons, "top_middle_region_bonus")
		}

		switch {
		case parsed.Partial:
			score -= e.rules.PartialPenalty
			reasons = append(reasons, "year_missing_hold_candidate")
		case parsed.Date.After(today.AddDate(0, 0, e.rules.FutureGraceDays)):
			score -= e.rules.FuturePenalty
			reasons = append(reasons, "future_date_penalty")
		}
		if parsed.Inferred {
			score -= e.rules.InferredEraPenalty
			reasons = append(reasons, "era_inferred_without_marker")
		}
		if len(reasons) == 0 {
			reasons = append(reasons, "date_pattern_match")
		}

		sort.Ints(sourceIndices)
		candidates = append(candidates, dto.Candidate{
			Field:             dto.FieldPaymentDate,
			ValueRaw:          text,
			ValueNormalized:   parsed.ISO,
			SourceLineIndices: dedupInts(sourceIndices),
			BBox:              bbox,
			Score:             score,
			OCRConfidence:     line.Confidence,
			Reasons:           reasons,
			Source:            "generic",
		})
	}
	return candidates
}

func nearbyLabelLine(target dto.OCRLine, labels []dto.OCRLine) (dto.OCRLine, bool) {
	for _, label := range labels {
		if label.LineIndex == target.LineIndex {
			continue
		}
		if utils.IsNearLine(target, label, 0.04, 0.7) {
			return label, true
		}
	}
	return dto.OCRLine{}, false
}

func dedupInts(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
